package harness

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/rburan/streamvet/internal/config"
	"github.com/rburan/streamvet/internal/core/domain"
	"github.com/rburan/streamvet/internal/engine"
	"github.com/rburan/streamvet/internal/snapshot"
	"github.com/rburan/streamvet/internal/storage"
	"github.com/rburan/streamvet/internal/telemetry/logger"
	"github.com/rburan/streamvet/internal/telemetry/metric"
	"github.com/rburan/streamvet/pkg/crypto/adaptive"
)

// Harness is the verification entry point. One harness owns its own
// cluster; a Run drives one job, takes one snapshot, and reconciles all
// three state containers against the reference sequence.
type Harness struct {
	cfg     config.Config
	cluster *engine.Cluster
	coord   *Coordinator
	cipher  adaptive.Cipher
	flag    *CompletionFlag
	log     logger.Logger
	metrics *metric.Registry
}

// Option configures the harness.
type Option func(*Harness)

// WithLogger sets the harness logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Harness) { h.log = l }
}

// New validates the configuration and builds a ready harness.
func New(cfg config.Config, opts ...Option) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Snapshot.Dir == "" {
		return nil, fmt.Errorf("harness: snapshot.dir is required")
	}

	h := &Harness{
		cfg:     cfg,
		flag:    &CompletionFlag{},
		log:     logger.Default(),
		metrics: metric.NewRegistry(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if cfg.Snapshot.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.Snapshot.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("harness: decode encryption key: %w", err)
		}
		h.cipher, err = adaptive.New(key)
		if err != nil {
			return nil, fmt.Errorf("harness: build cipher: %w", err)
		}
	}

	clusterOpts := []engine.Option{
		engine.WithLogger(h.log),
		engine.WithMetrics(h.metrics),
	}
	if h.cipher != nil {
		clusterOpts = append(clusterOpts, engine.WithCipher(h.cipher))
	}
	h.cluster = engine.NewCluster(clusterOpts...)

	h.coord = NewCoordinator(h.cluster, CoordinatorConfig{
		Deadline:     cfg.Job.Deadline,
		PollInterval: cfg.Job.PollInterval,
		SnapshotDir:  cfg.Snapshot.Dir,
		Format:       domain.SnapshotFormat(cfg.Snapshot.Format),
	}, h.log)

	return h, nil
}

// Snapshot runs one job to its deterministic state and returns the
// handle path of a materialized snapshot of it.
func (h *Harness) Snapshot(ctx context.Context) (string, error) {
	h.flag.Reset()

	g := &engine.Graph{
		Name:        "snapshot-verification",
		Parallelism: h.cfg.Job.Parallelism,
		Source:      NewDeterministicSource(h.cfg.Job.Elements, h.flag),
		Operator:    func() engine.Operator { return NewAccumulator() },
	}
	return h.coord.TakeSnapshot(ctx, g, h.flag)
}

// VerifyListState re-reads partitioned list state from the snapshot at
// path and reconciles it against the reference sequence.
func (h *Harness) VerifyListState(path string) error {
	return h.record(ListStateName, h.verifyList(path))
}

func (h *Harness) verifyList(path string) error {
	sess, err := h.open(path)
	if err != nil {
		return err
	}
	defer sess.Close()

	got, err := sess.ListState(ListStateName)
	if err != nil {
		return err
	}
	return reconcileElements(ListStateName, h.cfg.Job.Elements, got)
}

// VerifyUnionState re-reads union list state, reduced to one logical
// copy, and reconciles it against the reference sequence.
func (h *Harness) VerifyUnionState(path string) error {
	return h.record(UnionStateName, h.verifyUnion(path))
}

func (h *Harness) verifyUnion(path string) error {
	sess, err := h.open(path)
	if err != nil {
		return err
	}
	defer sess.Close()

	got, err := sess.UnionListState(UnionStateName, h.cfg.Snapshot.UnionReaders)
	if err != nil {
		return err
	}
	return reconcileElements(UnionStateName, h.cfg.Job.Elements, got)
}

// VerifyBroadcastState re-reads broadcast state, deduplicated across
// subtasks by key, and reconciles keys and stringified values
// independently.
func (h *Harness) VerifyBroadcastState(path string) error {
	return h.record(BroadcastStateName, h.verifyBroadcast(path))
}

func (h *Harness) verifyBroadcast(path string) error {
	sess, err := h.open(path)
	if err != nil {
		return err
	}
	defer sess.Close()

	entries, err := sess.BroadcastState(BroadcastStateName)
	if err != nil {
		return err
	}
	return reconcileBroadcast(BroadcastStateName, h.cfg.Job.Elements, entries)
}

// Run executes the whole verification: take one snapshot, then verify
// all three state semantics against it. The first failure wins.
func (h *Harness) Run(ctx context.Context) error {
	path, err := h.Snapshot(ctx)
	if err != nil {
		return err
	}

	if err := h.VerifyListState(path); err != nil {
		return err
	}
	if err := h.VerifyUnionState(path); err != nil {
		return err
	}
	if err := h.VerifyBroadcastState(path); err != nil {
		return err
	}

	h.log.Info("verification passed", "path", path)
	return nil
}

// Close shuts the harness's cluster down, cancelling any job still
// running.
func (h *Harness) Close() {
	h.cluster.Close()
}

// Metrics returns the harness metric registry.
func (h *Harness) Metrics() *metric.Registry {
	return h.metrics
}

func (h *Harness) record(state string, err error) error {
	outcome := "pass"
	if err != nil {
		outcome = "fail"
	}
	h.metrics.VerificationsTotal.WithLabelValues(state, outcome).Inc()
	return err
}

func (h *Harness) open(path string) (*snapshot.Session, error) {
	return snapshot.Open(path, snapshot.OpenConfig{
		Backend: storage.Config{
			Type: h.cfg.Snapshot.Backend,
			Dir:  h.cfg.Snapshot.BackendDir,
		},
		Cipher: h.cipher,
	})
}
