package engine

import (
	"context"
	"time"

	"github.com/rburan/streamvet/internal/core/domain"
	"github.com/rburan/streamvet/internal/snapshot"
	"github.com/rburan/streamvet/internal/telemetry/logger"
	"github.com/rburan/streamvet/internal/telemetry/metric"
	"github.com/rburan/streamvet/pkg/cmap"
	"github.com/rburan/streamvet/pkg/crypto/adaptive"
)

// Cluster is the in-process execution engine. It owns every job
// submitted to it; Close cancels whatever is still running.
type Cluster struct {
	log     logger.Logger
	metrics *metric.Registry
	cipher  adaptive.Cipher
	jobs    *cmap.Map[domain.JobID, *jobHandle]
}

// Option configures the cluster.
type Option func(*Cluster)

// WithLogger sets the cluster logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cluster) { c.log = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metric.Registry) Option {
	return func(c *Cluster) { c.metrics = m }
}

// WithCipher enables at-rest encryption of snapshot partitions.
func WithCipher(ci adaptive.Cipher) Option {
	return func(c *Cluster) { c.cipher = ci }
}

// NewCluster creates an empty cluster.
func NewCluster(opts ...Option) *Cluster {
	c := &Cluster{
		log:     logger.Default(),
		metrics: metric.NewRegistry(),
		jobs:    cmap.New[domain.JobID, *jobHandle](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit validates the graph and starts executing it. The returned job
// is owned by the caller until cancelled.
func (c *Cluster) Submit(g *Graph) (domain.JobID, error) {
	if g == nil {
		return "", domain.ErrJobSubmission.WithDetails("nil graph")
	}
	if g.Parallelism < 1 {
		return "", domain.ErrJobSubmission.WithDetails("parallelism must be >= 1")
	}
	if g.Source == nil {
		return "", domain.ErrJobSubmission.WithDetails("graph has no source")
	}
	if g.Operator == nil {
		return "", domain.ErrJobSubmission.WithDetails("graph has no operator")
	}
	part, err := newPartitioner(g.Routing)
	if err != nil {
		return "", domain.ErrJobSubmission.WithCause(err)
	}

	id, err := domain.NewJobID()
	if err != nil {
		return "", err
	}

	h := newJobHandle(id, g, part, c.log, c.metrics)
	c.jobs.Set(id, h)
	h.start()

	c.log.Info("job submitted",
		"job_id", id,
		"name", g.Name,
		"parallelism", g.Parallelism)
	return id, nil
}

// Status returns the lifecycle status of a job.
func (c *Cluster) Status(id domain.JobID) (domain.JobStatus, error) {
	h, ok := c.jobs.Get(id)
	if !ok {
		return "", domain.ErrJobNotFound.WithDetails(string(id))
	}
	return h.status(), nil
}

// Job returns the full job descriptor, including any failure message.
func (c *Cluster) Job(id domain.JobID) (domain.Job, error) {
	h, ok := c.jobs.Get(id)
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound.WithDetails(string(id))
	}
	return h.describe(), nil
}

// SnapshotTrigger is the accepted snapshot request. The handle path is
// known immediately; materialization completes asynchronously.
type SnapshotTrigger struct {
	path string
	done chan error
}

// Path returns the snapshot handle path.
func (t *SnapshotTrigger) Path() string { return t.path }

// Done reports asynchronous completion: nil for a materialized
// snapshot, an error for an aborted one.
func (t *SnapshotTrigger) Done() <-chan error { return t.done }

// Await blocks until the snapshot is materialized or ctx expires.
func (t *SnapshotTrigger) Await(ctx context.Context) (string, error) {
	select {
	case err := <-t.done:
		if err != nil {
			return "", err
		}
		return t.path, nil
	case <-ctx.Done():
		return "", domain.ErrSnapshotTimeout.WithCause(ctx.Err())
	}
}

// TriggerSnapshot requests a durable, full snapshot of a running job
// into dir. Barriers are injected behind all in-flight elements; every
// subtask flushes and writes its partition, then the metadata marker
// materializes the snapshot.
func (c *Cluster) TriggerSnapshot(id domain.JobID, dir string, format domain.SnapshotFormat) (*SnapshotTrigger, error) {
	h, ok := c.jobs.Get(id)
	if !ok {
		return nil, domain.ErrJobNotFound.WithDetails(string(id))
	}
	if st := h.status(); st != domain.StatusRunning {
		return nil, domain.ErrJobNotRunning.WithDetails(string(st))
	}

	w, err := snapshot.NewWriter(snapshot.WriterConfig{
		Dir:         dir,
		JobID:       id,
		Format:      format,
		Parallelism: h.graph.Parallelism,
		Cipher:      c.cipher,
	})
	if err != nil {
		return nil, domain.ErrSnapshotFailed.WithCause(err)
	}

	trig := &SnapshotTrigger{path: w.Path(), done: make(chan error, 1)}
	c.metrics.SnapshotsTriggered.Inc()
	c.log.Info("snapshot trigger accepted", "job_id", id, "path", w.Path(), "format", format)

	start := time.Now()
	go func() {
		err := c.collectSnapshot(h, w)
		if err != nil {
			w.Abort()
			h.fail(err)
			c.metrics.SnapshotsFailed.Inc()
			c.log.Error("snapshot failed", "job_id", id, "error", err)
			trig.done <- err
			return
		}
		c.metrics.SnapshotsCompleted.Inc()
		c.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		c.log.Info("snapshot materialized", "job_id", id, "path", w.Path())
		trig.done <- nil
	}()
	return trig, nil
}

func (c *Cluster) collectSnapshot(h *jobHandle, w *snapshot.Writer) error {
	b := &barrier{
		writer: w,
		acks:   make(chan error, h.graph.Parallelism),
	}
	if err := h.injectBarrier(b); err != nil {
		return err
	}

	for i := 0; i < h.graph.Parallelism; i++ {
		select {
		case err := <-b.acks:
			if err != nil {
				return err
			}
		case <-h.done:
			return domain.ErrSnapshotFailed.WithDetails("job terminated before snapshot completed")
		}
	}

	if err := w.Finalize(); err != nil {
		return domain.ErrSnapshotFailed.WithCause(err)
	}
	return nil
}

// Cancel requests cancellation and waits for the job to terminate.
// Cancelling an already-terminal job is a no-op.
func (c *Cluster) Cancel(id domain.JobID) error {
	h, ok := c.jobs.Get(id)
	if !ok {
		return domain.ErrJobNotFound.WithDetails(string(id))
	}
	h.cancel()
	c.log.Info("job cancelled", "job_id", id, "status", h.status())
	return nil
}

// Close cancels every job still tracked by the cluster.
func (c *Cluster) Close() {
	c.jobs.Range(func(id domain.JobID, h *jobHandle) bool {
		h.cancel()
		return true
	})
}
