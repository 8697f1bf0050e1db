package harness

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/rburan/streamvet/internal/core/domain"
	"github.com/rburan/streamvet/internal/engine"
	"github.com/rburan/streamvet/internal/snapshot"
	"github.com/rburan/streamvet/internal/telemetry/logger"
)

// Coordinator owns the full lifecycle of one job instance: submit,
// await running, await the deterministic state, trigger the snapshot,
// and tear the job down again on every path.
type Coordinator struct {
	cluster *engine.Cluster
	cfg     CoordinatorConfig
	log     logger.Logger
}

// CoordinatorConfig bounds and paces one coordination sequence.
type CoordinatorConfig struct {
	// Deadline is the single wall-clock budget for the whole sequence.
	// Every wait consumes from it; the snapshot trigger gets whatever
	// remains.
	Deadline time.Duration

	// PollInterval paces the status and completion-flag polling loops.
	PollInterval time.Duration

	// SnapshotDir is the snapshot destination directory.
	SnapshotDir string

	// Format is the snapshot format to request.
	Format domain.SnapshotFormat
}

// NewCoordinator creates a coordinator against the given cluster.
func NewCoordinator(cluster *engine.Cluster, cfg CoordinatorConfig, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Default()
	}
	return &Coordinator{cluster: cluster, cfg: cfg, log: log}
}

// TakeSnapshot submits the graph, waits for the source's completion
// flag, triggers a snapshot and returns its handle path. The job is
// cancelled unconditionally before returning; a cancellation failure is
// logged and never masks an earlier error. No step is retried.
func (c *Coordinator) TakeSnapshot(ctx context.Context, g *engine.Graph, flag *CompletionFlag) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	id, err := c.cluster.Submit(g)
	if err != nil {
		return "", err
	}

	defer func() {
		if cerr := c.cluster.Cancel(id); cerr != nil {
			c.log.Warn("teardown: job cancellation failed", "job_id", id, "error", cerr)
		} else {
			c.log.Info("teardown: job cancelled", "job_id", id)
		}
	}()

	if err := c.awaitRunning(ctx, id); err != nil {
		return "", err
	}
	if err := c.awaitDeterministicState(ctx, flag); err != nil {
		return "", err
	}

	trig, err := c.cluster.TriggerSnapshot(id, c.cfg.SnapshotDir, c.cfg.Format)
	if err != nil {
		return "", err
	}
	path, err := trig.Await(ctx)
	if err != nil {
		return "", err
	}

	// Confirm the metadata marker is visible on disk before handing the
	// path out; a snapshot without it is not materialized.
	if err := c.awaitDurable(ctx, path); err != nil {
		return "", err
	}

	c.log.Info("snapshot taken", "job_id", id, "path", path)
	return path, nil
}

// awaitRunning polls until the job is running or terminal. A terminal
// job unblocks the wait; its failure surfaces on the next step.
func (c *Coordinator) awaitRunning(ctx context.Context, id domain.JobID) error {
	lim := rate.NewLimiter(rate.Every(c.cfg.PollInterval), 1)
	for {
		st, err := c.cluster.Status(id)
		if err != nil {
			return err
		}
		if st == domain.StatusRunning || st.IsTerminal() {
			c.log.Info("job reached awaited condition", "job_id", id, "status", st)
			return nil
		}
		if err := lim.Wait(ctx); err != nil {
			return domain.ErrDeadlineExceeded.WithDetails("awaiting running job").WithCause(err)
		}
	}
}

// awaitDeterministicState polls the completion flag. A timeout here is
// a hard failure, never a silent skip.
func (c *Coordinator) awaitDeterministicState(ctx context.Context, flag *CompletionFlag) error {
	lim := rate.NewLimiter(rate.Every(c.cfg.PollInterval), 1)
	for !flag.IsSet() {
		if err := lim.Wait(ctx); err != nil {
			return domain.ErrStateNotReady.WithCause(err)
		}
	}
	return nil
}

func (c *Coordinator) awaitDurable(ctx context.Context, path string) error {
	err := snapshot.AwaitMetadata(ctx, path)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrSnapshotTimeout.WithCause(err)
	}
	return domain.ErrSnapshotFailed.WithCause(err)
}
