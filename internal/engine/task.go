package engine

import (
	"sync"
	"time"

	"github.com/rburan/streamvet/internal/core/domain"
	"github.com/rburan/streamvet/internal/engine/state"
	"github.com/rburan/streamvet/internal/snapshot"
	"github.com/rburan/streamvet/internal/telemetry/logger"
	"github.com/rburan/streamvet/internal/telemetry/metric"
)

// inputCapacity bounds each subtask input channel. Barrier injection
// holds the checkpoint lock, so a full channel would stall the trigger;
// the capacity is generous relative to reference-sequence sizes.
const inputCapacity = 1024

// message is one unit on a subtask input: an element or a barrier.
type message struct {
	value   int64
	barrier *barrier
}

// barrier requests a state flush from every subtask. Each subtask acks
// exactly once after writing its partition.
type barrier struct {
	writer *snapshot.Writer
	acks   chan error
}

type jobHandle struct {
	id      domain.JobID
	graph   *Graph
	part    partitioner
	log     logger.Logger
	metrics *metric.Registry

	// checkpointMu is the job's consistency lock: held by the source
	// for whole emission bursts, by barrier injection, and by input
	// close. A barrier can never land mid-burst.
	checkpointMu sync.Mutex
	inputsClosed bool

	primary   []chan message
	broadcast []chan message

	mu          sync.Mutex
	st          domain.JobStatus
	errMsg      string
	cancelled   bool
	submittedAt int64

	wg   sync.WaitGroup
	done chan struct{}
}

func newJobHandle(id domain.JobID, g *Graph, part partitioner, log logger.Logger, metrics *metric.Registry) *jobHandle {
	h := &jobHandle{
		id:          id,
		graph:       g,
		part:        part,
		log:         log.With("job_id", id),
		metrics:     metrics,
		primary:     make([]chan message, g.Parallelism),
		broadcast:   make([]chan message, g.Parallelism),
		st:          domain.StatusSubmitted,
		submittedAt: time.Now().UnixMilli(),
		done:        make(chan struct{}),
	}
	for i := 0; i < g.Parallelism; i++ {
		h.primary[i] = make(chan message, inputCapacity)
		h.broadcast[i] = make(chan message, inputCapacity)
	}
	return h
}

func (h *jobHandle) start() {
	h.metrics.JobsByStatus.WithLabelValues(string(domain.StatusSubmitted)).Inc()
	h.setStatus(domain.StatusRunning)

	for i := 0; i < h.graph.Parallelism; i++ {
		h.wg.Add(1)
		go h.runSubtask(i)
	}

	h.wg.Add(1)
	go h.runSource()

	go func() {
		h.wg.Wait()
		h.finish()
		close(h.done)
	}()
}

func (h *jobHandle) runSource() {
	defer h.wg.Done()

	ctx := &sourceContext{h: h}
	if err := h.graph.Source.Run(ctx); err != nil {
		h.fail(domain.ErrJobFailed.WithDetails("source").WithCause(err))
	}

	// The source is the only element producer; once it returns, the
	// inputs are complete. Close under the consistency lock so no
	// barrier injection races the close.
	h.checkpointMu.Lock()
	h.inputsClosed = true
	for i := range h.primary {
		close(h.primary[i])
		close(h.broadcast[i])
	}
	h.checkpointMu.Unlock()
}

type sourceContext struct {
	h *jobHandle
}

func (c *sourceContext) CheckpointLock() sync.Locker {
	return &c.h.checkpointMu
}

// Collect routes the element on the primary edge and replicates it on
// the broadcast edge. Must be called while holding the checkpoint lock.
func (c *sourceContext) Collect(v int64) {
	h := c.h
	idx := h.part.pick(v, h.graph.Parallelism)
	h.primary[idx] <- message{value: v}
	for i := range h.broadcast {
		h.broadcast[i] <- message{value: v}
	}
	h.metrics.ElementsEmitted.Inc()
}

func (h *jobHandle) runSubtask(idx int) {
	defer h.wg.Done()

	primary := h.primary[idx]
	bcast := h.broadcast[idx]
	var pending *barrier
	pSeen, bSeen := false, false

	// abort fails the job but keeps this subtask's inputs flowing, so
	// the source and barrier injection never block on a dead subtask.
	abort := func(err error) {
		h.fail(err)
		if pending != nil {
			pending.acks <- domain.ErrSnapshotFailed.WithDetails("subtask failed")
		}
		go h.drainInputs(primary, bcast)
	}

	op := h.graph.Operator()
	store := state.NewStore(idx)
	if err := op.Open(store); err != nil {
		abort(domain.ErrJobFailed.WithDetails("operator open").WithCause(err))
		return
	}

	for primary != nil || bcast != nil {
		// During alignment the input that already delivered its barrier
		// is blocked; a nil channel never selects.
		pCh, bCh := primary, bcast
		if pSeen {
			pCh = nil
		}
		if bSeen {
			bCh = nil
		}

		select {
		case m, ok := <-pCh:
			if !ok {
				primary = nil
				continue
			}
			if m.barrier != nil {
				pending = m.barrier
				pSeen = true
			} else if err := op.ProcessElement(m.value); err != nil {
				abort(domain.ErrJobFailed.WithDetails("process element").WithCause(err))
				return
			}
		case m, ok := <-bCh:
			if !ok {
				bcast = nil
				continue
			}
			if m.barrier != nil {
				pending = m.barrier
				bSeen = true
			} else if err := op.ProcessBroadcast(m.value); err != nil {
				abort(domain.ErrJobFailed.WithDetails("process broadcast").WithCause(err))
				return
			}
		}

		if pending != nil && (pSeen || primary == nil) && (bSeen || bcast == nil) {
			err := h.snapshotSubtask(op, store, idx, pending)
			pending.acks <- err
			pending = nil
			if err != nil {
				// A failed flush is fatal for the whole job; the
				// trigger side aborts the snapshot handle.
				go h.drainInputs(primary, bcast)
				return
			}
			pSeen, bSeen = false, false
		}
	}
}

// snapshotSubtask flushes operator state and writes this subtask's
// partition. Exactly once per barrier.
func (h *jobHandle) snapshotSubtask(op Operator, store *state.Store, idx int, b *barrier) error {
	if err := op.SnapshotState(); err != nil {
		return domain.ErrSnapshotFailed.WithDetails("state flush").WithCause(err)
	}
	if err := b.writer.WritePartition(idx, store.Export()); err != nil {
		return domain.ErrSnapshotFailed.WithCause(err)
	}
	return nil
}

// drainInputs consumes a dead subtask's inputs until the source closes
// them. Barriers still get an ack so a concurrent trigger fails fast
// instead of waiting out the whole job.
func (h *jobHandle) drainInputs(primary, bcast <-chan message) {
	for primary != nil || bcast != nil {
		var m message
		var ok bool
		select {
		case m, ok = <-primary:
			if !ok {
				primary = nil
				continue
			}
		case m, ok = <-bcast:
			if !ok {
				bcast = nil
				continue
			}
		}
		if m.barrier != nil {
			m.barrier.acks <- domain.ErrSnapshotFailed.WithDetails("subtask failed")
		}
	}
}

// injectBarrier enqueues the barrier behind all in-flight elements on
// every input of every subtask.
func (h *jobHandle) injectBarrier(b *barrier) error {
	h.checkpointMu.Lock()
	defer h.checkpointMu.Unlock()

	if h.inputsClosed {
		return domain.ErrJobNotRunning.WithDetails("inputs closed")
	}
	for i := range h.primary {
		h.primary[i] <- message{barrier: b}
		h.broadcast[i] <- message{barrier: b}
	}
	return nil
}

func (h *jobHandle) status() domain.JobStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.st
}

func (h *jobHandle) describe() domain.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return domain.Job{
		ID:          h.id,
		Name:        h.graph.Name,
		Parallelism: h.graph.Parallelism,
		Status:      h.st,
		SubmittedAt: h.submittedAt,
		Error:       h.errMsg,
	}
}

// setStatus transitions the lifecycle status. Terminal states are
// final; a later transition attempt is ignored.
func (h *jobHandle) setStatus(st domain.JobStatus) {
	h.mu.Lock()
	prev := h.st
	if prev == st || prev.IsTerminal() {
		h.mu.Unlock()
		return
	}
	h.st = st
	h.mu.Unlock()

	h.metrics.JobsByStatus.WithLabelValues(string(prev)).Dec()
	h.metrics.JobsByStatus.WithLabelValues(string(st)).Inc()
}

// fail marks the job failed and unparks the source. The first failure
// wins, message included; later ones only log.
func (h *jobHandle) fail(err error) {
	h.mu.Lock()
	first := !h.st.IsTerminal() && h.errMsg == ""
	if first {
		h.errMsg = err.Error()
	}
	h.mu.Unlock()

	if first {
		h.setStatus(domain.StatusFailed)
		h.log.Error("job failed", "error", err)
	} else {
		h.log.Warn("job already failing", "error", err)
	}
	h.graph.Source.Cancel()
}

// cancel requests cancellation and waits for all subtasks to exit.
func (h *jobHandle) cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()

	h.graph.Source.Cancel()
	<-h.done
}

// finish settles the terminal status once all goroutines exited.
func (h *jobHandle) finish() {
	h.mu.Lock()
	st := h.st
	cancelled := h.cancelled
	h.mu.Unlock()

	if st == domain.StatusFailed {
		return
	}
	if cancelled {
		h.setStatus(domain.StatusCancelled)
	} else {
		h.setStatus(domain.StatusFinished)
	}
}
