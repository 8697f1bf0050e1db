// Package engine provides an in-process mini cluster that executes a
// job graph: one source subtask feeding N operator subtasks over a
// rebalanced primary edge and a broadcast edge, with barrier-based
// snapshot capture.
//
// The engine stands in for the external stream-execution collaborator:
// it owns task scheduling, the checkpoint lock, and snapshot partition
// writing, while the verification harness only talks to the submission,
// status, snapshot-trigger, and cancellation surface.
package engine

import (
	"sync"

	"github.com/rburan/streamvet/internal/engine/state"
)

// SourceContext is handed to a running source.
type SourceContext interface {
	// CheckpointLock returns the job's consistency lock. Elements must
	// be collected while holding it; a snapshot barrier can never
	// interleave a burst emitted inside the critical section.
	CheckpointLock() sync.Locker

	// Collect emits one element downstream.
	Collect(v int64)
}

// Source produces the job's input.
type Source interface {
	// Run emits elements until done, then blocks until cancelled.
	Run(ctx SourceContext) error

	// Cancel requests prompt exit of Run. It must be idempotent.
	Cancel()
}

// Operator is one parallel subtask of the stateful operator.
type Operator interface {
	// Open binds state handles against the subtask's store.
	Open(store *state.Store) error

	// ProcessElement handles one element from the primary input.
	ProcessElement(v int64) error

	// ProcessBroadcast handles one element from the broadcast input.
	ProcessBroadcast(v int64) error

	// SnapshotState flushes buffered state into the bound handles.
	// Called exactly once per snapshot request, under barrier alignment,
	// before the subtask's partition is written.
	SnapshotState() error
}

// Graph describes one job: a single-subtask source connected to a
// parallel two-input operator.
type Graph struct {
	// Name labels the job in logs.
	Name string

	// Parallelism is the operator parallelism, >= 1.
	Parallelism int

	// Source produces the input stream.
	Source Source

	// Operator constructs one operator instance per subtask.
	Operator func() Operator

	// Routing selects how elements are routed on the primary edge.
	// Defaults to RouteRebalance.
	Routing Routing
}
