// Package harness verifies that a snapshot of a running job faithfully
// captures its operator state under the three replication semantics:
// partitioned list, union list, and broadcast map.
//
// A verification run drives a deterministic job to a known state,
// triggers a snapshot while the job keeps running, re-reads that
// snapshot offline, and reconciles every state container against the
// reference sequence the source emitted.
package harness

import (
	"sync"
	"sync/atomic"

	"github.com/rburan/streamvet/internal/engine"
)

// CompletionFlag signals that the source has emitted its entire
// reference sequence. Set transitions it at most once per Reset.
type CompletionFlag struct {
	set atomic.Bool
}

// Set marks the flag. Reports whether this call was the transition.
func (f *CompletionFlag) Set() bool {
	return f.set.CompareAndSwap(false, true)
}

// IsSet reports whether the flag has been set.
func (f *CompletionFlag) IsSet() bool {
	return f.set.Load()
}

// Reset clears the flag for the next run.
func (f *CompletionFlag) Reset() {
	f.set.Store(false)
}

// DeterministicSource emits a fixed reference sequence exactly once,
// sets the completion flag, then parks until cancelled so the job stays
// alive for snapshotting.
type DeterministicSource struct {
	elements []int64
	flag     *CompletionFlag

	quit chan struct{}
	once sync.Once
}

// NewDeterministicSource creates a source for one job run.
func NewDeterministicSource(elements []int64, flag *CompletionFlag) *DeterministicSource {
	return &DeterministicSource{
		elements: elements,
		flag:     flag,
		quit:     make(chan struct{}),
	}
}

// Run emits the whole sequence and sets the flag inside one critical
// section of the checkpoint lock. A snapshot barrier can therefore
// never observe a partial emission: it sees either none of the
// sequence or all of it with the flag already set.
func (s *DeterministicSource) Run(ctx engine.SourceContext) error {
	lock := ctx.CheckpointLock()
	lock.Lock()
	for _, v := range s.elements {
		ctx.Collect(v)
	}
	s.flag.Set()
	lock.Unlock()

	<-s.quit
	return nil
}

// Cancel unparks Run. Idempotent.
func (s *DeterministicSource) Cancel() {
	s.once.Do(func() { close(s.quit) })
}
