package harness

import (
	"sync"
	"testing"
	"time"
)

func TestCompletionFlagSetOnce(t *testing.T) {
	var f CompletionFlag
	if f.IsSet() {
		t.Fatal("fresh flag already set")
	}
	if !f.Set() {
		t.Fatal("first Set was not the transition")
	}
	if f.Set() {
		t.Fatal("second Set reported a transition")
	}
	if !f.IsSet() {
		t.Fatal("flag not set after Set")
	}

	f.Reset()
	if f.IsSet() {
		t.Fatal("flag still set after Reset")
	}
	if !f.Set() {
		t.Fatal("Set after Reset was not the transition")
	}
}

// fakeSourceContext records collected elements under a plain mutex.
type fakeSourceContext struct {
	mu        sync.Mutex
	collected []int64
}

func (c *fakeSourceContext) CheckpointLock() sync.Locker { return &c.mu }

func (c *fakeSourceContext) Collect(v int64) { c.collected = append(c.collected, v) }

func TestDeterministicSourceEmitsThenParks(t *testing.T) {
	var flag CompletionFlag
	src := NewDeterministicSource([]int64{1, 2, 3}, &flag)
	ctx := &fakeSourceContext{}

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for !flag.IsSet() {
		select {
		case <-deadline:
			t.Fatal("completion flag never set")
		case <-time.After(time.Millisecond):
		}
	}

	// Emission is complete once the flag is set; the source must now be
	// parked, not returned.
	select {
	case err := <-done:
		t.Fatalf("source returned before cancellation: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	ctx.mu.Lock()
	got := append([]int64(nil), ctx.collected...)
	ctx.mu.Unlock()
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("collected = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("collected = %v, want %v", got, want)
		}
	}

	src.Cancel()
	src.Cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("source did not exit after Cancel")
	}
}
