package harness

import (
	"strconv"

	"github.com/rburan/streamvet/internal/engine/state"
)

// State container names bound by the accumulator.
const (
	ListStateName      = "list"
	UnionStateName     = "union"
	BroadcastStateName = "broadcast"
)

// StatefulAccumulator is the stateful operator under verification. It
// buffers every primary-input element in memory and writes the buffer
// into both list handles only when a snapshot is taken; the difference
// between the two handles is entirely the redistribution policy applied
// at restore. Broadcast input mutates the map state directly.
type StatefulAccumulator struct {
	buf []int64

	list  *state.List
	union *state.List
	bcast *state.Broadcast
}

// NewAccumulator creates one operator subtask instance.
func NewAccumulator() *StatefulAccumulator {
	return &StatefulAccumulator{}
}

// Open binds the three state containers.
func (a *StatefulAccumulator) Open(st *state.Store) error {
	var err error
	if a.list, err = st.ListState(state.ListDescriptor{Name: ListStateName}); err != nil {
		return err
	}
	if a.union, err = st.UnionListState(state.ListDescriptor{Name: UnionStateName}); err != nil {
		return err
	}
	a.bcast, err = st.BroadcastState(state.MapDescriptor{Name: BroadcastStateName})
	return err
}

// ProcessElement appends to the private buffer; state handles are
// touched only at snapshot time.
func (a *StatefulAccumulator) ProcessElement(v int64) error {
	a.buf = append(a.buf, v)
	return nil
}

// ProcessBroadcast inserts (v, stringify(v)) into the broadcast map.
func (a *StatefulAccumulator) ProcessBroadcast(v int64) error {
	return a.bcast.Put(v, strconv.FormatInt(v, 10))
}

// SnapshotState flushes the buffer verbatim into both list handles.
// An error here fails the enclosing job; a partial flush must never
// produce a materialized snapshot.
func (a *StatefulAccumulator) SnapshotState() error {
	if err := a.list.Update(a.buf); err != nil {
		return err
	}
	return a.union.Update(a.buf)
}
