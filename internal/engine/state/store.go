// Package state provides the per-subtask operator state store.
//
// Operators bind named state handles through descriptors. All list
// handles share one write path; the redistribution policy attached at
// binding time is metadata the snapshot reader consumes at restore,
// never a behavioral difference at write time.
package state

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rburan/streamvet/internal/core/domain"
	"github.com/rburan/streamvet/pkg/cmap"
)

// ListDescriptor identifies a list state container.
type ListDescriptor struct {
	Name string
}

// MapDescriptor identifies a broadcast map state container.
type MapDescriptor struct {
	Name string
}

// Store holds the state containers of one operator subtask.
type Store struct {
	subtask int

	mu         sync.Mutex
	lists      map[string]*List
	broadcasts map[string]*Broadcast
}

// NewStore creates an empty store for one subtask.
func NewStore(subtask int) *Store {
	return &Store{
		subtask:    subtask,
		lists:      make(map[string]*List),
		broadcasts: make(map[string]*Broadcast),
	}
}

// Subtask returns the owning subtask index.
func (s *Store) Subtask() int {
	return s.subtask
}

// ListState binds a list handle with partitioned redistribution.
func (s *Store) ListState(d ListDescriptor) (*List, error) {
	return s.bindList(d, domain.RedistributePartitioned)
}

// UnionListState binds a list handle with union redistribution.
func (s *Store) UnionListState(d ListDescriptor) (*List, error) {
	return s.bindList(d, domain.RedistributeUnion)
}

func (s *Store) bindList(d ListDescriptor, redist domain.Redistribution) (*List, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("state: list descriptor needs a name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.lists[d.Name]; ok {
		if existing.redist != redist {
			return nil, fmt.Errorf("state: %q already bound with %s redistribution", d.Name, existing.redist)
		}
		return existing, nil
	}

	l := &List{name: d.Name, redist: redist}
	s.lists[d.Name] = l
	return l, nil
}

// BroadcastState binds a broadcast map handle.
func (s *Store) BroadcastState(d MapDescriptor) (*Broadcast, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("state: map descriptor needs a name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.broadcasts[d.Name]; ok {
		return existing, nil
	}

	b := &Broadcast{name: d.Name, entries: cmap.New[int64, string]()}
	s.broadcasts[d.Name] = b
	return b, nil
}

// Export serializes every bound container for snapshotting, sorted by
// state name for deterministic partition files.
func (s *Store) Export() []domain.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.StateSnapshot, 0, len(s.lists)+len(s.broadcasts))
	for _, l := range s.lists {
		out = append(out, l.snapshot())
	}
	for _, b := range s.broadcasts {
		out = append(out, b.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List is a sequence-valued state handle.
type List struct {
	name   string
	redist domain.Redistribution

	mu    sync.Mutex
	elems []int64
}

// Update replaces the handle's content with the given elements.
func (l *List) Update(elements []int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.elems = append(l.elems[:0], elements...)
	return nil
}

// Add appends one element.
func (l *List) Add(v int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.elems = append(l.elems, v)
	return nil
}

// Get returns a copy of the handle's content.
func (l *List) Get() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int64, len(l.elems))
	copy(out, l.elems)
	return out
}

func (l *List) snapshot() domain.StateSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	elems := make([]int64, len(l.elems))
	copy(elems, l.elems)
	return domain.StateSnapshot{
		Name:           l.name,
		Kind:           domain.KindList,
		Redistribution: l.redist,
		Elements:       elems,
	}
}

// Broadcast is a map-valued state handle, replicated to every subtask
// by the broadcast input.
type Broadcast struct {
	name    string
	entries *cmap.Map[int64, string]
}

// Put inserts or overwrites one entry.
func (b *Broadcast) Put(key int64, value string) error {
	b.entries.Set(key, value)
	return nil
}

// Get looks up one entry.
func (b *Broadcast) Get(key int64) (string, bool) {
	return b.entries.Get(key)
}

// Len returns the number of entries.
func (b *Broadcast) Len() int {
	return b.entries.Len()
}

func (b *Broadcast) snapshot() domain.StateSnapshot {
	items := b.entries.Items()
	entries := make([]domain.BroadcastEntry, 0, len(items))
	for k, v := range items {
		entries = append(entries, domain.BroadcastEntry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return domain.StateSnapshot{
		Name:           b.name,
		Kind:           domain.KindBroadcast,
		Redistribution: domain.RedistributeBroadcast,
		Entries:        entries,
	}
}
