// Package cmap provides a concurrent-safe sharded map.
//
// It uses sharding to reduce lock contention, providing better
// performance than sync.Map when many goroutines mutate disjoint keys.
package cmap

import (
	"fmt"
	"hash/maphash"
	"sync"
)

// DefaultShardCount is the default number of shards.
const DefaultShardCount = 16

// Map is a concurrent-safe sharded map.
type Map[K comparable, V any] struct {
	shards    []*shard[K, V]
	shardMask uint64
	seed      maphash.Seed
}

type shard[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// New creates a new sharded map with the default shard count.
func New[K comparable, V any]() *Map[K, V] {
	return NewWithShards[K, V](DefaultShardCount)
}

// NewWithShards creates a new sharded map with the specified shard count.
// shardCount must be a power of 2; invalid counts fall back to the default.
func NewWithShards[K comparable, V any](shardCount int) *Map[K, V] {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShardCount
	}

	m := &Map[K, V]{
		shards:    make([]*shard[K, V], shardCount),
		shardMask: uint64(shardCount - 1),
		seed:      maphash.MakeSeed(),
	}

	for i := range m.shards {
		m.shards[i] = &shard[K, V]{items: make(map[K]V)}
	}

	return m
}

func (m *Map[K, V]) getShard(key K) *shard[K, V] {
	var h maphash.Hash
	h.SetSeed(m.seed)
	h.WriteString(fmt.Sprintf("%v", key))
	return m.shards[h.Sum64()&m.shardMask]
}

// Get retrieves a value by key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.getShard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Set stores a key-value pair, overwriting any existing value.
func (m *Map[K, V]) Set(key K, value V) {
	s := m.getShard(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// Delete removes a key. It is a no-op if the key is absent.
func (m *Map[K, V]) Delete(key K) {
	s := m.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns the total number of entries across all shards.
func (m *Map[K, V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for each entry until fn returns false.
// The iteration order is unspecified. fn must not mutate the map.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Items returns a point-in-time copy of all entries.
// The copy is consistent per shard, not across shards.
func (m *Map[K, V]) Items() map[K]V {
	out := make(map[K]V, m.Len())
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			out[k] = v
		}
		s.mu.RUnlock()
	}
	return out
}

// Clear removes all entries.
func (m *Map[K, V]) Clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		s.items = make(map[K]V)
		s.mu.Unlock()
	}
}
