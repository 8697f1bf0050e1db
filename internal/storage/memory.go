package storage

import (
	"bytes"
	"sort"
	"sync"
)

// Memory is an in-process backend. It is the default for read-back
// verification, where the restored state is small and ephemeral.
type Memory struct {
	mu     sync.RWMutex
	items  map[string][]byte
	closed bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

func (m *Memory) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.items[string(key)] = v
	return nil
}

func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.items[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Scan visits keys with the prefix in ascending byte order.
func (m *Memory) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)

	for _, k := range keys {
		m.mu.RLock()
		v, ok := m.items[k]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if !fn([]byte(k), v) {
			break
		}
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	return nil
}
