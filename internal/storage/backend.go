// Package storage provides the state backends a snapshot is restored
// into. A backend is a flat, ordered key-value space; the snapshot
// reader materializes decoded partitions into it and serves all typed
// reads from prefix scans.
package storage

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrKeyNotFound = errors.New("storage: key not found")
	ErrClosed      = errors.New("storage: backend closed")
)

// Backend types accepted by Open.
const (
	TypeMemory = "memory"
	TypeBadger = "badger"
)

// Backend is the restore target for snapshot state.
//
// Scan must visit keys in ascending byte order.
type Backend interface {
	Set(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Scan(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Type is the backend type: "memory" or "badger".
	Type string

	// Dir is the working directory (badger only).
	Dir string

	// SyncWrites forces synchronous writes (badger only).
	SyncWrites bool
}

// Open creates a backend from the config.
func Open(cfg Config) (Backend, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return NewMemory(), nil
	case TypeBadger:
		return NewBadger(cfg)
	default:
		return nil, fmt.Errorf("storage: unknown backend type %q", cfg.Type)
	}
}
