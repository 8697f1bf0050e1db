package engine

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/spaolacci/murmur3"
)

// Routing selects how elements are routed on the primary edge.
type Routing string

const (
	// RouteRebalance distributes elements round-robin across subtasks.
	RouteRebalance Routing = "rebalance"

	// RouteHash routes each element by MurmurHash3 of its value, so
	// equal values always land on the same subtask.
	RouteHash Routing = "hash"
)

type partitioner interface {
	pick(v int64, parallelism int) int
}

func newPartitioner(r Routing) (partitioner, error) {
	switch r {
	case "", RouteRebalance:
		return &rebalancePartitioner{}, nil
	case RouteHash:
		return hashPartitioner{}, nil
	default:
		return nil, fmt.Errorf("engine: unknown routing %q", r)
	}
}

type rebalancePartitioner struct {
	next atomic.Uint64
}

func (p *rebalancePartitioner) pick(v int64, parallelism int) int {
	return int((p.next.Add(1) - 1) % uint64(parallelism))
}

type hashPartitioner struct{}

func (hashPartitioner) pick(v int64, parallelism int) int {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return int(murmur3.Sum32(buf[:]) % uint32(parallelism))
}
