package loadbalance

import (
	"sync/atomic"

	"dist-rpc/registry"
)

// RoundRobinBalancer distributes requests evenly across all workers in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobinBalancer struct {
	counter atomic.Uint64 // Incremented on each Pick()
}

func (b *RoundRobinBalancer) Pick(workers []registry.WorkerInfo) (*registry.WorkerInfo, error) {
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}
	index := b.counter.Add(1) % uint64(len(workers))
	return &workers[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
