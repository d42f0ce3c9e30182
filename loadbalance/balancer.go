// Package loadbalance provides strategies for picking the worker that serves
// the next RPC among all workers registered for a service.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless services, equal-capacity workers
//   - WeightedRandom:  Heterogeneous workers (different CPU/memory)
//   - ConsistentHash:  Keyed routing, e.g. every message about one remote
//     reference goes to the same owner
package loadbalance

import (
	"errors"

	"dist-rpc/registry"
)

var ErrNoWorkers = errors.New("no workers available")

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each RPC to select a target worker.
type Balancer interface {
	// Pick selects one worker from the available list.
	// Called on every RPC call — must be goroutine-safe.
	Pick(workers []registry.WorkerInfo) (*registry.WorkerInfo, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
