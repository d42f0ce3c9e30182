package registry

import (
	"slices"
	"sync"
)

// MemoryRegistry is an in-process Registry for tests and single-host setups.
// TTLs are ignored: entries live until Deregister.
type MemoryRegistry struct {
	mu       sync.Mutex
	workers  map[string][]WorkerInfo
	watchers map[string][]chan []WorkerInfo
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		workers:  make(map[string][]WorkerInfo),
		watchers: make(map[string][]chan []WorkerInfo),
	}
}

// Register adds worker, replacing an entry with the same address.
func (m *MemoryRegistry) Register(serviceName string, worker WorkerInfo, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if worker.Name == "" {
		worker.Name = serviceName
	}
	ws := slices.DeleteFunc(m.workers[serviceName], func(w WorkerInfo) bool { return w.Addr == worker.Addr })
	m.workers[serviceName] = append(ws, worker)
	m.notify(serviceName)
	return nil
}

func (m *MemoryRegistry) Deregister(serviceName string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[serviceName] = slices.DeleteFunc(m.workers[serviceName], func(w WorkerInfo) bool { return w.Addr == addr })
	m.notify(serviceName)
	return nil
}

func (m *MemoryRegistry) Discover(serviceName string) ([]WorkerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.workers[serviceName]), nil
}

// Watch returns a channel that receives the full worker list after every
// change. A slow reader only sees the latest list.
func (m *MemoryRegistry) Watch(serviceName string) <-chan []WorkerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan []WorkerInfo, 1)
	m.watchers[serviceName] = append(m.watchers[serviceName], ch)
	return ch
}

// notify must be called with mu held.
func (m *MemoryRegistry) notify(serviceName string) {
	for _, ch := range m.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- slices.Clone(m.workers[serviceName])
	}
}
