package registry

// WorkerInfo describes one worker process serving a service.
type WorkerInfo struct {
	Name    string // Service name the worker is registered under
	Addr    string // Routable host:port of the worker's RPC listener
	Weight  int    // Weight for load balancing
	Version string
}

type Registry interface {
	Register(serviceName string, worker WorkerInfo, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]WorkerInfo, error)
	Watch(serviceName string) <-chan []WorkerInfo
}
