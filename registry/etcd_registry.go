// Package registry provides the etcd-based implementation of the Registry interface.
//
// etcd is a distributed key-value store that provides strong consistency (Raft protocol).
// We use it as a "distributed phonebook" for RPC workers:
//
//	Key:   /dist-rpc/{ServiceName}/{Addr}
//	Value: JSON-encoded WorkerInfo
//
// Registration uses TTL-based leases: if the server crashes, the lease expires
// and the entry is automatically removed — preventing "ghost" instances.
package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/dist-rpc/"

func serviceKey(serviceName string) string {
	return keyPrefix + serviceName + "/"
}

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      zap.L().Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Close releases the etcd client. Leases kept alive by it expire after their TTL.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

// Register adds a worker to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
//
// Note: leaseID is a local variable, NOT stored on the struct.
// This prevents a data race when multiple servers share one EtcdRegistry instance
// (discovered via `go test -race`).
func (r *EtcdRegistry) Register(serviceName string, worker WorkerInfo, ttl int64) error {
	ctx := context.TODO()

	// Create a TTL-based lease — if KeepAlive stops, the entry auto-expires
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	if worker.Name == "" {
		worker.Name = serviceName
	}
	val, err := json.Marshal(worker)
	if err != nil {
		return err
	}

	// Store in etcd: key = /dist-rpc/{service}/{addr}, value = JSON metadata
	_, err = r.client.Put(ctx, serviceKey(serviceName)+worker.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// Start background lease renewal — KeepAlive sends heartbeats to etcd
	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a worker from etcd.
// Called during graceful shutdown before closing the listener.
func (r *EtcdRegistry) Deregister(serviceName string, addr string) error {
	ctx := context.TODO()
	_, err := r.client.Delete(ctx, serviceKey(serviceName)+addr)
	if err != nil {
		return err
	}
	return nil
}

// Watch monitors a service prefix in etcd and emits updated worker lists
// whenever changes occur (new registrations, deregistrations, lease expirations).
//
// Uses etcd's Watch API (server-push), which is more efficient than polling.
func (r *EtcdRegistry) Watch(serviceName string) <-chan []WorkerInfo {
	ctx := context.TODO()
	ch := make(chan []WorkerInfo, 1)
	prefix := serviceKey(serviceName)

	go func() {
		// Watch all keys under the service prefix
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full worker list
			// (simpler than parsing individual watch events)
			workers, err := r.Discover(serviceName)
			if err != nil {
				zap.L().Warn("etcd discover failed", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			ch <- workers
		}
	}()

	return ch
}

// Discover returns all currently registered workers for a service.
// Queries etcd with a key prefix to find all workers under /dist-rpc/{serviceName}/.
func (r *EtcdRegistry) Discover(serviceName string) ([]WorkerInfo, error) {
	ctx := context.TODO()
	prefix := serviceKey(serviceName)

	// Get all keys with the prefix
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	workers := make([]WorkerInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var worker WorkerInfo
		if err := json.Unmarshal(kv.Value, &worker); err != nil {
			zap.L().Warn("skipping malformed registry entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		workers = append(workers, worker)
	}

	return workers, nil
}
