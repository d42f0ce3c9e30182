package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"dist-rpc/registry"
)

// ConsistentHashBalancer maps keys to workers using a hash ring.
// The same key always maps to the same worker (until the ring changes),
// which keeps all traffic about one object on one owner.
//
// Virtual nodes: each real worker is mapped to N virtual nodes on the ring.
// Without virtual nodes, 3 workers might cluster together on the ring,
// causing uneven load distribution. 100 virtual nodes per worker ensures
// statistical uniformity.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	mu       sync.RWMutex
	replicas int                             // Virtual nodes per real worker
	ring     []uint32                        // Sorted hash values on the ring
	nodes    map[uint32]*registry.WorkerInfo // Hash value → worker mapping
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per worker.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*registry.WorkerInfo),
	}
}

// Add places a worker onto the hash ring with N virtual nodes.
// Each virtual node is hashed from "{addr}#{i}" to spread evenly across the ring.
func (b *ConsistentHashBalancer) Add(worker *registry.WorkerInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", worker.Addr, i)))
		if _, taken := b.nodes[hash]; !taken {
			b.ring = append(b.ring, hash)
		}
		b.nodes[hash] = worker
	}
	// Keep the ring sorted for binary search in Pick()
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Reset replaces the ring with the given workers, e.g. after a registry Watch
// update.
func (b *ConsistentHashBalancer) Reset(workers []registry.WorkerInfo) {
	b.mu.Lock()
	b.ring = nil
	b.nodes = make(map[uint32]*registry.WorkerInfo)
	b.mu.Unlock()
	for i := range workers {
		b.Add(&workers[i])
	}
}

// Pick finds the worker responsible for the given key.
// It hashes the key, then binary-searches for the first node >= hash on the ring.
// If the hash is larger than all nodes, it wraps around to the first node (ring property).
//
// Pick takes a key instead of a worker list, so ConsistentHashBalancer does not
// implement Balancer; use Keyed to adapt it.
func (b *ConsistentHashBalancer) Pick(key string) (*registry.WorkerInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return nil, ErrNoWorkers
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

// Keyed is a Balancer that always routes to the owner of one key. The ring is
// rebuilt from the worker list on every Pick.
type Keyed struct {
	Key string
}

func (k Keyed) Pick(workers []registry.WorkerInfo) (*registry.WorkerInfo, error) {
	ring := NewConsistentHashBalancer()
	ring.Reset(workers)
	return ring.Pick(k.Key)
}

func (k Keyed) Name() string {
	return "ConsistentHash(" + k.Key + ")"
}
