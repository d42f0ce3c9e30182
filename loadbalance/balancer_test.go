package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"dist-rpc/registry"
)

var testWorkers = []registry.WorkerInfo{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all workers
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		w, err := b.Pick(testWorkers)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = w.Addr
	}
	if results[0] == results[1] || results[1] == results[2] || results[0] == results[2] {
		t.Fatalf("expect 3 distinct workers, got %v", results)
	}

	// Pick again, should wrap around to first
	w, _ := b.Pick(testWorkers)
	if w.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], w.Addr)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick([]registry.WorkerInfo{})
	if !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("expect ErrNoWorkers, got %v", err)
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		w, err := b.Pick(testWorkers)
		if err != nil {
			t.Fatal(err)
		}
		counts[w.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	workers := []registry.WorkerInfo{{Addr: ":1"}, {Addr: ":2"}}
	for i := 0; i < 100; i++ {
		if _, err := b.Pick(workers); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := b.Pick(nil); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("expect ErrNoWorkers, got %v", err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	if _, err := b.Pick("any"); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("expect ErrNoWorkers on empty ring, got %v", err)
	}
	for i := range testWorkers {
		b.Add(&testWorkers[i])
	}

	// Same key should always map to the same worker
	w1, _ := b.Pick("rref-123")
	w2, _ := b.Pick("rref-123")
	if w1.Addr != w2.Addr {
		t.Fatalf("same key mapped to different workers: %s vs %s", w1.Addr, w2.Addr)
	}

	// Different keys should (likely) map to different workers
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		w, _ := b.Pick(fmt.Sprintf("key-%d", i))
		seen[w.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different workers, got %d", len(seen))
	}

	// Keyed agrees with the ring built from the same workers.
	kw, err := Keyed{Key: "rref-123"}.Pick(testWorkers)
	if err != nil {
		t.Fatal(err)
	}
	if kw.Addr != w1.Addr {
		t.Fatalf("Keyed picked %s, ring picked %s", kw.Addr, w1.Addr)
	}
}
