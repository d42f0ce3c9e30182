package registry

import (
	"testing"
	"time"
)

func TestMemoryRegistry(t *testing.T) {
	reg := NewMemoryRegistry()
	updates := reg.Watch("Arith")

	if err := reg.Register("Arith", WorkerInfo{Addr: ":8001", Weight: 1}, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("Arith", WorkerInfo{Addr: ":8002", Weight: 2}, 10); err != nil {
		t.Fatal(err)
	}
	// Re-registering an address replaces the entry.
	if err := reg.Register("Arith", WorkerInfo{Addr: ":8001", Weight: 3}, 10); err != nil {
		t.Fatal(err)
	}

	workers, _ := reg.Discover("Arith")
	if len(workers) != 2 {
		t.Fatalf("expect 2 workers, got %d", len(workers))
	}
	for _, w := range workers {
		if w.Name != "Arith" {
			t.Fatalf("expect name Arith, got %q", w.Name)
		}
		if w.Addr == ":8001" && w.Weight != 3 {
			t.Fatalf("expect replaced weight 3, got %d", w.Weight)
		}
	}

	select {
	case latest := <-updates:
		if len(latest) != 2 {
			t.Fatalf("expect latest update with 2 workers, got %d", len(latest))
		}
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	reg.Deregister("Arith", ":8001")
	workers, _ = reg.Discover("Arith")
	if len(workers) != 1 || workers[0].Addr != ":8002" {
		t.Fatalf("expect only :8002, got %v", workers)
	}
	if latest := <-updates; len(latest) != 1 {
		t.Fatalf("expect update with 1 worker, got %d", len(latest))
	}

	if ws, _ := reg.Discover("Unknown"); len(ws) != 0 {
		t.Fatalf("expect no workers, got %v", ws)
	}
}
