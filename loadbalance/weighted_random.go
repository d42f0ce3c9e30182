package loadbalance

import (
	"math/rand"

	"dist-rpc/registry"
)

// WeightedRandomBalancer picks a worker with probability proportional to its
// Weight. Workers with no positive weight are only picked when none has one.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(workers []registry.WorkerInfo) (*registry.WorkerInfo, error) {
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}

	totalWeight := 0
	for _, w := range workers {
		if w.Weight > 0 {
			totalWeight += w.Weight
		}
	}
	if totalWeight == 0 {
		return &workers[rand.Intn(len(workers))], nil
	}

	// Random number in [0, totalWeight)
	r := rand.Intn(totalWeight)
	for i := range workers {
		if workers[i].Weight <= 0 {
			continue
		}
		r -= workers[i].Weight
		if r < 0 {
			return &workers[i], nil
		}
	}
	return &workers[len(workers)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
