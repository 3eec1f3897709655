package loadbalance

import "math/rand"

// WeightedRandomBalancer selects a replica probabilistically based on its
// weight. A replica with weight 10 gets roughly 2x the read traffic of one
// with weight 5.
//
// Best for: heterogeneous replicas (e.g. some are bigger than others).
//
// Algorithm:
//  1. Sum all weights → totalWeight
//  2. Generate random number r in [0, totalWeight)
//  3. Subtract each endpoint's weight from r until r < 0
//  4. The endpoint that makes r negative is selected
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(endpoints []Endpoint) (*Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, errNoEndpoints
	}

	totalWeight := 0
	for _, e := range endpoints {
		totalWeight += e.Weight
	}
	if totalWeight <= 0 {
		return &endpoints[rand.Intn(len(endpoints))], nil
	}

	r := rand.Intn(totalWeight)
	for i := range endpoints {
		r -= endpoints[i].Weight
		if r < 0 {
			return &endpoints[i], nil
		}
	}
	return &endpoints[len(endpoints)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
