package loadbalance

import "sync/atomic"

// RoundRobinBalancer distributes reads evenly across all replicas in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
//
// Best for: replicas with similar capacity.
type RoundRobinBalancer struct {
	counter int64
}

func (b *RoundRobinBalancer) Pick(endpoints []Endpoint) (*Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, errNoEndpoints
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(endpoints))
	return &endpoints[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
