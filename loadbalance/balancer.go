// Package loadbalance picks among several read-only Redis replica
// connections for list-inspection operations (queue depth checks) in a
// master-replica backend. Writes (RPUSH/BLPOP/EXPIRE) always go straight to
// the master and never consult a Balancer.
//
// Two strategies are kept from the teacher's three:
//   - RoundRobin:     equal-capacity replicas
//   - WeightedRandom: heterogeneous replicas (different CPU/memory)
//
// The teacher's third strategy, consistent hashing, existed to give a
// stateful service cache affinity across repeated calls to the same key.
// Nothing in this transport has that concept — every replica holds the same
// data, and a read-replica pick never needs to land on the same instance
// twice in a row — so it isn't carried forward.
package loadbalance

import "fmt"

// Endpoint is one selectable replica.
type Endpoint struct {
	Addr   string // opaque key the caller uses to look up the underlying connection
	Weight int    // only consulted by WeightedRandomBalancer
}

// Balancer is the interface for load balancing strategies.
// Pick is called before every read-only operation — must be goroutine-safe.
type Balancer interface {
	Pick(endpoints []Endpoint) (*Endpoint, error)
	Name() string
}

var errNoEndpoints = fmt.Errorf("loadbalance: no endpoints available")
