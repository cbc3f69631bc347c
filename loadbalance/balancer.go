// Package loadbalance picks which server instance receives a call.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  servers advertising different task worker counts
//   - ConsistentHash:  the same key (method name by default) sticks to one server
package loadbalance

import (
	"errors"

	"yar-rpc/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer selects one instance for a call. key identifies the call for
// key-affine strategies; the others ignore it. Pick is called on every call
// and must be goroutine-safe.
type Balancer interface {
	Pick(key string, instances []registry.ServiceInstance) (registry.ServiceInstance, error)
	Name() string
}

// New returns the balancer registered under name, defaulting to round robin.
func New(name string) Balancer {
	switch name {
	case "weighted_random", "WeightedRandom":
		return &WeightedRandomBalancer{}
	case "consistent_hash", "ConsistentHash":
		return NewConsistentHashBalancer()
	default:
		return &RoundRobinBalancer{}
	}
}
