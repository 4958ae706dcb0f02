// Package loadbalance picks one instrument server out of the instances a registry returns.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  servers advertised with different weights
//   - ConsistentHash:  a client id or session key always lands on the same server
package loadbalance

import (
	"errors"
	"fmt"

	"instrument-rpc/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
// Pick is called on every connect and must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New builds a balancer from its config name. affinityKey is used by consistent_hash only.
func New(name, affinityKey string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(affinityKey), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown balancer %q", name)
}
