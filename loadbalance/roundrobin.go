package loadbalance

import (
	"sync/atomic"

	"mesh-rpc/registry"
)

// RoundRobinBalancer distributes requests evenly across all instances in
// order, ignoring weights. One atomic counter is shared across keys, so the
// rotation is global rather than per method.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

// Pick selects the next instance in rotation.
func (b *RoundRobinBalancer) Pick(_ string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	index := (b.counter.Add(1) - 1) % uint64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
