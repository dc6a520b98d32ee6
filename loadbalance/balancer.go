// Package loadbalance provides the strategies the caller side uses to pick
// one provider instance per call.
//
// Strategies:
//   - WeightedRoundRobin:  default; weight-proportional, per-method state
//   - RoundRobin:          strict rotation for equal-capacity instances
//   - WeightedRandom:      stateless weight-proportional choice
//   - ConsistentHash:      cache affinity for stateful services
package loadbalance

import (
	"errors"

	"mesh-rpc/registry"
)

// ErrNoInstances is returned when Pick is called with an empty candidate
// list. Callers treat it as a programming error at the call site.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer selects one instance from the available list. key identifies the
// call ("serviceKey.method") for strategies that keep per-method state.
// Pick runs on every RPC call and must be goroutine-safe.
type Balancer interface {
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
