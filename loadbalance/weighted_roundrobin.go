package loadbalance

import (
	"sync"
	"sync/atomic"

	"mesh-rpc/registry"
)

// counterMask keeps counters in the non-negative int32 range: the low-order
// bits of an unsigned increment, so wrap-around never yields a negative
// index or cursor.
const counterMask = 0x7fffffff

// wrrState is the per-(service, method) selection state. The uniform and
// weighted paths run on independent counters; idx starts at -1 so its first
// masked increment lands on candidate 0.
type wrrState struct {
	rr  atomic.Uint64 // uniform path cursor
	seq atomic.Uint64 // weighted path: weight baseline cursor
	idx atomic.Uint64 // weighted path: candidate cursor
}

func newWRRState() *wrrState {
	st := &wrrState{}
	st.idx.Store(^uint64(0))
	return st
}

// WeightedRoundRobin interleaves instances proportionally to their weights.
//
// Within one super-period of maxWeight rounds, the weight baseline `seq mod
// maxWeight` rises by one each time the candidate cursor completes a lap;
// only instances whose weight exceeds the baseline are eligible, so an
// instance of weight w is returned in exactly w of the maxWeight rounds.
// Rounds with a high baseline admit only the heaviest instances, so those
// are returned several times in a row (weights 5,1,1 repeat a,a,a,a,a,b,c).
// At baseline 0 every positive-weight instance qualifies, which bounds the
// retry loop.
//
// When all weights are equal (or all zero) selection degenerates to strict
// per-key round robin on a separate cursor.
//
// Selections may race: concurrent callers can observe slightly stale
// cursors, but every counter update is an atomic fetch-and-add, and the
// long-run ratio still converges to the weight proportions. No lock is held
// across the candidate list.
type WeightedRoundRobin struct {
	states sync.Map // key -> *wrrState, lazily created, never removed
}

// NewWeightedRoundRobin returns a balancer with fresh selection state. State
// is per instance, so independent balancers (and tests) never share cursors.
func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{}
}

func (b *WeightedRoundRobin) Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	maxWeight := 0
	minWeight := int(^uint(0) >> 1)
	positive := make([]*registry.ServiceInstance, 0, len(instances))
	for i := range instances {
		w := instances[i].Weight
		if w < 0 {
			w = 0
		}
		if w > maxWeight {
			maxWeight = w
		}
		if w < minWeight {
			minWeight = w
		}
		if w > 0 {
			positive = append(positive, &instances[i])
		}
	}

	st := b.state(key)

	if maxWeight > 0 && minWeight < maxWeight {
		// racing updates can momentarily skew the schedule; the masked
		// fetch-and-add keeps every observed cursor non-negative
		n := uint64(len(positive))
		for {
			i := (st.idx.Add(1) & counterMask) % n
			var baseline int
			if i == 0 {
				baseline = int(st.seq.Add(1)&counterMask) % maxWeight
			} else {
				baseline = int(st.seq.Load()&counterMask) % maxWeight
			}
			if candidate := positive[i]; candidate.Weight > baseline {
				return candidate, nil
			}
		}
	}

	// uniform path: equal weights (or all zero) mean plain rotation
	index := ((st.rr.Add(1) - 1) & counterMask) % uint64(len(instances))
	return &instances[index], nil
}

// state returns the per-key state, creating it on first use. A racing
// double-create collapses through LoadOrStore so exactly one state object
// per key survives.
func (b *WeightedRoundRobin) state(key string) *wrrState {
	if st, ok := b.states.Load(key); ok {
		return st.(*wrrState)
	}
	st, _ := b.states.LoadOrStore(key, newWRRState())
	return st.(*wrrState)
}

func (b *WeightedRoundRobin) Name() string {
	return "WeightedRoundRobin"
}
