package loadbalance

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"

	"mesh-rpc/registry"
)

// replicas is the virtual-node count per instance. Placing each instance at
// many ring positions evens out the load that raw hashing would otherwise
// cluster on a few arcs.
const replicas = 100

// ConsistentHashBalancer maps each call key to the ring position clockwise
// from the key's hash, so the same key keeps hitting the same instance
// until the instance set changes. Useful for stateful services and local
// caches.
//
// The ring is derived from the instance list passed to Pick and cached; it
// is rebuilt only when the set of addresses changes, so steady-state
// selection is one hash plus a binary search.
type ConsistentHashBalancer struct {
	mu          sync.Mutex
	fingerprint string
	ring        []uint32       // sorted virtual-node positions
	nodes       map[uint32]int // position -> index into instances snapshot
	instances   []registry.ServiceInstance
}

// NewConsistentHashBalancer returns a balancer with an empty ring.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{nodes: make(map[uint32]int)}
}

// Pick maps key onto the ring built from instances.
func (b *ConsistentHashBalancer) Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebuildIfChanged(instances)

	h := hashOf(key)
	// first virtual node clockwise from the key, wrapping past the top
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= h
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return &b.instances[b.nodes[b.ring[idx]]], nil
}

// rebuildIfChanged re-derives the ring when the address set differs from
// the cached one.
func (b *ConsistentHashBalancer) rebuildIfChanged(instances []registry.ServiceInstance) {
	fp := fingerprintOf(instances)
	if fp == b.fingerprint {
		return
	}

	b.fingerprint = fp
	b.instances = append(b.instances[:0:0], instances...)
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]int, len(instances)*replicas)

	for i := range b.instances {
		for r := 0; r < replicas; r++ {
			pos := hashOf(b.instances[i].Addr + "#" + strconv.Itoa(r))
			// on the rare position collision the first instance keeps it
			if _, taken := b.nodes[pos]; taken {
				continue
			}
			b.nodes[pos] = i
			b.ring = append(b.ring, pos)
		}
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

func hashOf(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// fingerprintOf identifies an instance set by its addresses, in order.
func fingerprintOf(instances []registry.ServiceInstance) string {
	var b []byte
	for i := range instances {
		b = append(b, instances[i].Addr...)
		b = append(b, ';')
	}
	return string(b)
}
