package loadbalance

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mesh-rpc/registry"
)

func pickN(t *testing.T, b Balancer, key string, instances []registry.ServiceInstance, n int) []string {
	t.Helper()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		inst, err := b.Pick(key, instances)
		require.NoError(t, err)
		out[i] = inst.Addr
	}
	return out
}

func count(picks []string) map[string]int {
	c := map[string]int{}
	for _, p := range picks {
		c[p]++
	}
	return c
}

func TestWRRUniform(t *testing.T) {
	instances := []registry.ServiceInstance{
		{Addr: "a", Weight: 1},
		{Addr: "b", Weight: 1},
		{Addr: "c", Weight: 1},
	}
	b := NewWeightedRoundRobin()
	picks := pickN(t, b, "demo.Greeter.SayHello", instances, 300)

	c := count(picks)
	assert.Equal(t, 100, c["a"])
	assert.Equal(t, 100, c["b"])
	assert.Equal(t, 100, c["c"])

	// equal weights degenerate to strict rotation
	for i, p := range picks {
		assert.Equal(t, instances[i%3].Addr, p, "position %d", i)
	}
}

func TestWRRAllZeroWeightsFallBackToUniform(t *testing.T) {
	instances := []registry.ServiceInstance{
		{Addr: "a", Weight: 0},
		{Addr: "b", Weight: 0},
	}
	b := NewWeightedRoundRobin()
	picks := pickN(t, b, "k", instances, 10)

	c := count(picks)
	assert.Equal(t, 5, c["a"])
	assert.Equal(t, 5, c["b"])
}

func TestWRRWeighted(t *testing.T) {
	instances := []registry.ServiceInstance{
		{Addr: "a", Weight: 5},
		{Addr: "b", Weight: 1},
		{Addr: "c", Weight: 1},
	}
	b := NewWeightedRoundRobin()
	picks := pickN(t, b, "demo.Greeter.SayHello", instances, 700)

	// one super-period is sum(weights) = 7 selections; 100 periods are exact
	c := count(picks)
	assert.Equal(t, 500, c["a"])
	assert.Equal(t, 100, c["b"])
	assert.Equal(t, 100, c["c"])

	// no candidate starves: every window of sum(weights) selections
	// contains all three
	for start := 0; start+7 <= len(picks); start++ {
		window := count(picks[start : start+7])
		assert.Len(t, window, 3, "window at %d: %v", start, picks[start:start+7])
	}
}

func TestWRRZeroWeightExcluded(t *testing.T) {
	instances := []registry.ServiceInstance{
		{Addr: "a", Weight: 2},
		{Addr: "b", Weight: 0},
		{Addr: "c", Weight: 1},
	}
	b := NewWeightedRoundRobin()
	picks := pickN(t, b, "k", instances, 300)

	c := count(picks)
	assert.Zero(t, c["b"])
	assert.Equal(t, 200, c["a"])
	assert.Equal(t, 100, c["c"])
}

func TestWRRNegativeWeightTreatedAsZero(t *testing.T) {
	instances := []registry.ServiceInstance{
		{Addr: "a", Weight: -7},
		{Addr: "b", Weight: 3},
	}
	b := NewWeightedRoundRobin()
	picks := pickN(t, b, "k", instances, 30)
	assert.Zero(t, count(picks)["a"])
}

func TestWRREmpty(t *testing.T) {
	b := NewWeightedRoundRobin()
	_, err := b.Pick("k", nil)
	assert.ErrorIs(t, err, ErrNoInstances)
}

func TestWRRKeysAreIndependent(t *testing.T) {
	instances := []registry.ServiceInstance{
		{Addr: "a", Weight: 1},
		{Addr: "b", Weight: 1},
	}
	b := NewWeightedRoundRobin()

	first, err := b.Pick("svc.M1", instances)
	require.NoError(t, err)
	// a different method starts its own rotation from the beginning
	other, err := b.Pick("svc.M2", instances)
	require.NoError(t, err)
	assert.Equal(t, first.Addr, other.Addr)
}

func TestWRRInstancesAreIndependent(t *testing.T) {
	instances := []registry.ServiceInstance{
		{Addr: "a", Weight: 1},
		{Addr: "b", Weight: 1},
	}
	b1 := NewWeightedRoundRobin()
	b2 := NewWeightedRoundRobin()

	pickN(t, b1, "k", instances, 3)
	// fresh balancer, fresh cursors
	inst, err := b2.Pick("k", instances)
	require.NoError(t, err)
	assert.Equal(t, "a", inst.Addr)
}

func TestWRRConcurrent(t *testing.T) {
	instances := []registry.ServiceInstance{
		{Addr: "a", Weight: 4},
		{Addr: "b", Weight: 2},
		{Addr: "c", Weight: 1},
	}
	b := NewWeightedRoundRobin()

	const goroutines = 8
	const perG = 700

	var wg sync.WaitGroup
	results := make([][]string, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			local := make([]string, 0, perG)
			for i := 0; i < perG; i++ {
				inst, err := b.Pick("k", instances)
				if err != nil {
					t.Error(err)
					return
				}
				local = append(local, inst.Addr)
			}
			results[g] = local
		}(g)
	}
	wg.Wait()

	c := map[string]int{}
	for _, local := range results {
		for _, p := range local {
			c[p]++
		}
	}
	total := goroutines * perG

	// under concurrency the schedule is not exact, but the long-run ratio
	// still converges to the weight proportions
	assert.InDelta(t, float64(total)*4/7, float64(c["a"]), float64(total)*0.05)
	assert.InDelta(t, float64(total)*2/7, float64(c["b"]), float64(total)*0.05)
	assert.InDelta(t, float64(total)*1/7, float64(c["c"]), float64(total)*0.05)
}
