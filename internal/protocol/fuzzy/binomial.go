package fuzzy

import (
	"math"
	"sync"
)

// EdgeFalsePositive is the expected share of spurious matches among k
// observed matches out of n tested neighbors, when each test is a false
// positive with probability p: the mean of i/k under Binomial(n, p)
// conditioned on at most k successes. A NaN p counts every match as spurious.
func EdgeFalsePositive(k, n int, p float64) float64 {
	switch {
	case k <= 0:
		return 0
	case math.IsNaN(p) || p >= 1:
		return 1
	case p <= 0:
		return 0
	}
	if n < k {
		n = k
	}
	var (
		total, expect float64
		lnp, lnq      = math.Log(p), math.Log1p(-p)
		lnFactN       = lgamma(n + 1)
	)
	for i := 0; i <= k; i++ {
		lmass := lnFactN - lgamma(i+1) - lgamma(n-i+1) + float64(i)*lnp + float64(n-i)*lnq
		mass := math.Exp(lmass)
		total += mass
		expect += float64(i) / float64(k) * mass
	}
	if total == 0 {
		return 1
	}
	return expect / total
}

func lgamma(x int) float64 {
	v, _ := math.Lgamma(float64(x))
	return v
}

type memoKey struct {
	k, n int
	p    float64
}

// memo caches EdgeFalsePositive; the same (k, n, p) repeats across a graph.
type memo struct {
	mu     sync.Mutex
	values map[memoKey]float64
}

func (m *memo) get(k, n int, p float64) float64 {
	key := memoKey{k: k, n: n, p: p}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[memoKey]float64)
	}
	if v, ok := m.values[key]; ok {
		return v
	}
	v := EdgeFalsePositive(k, n, p)
	m.values[key] = v
	return v
}

func (m *memo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
