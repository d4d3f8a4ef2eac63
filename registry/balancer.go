package registry

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Strategy selects among healthy instances of a peer service.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyRandom           Strategy = "random"
	StrategyHealthWeighted   Strategy = "health_weighted"
	StrategyLeastConnections Strategy = "least_connections"
)

// Balancer picks an instance per request. Round robin cycles in a
// stable order; health_weighted biases toward recently-refreshed
// instances; least_connections tracks in-flight requests released via
// the returned done func.
type Balancer struct {
	strategy Strategy
	fallback string

	mu       sync.Mutex
	cursor   int
	inflight map[string]int
}

// NewBalancer creates a balancer. fallback is the endpoint returned
// when no instance is available; consumers must tolerate transient
// empty lookups.
func NewBalancer(strategy Strategy, fallback string) *Balancer {
	return &Balancer{
		strategy: strategy,
		fallback: fallback,
		inflight: make(map[string]int),
	}
}

// Pick selects an endpoint from instances. done must be called when the
// request completes. Every strategy counts the pick as in flight and done
// releases it; only least_connections reads those counts.
func (b *Balancer) Pick(instances []Instance) (addr string, done func()) {
	if len(instances) == 0 {
		return b.fallback, func() {}
	}

	// Stable order regardless of registry enumeration order.
	sorted := make([]Instance, len(instances))
	copy(sorted, instances)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	b.mu.Lock()
	defer b.mu.Unlock()

	var chosen Instance
	switch b.strategy {
	case StrategyRandom:
		chosen = sorted[rand.Intn(len(sorted))]
	case StrategyHealthWeighted:
		chosen = pickHealthWeighted(sorted)
	case StrategyLeastConnections:
		chosen = sorted[0]
		for _, inst := range sorted[1:] {
			if b.inflight[inst.ID] < b.inflight[chosen.ID] {
				chosen = inst
			}
		}
	default: // round_robin
		chosen = sorted[b.cursor%len(sorted)]
		b.cursor++
	}

	b.inflight[chosen.ID]++
	id := chosen.ID
	return chosen.Addr(), func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.inflight[id] > 0 {
			b.inflight[id]--
		}
	}
}

// pickHealthWeighted weights instances by TTL freshness: an instance
// refreshed just now gets the highest weight, one near expiry the
// lowest.
func pickHealthWeighted(instances []Instance) Instance {
	now := time.Now()
	weights := make([]float64, len(instances))
	total := 0.0

	for i, inst := range instances {
		age := now.Sub(inst.LastSeen).Seconds()
		if age < 1 {
			age = 1
		}
		weights[i] = 1 / age
		total += weights[i]
	}

	target := rand.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if target <= acc {
			return instances[i]
		}
	}

	return instances[len(instances)-1]
}
