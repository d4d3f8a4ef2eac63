package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func instances() []Instance {
	return []Instance{
		{ID: "a", Host: "10.0.0.1", Port: 8080, LastSeen: time.Now()},
		{ID: "b", Host: "10.0.0.2", Port: 8080, LastSeen: time.Now()},
		{ID: "c", Host: "10.0.0.3", Port: 8080, LastSeen: time.Now()},
	}
}

func TestRoundRobinCyclesStably(t *testing.T) {
	balancer := NewBalancer(StrategyRoundRobin, "fallback:80")

	var picks []string
	for i := 0; i < 6; i++ {
		addr, done := balancer.Pick(instances())
		done()
		picks = append(picks, addr)
	}

	assert.Equal(t, []string{
		"10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.3:8080",
		"10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.3:8080",
	}, picks)
}

func TestRoundRobinStableOrderRegardlessOfInput(t *testing.T) {
	balancer := NewBalancer(StrategyRoundRobin, "fallback:80")

	shuffled := []Instance{
		{ID: "c", Host: "10.0.0.3", Port: 8080},
		{ID: "a", Host: "10.0.0.1", Port: 8080},
		{ID: "b", Host: "10.0.0.2", Port: 8080},
	}

	addr, done := balancer.Pick(shuffled)
	done()
	assert.Equal(t, "10.0.0.1:8080", addr)
}

func TestFallbackOnEmpty(t *testing.T) {
	balancer := NewBalancer(StrategyRoundRobin, "fallback:80")

	addr, done := balancer.Pick(nil)
	done()
	assert.Equal(t, "fallback:80", addr)
}

func TestRandomPicksMember(t *testing.T) {
	balancer := NewBalancer(StrategyRandom, "fallback:80")

	valid := map[string]bool{
		"10.0.0.1:8080": true,
		"10.0.0.2:8080": true,
		"10.0.0.3:8080": true,
	}

	for i := 0; i < 20; i++ {
		addr, done := balancer.Pick(instances())
		done()
		assert.True(t, valid[addr], "unexpected pick %s", addr)
	}
}

func TestLeastConnectionsPrefersIdle(t *testing.T) {
	balancer := NewBalancer(StrategyLeastConnections, "fallback:80")

	// Hold two connections open on the first two instances.
	_, done1 := balancer.Pick(instances())
	_, done2 := balancer.Pick(instances())
	defer done1()
	defer done2()

	addr, done := balancer.Pick(instances())
	defer done()
	assert.Equal(t, "10.0.0.3:8080", addr)
}

func TestLeastConnectionsReleasesOnDone(t *testing.T) {
	balancer := NewBalancer(StrategyLeastConnections, "fallback:80")

	addr1, done1 := balancer.Pick(instances())
	done1()

	addr2, done2 := balancer.Pick(instances())
	done2()

	// With all connections released, the first instance stays the
	// least-loaded pick.
	assert.Equal(t, addr1, addr2)
}

func TestHealthWeightedPrefersFresh(t *testing.T) {
	balancer := NewBalancer(StrategyHealthWeighted, "fallback:80")

	now := time.Now()
	candidates := []Instance{
		{ID: "stale", Host: "10.0.0.1", Port: 8080, LastSeen: now.Add(-10 * time.Minute)},
		{ID: "fresh", Host: "10.0.0.2", Port: 8080, LastSeen: now},
	}

	freshPicks := 0
	const rounds = 200
	for i := 0; i < rounds; i++ {
		addr, done := balancer.Pick(candidates)
		done()
		if addr == "10.0.0.2:8080" {
			freshPicks++
		}
	}

	// The fresh instance carries almost all the weight.
	assert.Greater(t, freshPicks, rounds/2)
}
