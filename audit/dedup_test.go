package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenSetObserve(t *testing.T) {
	seen := NewSeenSet(100, 50)

	assert.True(t, seen.Observe("e1"))
	assert.False(t, seen.Observe("e1"))
	assert.True(t, seen.Contains("e1"))
	assert.False(t, seen.Contains("e2"))
	assert.Equal(t, 1, seen.Len())
}

func TestSeenSetEvictsOldestHalf(t *testing.T) {
	seen := NewSeenSet(10, 5)

	for i := 0; i < 10; i++ {
		assert.True(t, seen.Observe(fmt.Sprintf("e%d", i)))
	}
	assert.Equal(t, 10, seen.Len())

	// The next observation triggers a coarse eviction of the oldest 5.
	assert.True(t, seen.Observe("overflow"))

	assert.False(t, seen.Contains("e0"))
	assert.False(t, seen.Contains("e4"))
	assert.True(t, seen.Contains("e5"))
	assert.True(t, seen.Contains("e9"))
	assert.True(t, seen.Contains("overflow"))
	assert.Equal(t, 6, seen.Len())

	// Evicted ids are admissible again.
	assert.True(t, seen.Observe("e0"))
}

func TestSeenSetDefaults(t *testing.T) {
	seen := NewSeenSet(0, 0)
	assert.True(t, seen.Observe("x"))
	assert.False(t, seen.Observe("x"))
}
