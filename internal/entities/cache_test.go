package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCached_RecomputesOncePerClock tests that repeated reads against the
// same logical clock hit the cache.
func TestCached_RecomputesOncePerClock(t *testing.T) {
	var cache Cached[int]
	computes := 0
	compute := func() int {
		computes++
		return computes * 10
	}

	assert.Equal(t, 10, cache.Get(1, compute))
	assert.Equal(t, 10, cache.Get(1, compute))
	assert.Equal(t, 10, cache.Get(1, compute))
	assert.Equal(t, 1, computes)

	// A clock advance forces exactly one recompute.
	assert.Equal(t, 20, cache.Get(2, compute))
	assert.Equal(t, 20, cache.Get(2, compute))
	assert.Equal(t, 2, computes)
}

// TestCached_ZeroClockIsValidKey tests that the first computation is cached
// even when the clock has never advanced.
func TestCached_ZeroClockIsValidKey(t *testing.T) {
	var cache Cached[string]
	computes := 0
	compute := func() string {
		computes++
		return "value"
	}

	assert.Equal(t, "value", cache.Get(0, compute))
	assert.Equal(t, "value", cache.Get(0, compute))
	assert.Equal(t, 1, computes)
}

// TestCached_Invalidate tests the explicit invalidation path.
func TestCached_Invalidate(t *testing.T) {
	var cache Cached[int]
	computes := 0
	compute := func() int {
		computes++
		return computes
	}

	assert.Equal(t, 1, cache.Get(5, compute))
	cache.Invalidate()
	assert.Equal(t, 2, cache.Get(5, compute))
	assert.Equal(t, 2, computes)
}
