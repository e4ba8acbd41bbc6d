package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonotonicNonDecreasing(t *testing.T) {
	c, err := NewMonotonic()
	require.NoError(t, err)

	prev := c.Now()
	for i := 0; i < 10000; i++ {
		now := c.Now()
		require.GreaterOrEqual(t, now, prev)
		prev = now
	}
}

func TestMonotonicAdvances(t *testing.T) {
	c, err := NewMonotonic()
	require.NoError(t, err)

	start := c.Now()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, c.Now()-start, uint64(2*time.Millisecond))
	assert.False(t, c.Base().IsZero())
}

func TestFunc(t *testing.T) {
	var ticks uint64
	c := Func(func() uint64 {
		ticks += 10
		return ticks
	})
	assert.Equal(t, uint64(10), c.Now())
	assert.Equal(t, uint64(20), c.Now())
}
