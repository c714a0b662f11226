package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTL_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTL[int](time.Minute)
	c.now = func() time.Time { return now }

	c.Set("t1", "flows", 3)

	v, ok := c.Get("t1", "flows")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = c.Get("t2", "flows")
	assert.False(t, ok)

	now = now.Add(time.Minute)

	_, ok = c.Get("t1", "flows")
	assert.False(t, ok)
}

func TestTTL_InvalidateTenant(t *testing.T) {
	c := NewTTL[string](time.Hour)
	c.Set("t1", "a", "x")
	c.Set("t1", "b", "y")
	c.Set("t10", "a", "z")

	c.InvalidateTenant("t1")

	_, ok := c.Get("t1", "a")
	assert.False(t, ok)

	v, ok := c.Get("t10", "a")
	assert.True(t, ok)
	assert.Equal(t, "z", v)
	assert.Equal(t, 1, c.Len())
}

func TestTTL_GetOrLoad(t *testing.T) {
	c := NewTTL[int](time.Hour)
	calls := 0

	load := func() (int, error) {
		calls++

		return 7, nil
	}

	for range 3 {
		v, err := c.GetOrLoad("t1", "q", load)
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	}

	assert.Equal(t, 1, calls)

	_, err := c.GetOrLoad("t1", "other", func() (int, error) { return 0, errors.New("boom") })
	require.Error(t, err)

	_, ok := c.Get("t1", "other")
	assert.False(t, ok)
}

func TestTTL_ZeroDisables(t *testing.T) {
	c := NewTTL[int](0)
	c.Set("t1", "q", 1)

	_, ok := c.Get("t1", "q")
	assert.False(t, ok)
}
