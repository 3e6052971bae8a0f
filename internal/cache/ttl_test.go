package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTL_GetSet(t *testing.T) {
	t.Parallel()

	c := NewTTL[string, int](time.Minute, 10)
	_, ok := c.Get("missing")
	require.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestTTL_Expiry(t *testing.T) {
	t.Parallel()

	c := NewTTL[string, int](time.Minute, 10)
	base := time.Unix(1000, 0)
	c.now = func() time.Time { return base }
	c.Set("a", 1)

	c.now = func() time.Time { return base.Add(59 * time.Second) }
	_, ok := c.Get("a")
	require.True(t, ok)

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok = c.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestTTL_OldestEviction(t *testing.T) {
	t.Parallel()

	c := NewTTL[string, int](time.Minute, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	_, ok := c.Get("a")
	require.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get("b")
	require.True(t, ok)
	_, ok = c.Get("c")
	require.True(t, ok)
}

func TestTTL_SetExistingDoesNotEvict(t *testing.T) {
	t.Parallel()

	c := NewTTL[string, int](time.Minute, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 10, v)
	_, ok = c.Get("b")
	require.True(t, ok)
}
