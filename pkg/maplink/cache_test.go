package maplink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetPut(t *testing.T) {
	c := NewCache(10, time.Hour)

	_, ok := c.Get("a")
	assert.False(t, ok)

	want := Result{Resolved: true, Extractor: "at_zoom"}
	c.Put("a", want)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, want, got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestCache_Eviction(t *testing.T) {
	c := NewCache(2, time.Hour)
	c.Put("a", Unresolvable(ReasonNoPattern))
	c.Put("b", Unresolvable(ReasonNoPattern))

	_, _ = c.Get("a") // a is now most recently used
	c.Put("c", Unresolvable(ReasonNoPattern))

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_TTL(t *testing.T) {
	c := NewCache(10, time.Minute)
	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("a", Result{Resolved: true})
	now = now.Add(30 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCache_ZeroCapacityDisables(t *testing.T) {
	c := NewCache(0, time.Hour)
	c.Put("a", Result{Resolved: true})
	_, ok := c.Get("a")
	assert.False(t, ok)
}
