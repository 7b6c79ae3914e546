package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-insights/internal/insights"
)

var _ insights.DocumentCache = (*LRU[insights.PageDocument])(nil)
var _ insights.DocumentCache = Noop[insights.PageDocument]{}

func TestLRUGetSet(t *testing.T) {
	t.Parallel()

	c := NewLRU[insights.PageDocument](Config{})
	doc := insights.PageDocument{Page: insights.Page{Username: "acme"}}
	c.Set(insights.CacheKey("acme"), doc)

	got, ok := c.Get("page_acme")
	require.True(t, ok)
	assert.Equal(t, doc, got)

	_, ok = c.Get("page_other")
	assert.False(t, ok)
}

func TestLRUExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	c := NewLRU[string](Config{TTL: 50 * time.Millisecond})
	c.Set("k", "v")
	_, ok := c.Get("k")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestLRUCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := NewLRU[int](Config{Capacity: 2})
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestLRUObserver(t *testing.T) {
	t.Parallel()

	var hits, misses int
	c := NewLRU[int](Config{}, WithObserver(func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}))
	c.Get("x")
	c.Set("x", 1)
	c.Get("x")
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestNoop(t *testing.T) {
	t.Parallel()

	var c Noop[insights.PageDocument]
	c.Set("k", insights.PageDocument{})
	_, ok := c.Get("k")
	assert.False(t, ok)
}
