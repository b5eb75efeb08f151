package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/perftools/sparsedb-core/pkg/cache"
)

func TestLinearGetMiss(t *testing.T) {
	t.Parallel()

	c := cache.NewLinear[int, string](2)

	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestLinearPutGetHit(t *testing.T) {
	t.Parallel()

	c := cache.NewLinear[int, string](2)
	c.Put(1, "a")

	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestLinearEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := cache.NewLinear[int, string](2)
	c.Put(1, "a")
	c.Put(2, "b")
	c.Put(3, "c") // evicts 1, the LRU entry.

	_, ok := c.Get(1)
	assert.False(t, ok)

	v, ok := c.Get(2)
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	v, ok = c.Get(3)
	assert.True(t, ok)
	assert.Equal(t, "c", v)
}

func TestLinearGetRefreshesRecency(t *testing.T) {
	t.Parallel()

	c := cache.NewLinear[int, string](2)
	c.Put(1, "a")
	c.Put(2, "b")

	_, _ = c.Get(1) // 1 is now most-recently-used; 2 becomes LRU.
	c.Put(3, "c")   // evicts 2.

	_, ok := c.Get(2)
	assert.False(t, ok)

	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
}
