// Package dedupe keeps the bounded set of frame fingerprints used for
// mesh-wide loop suppression. Capacity-bounded, O(1) membership, oldest
// entry evicted on overflow.
package dedupe

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is C_DEDUPE.
const DefaultCapacity = 10000

// Cache is safe for concurrent use.
type Cache struct {
	inner *lru.Cache[string, struct{}]
}

// New creates a cache; capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New[string, struct{}](capacity)
	if err != nil {
		// only reachable with a non-positive capacity, which we normalised
		panic(err)
	}
	return &Cache{inner: c}
}

// Seen reports membership without touching recency.
func (c *Cache) Seen(key string) bool {
	return c.inner.Contains(key)
}

// Remember inserts key, evicting the oldest entry at capacity.
func (c *Cache) Remember(key string) {
	c.inner.Add(key, struct{}{})
}

// Len is the current number of remembered fingerprints.
func (c *Cache) Len() int {
	return c.inner.Len()
}
