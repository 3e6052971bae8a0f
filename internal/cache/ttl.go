// Package cache provides a small time-bounded cache used wherever a
// snapshot or classification result is expensive enough to memoize.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL is a bounded map whose entries expire after a fixed duration.
// When the size cap is exceeded the oldest entry is evicted first.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[K]entry[V]
	order   []K
	now     func() time.Time
}

// NewTTL constructs a cache holding at most maxSize entries for ttl each.
func NewTTL[K comparable, V any](ttl time.Duration, maxSize int) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[K]entry[V]),
		now:     time.Now,
	}
}

// Get returns the cached value if present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		c.removeLocked(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value, evicting the oldest entry when the cap is hit.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.maxSize && len(c.order) > 0 {
			c.removeLocked(c.order[0])
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = entry[V]{value: value, storedAt: c.now()}
}

// Delete removes a key if present.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Len reports the number of live entries, sweeping expired ones first.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now()
	for _, key := range append([]K(nil), c.order...) {
		if e, ok := c.entries[key]; ok && cutoff.Sub(e.storedAt) > c.ttl {
			c.removeLocked(key)
		}
	}
	return len(c.entries)
}

func (c *TTL[K, V]) removeLocked(key K) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
