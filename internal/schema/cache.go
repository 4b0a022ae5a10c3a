package schema

import "sync"

// CacheObserver receives cache lookup outcomes.
type CacheObserver interface {
	RecordCacheLookup(cache string, hit bool)
}

// Cache is a read-through map guarded for concurrent access. Population runs
// outside the lock: two callers missing the same key both populate it and the
// last writer wins, which is harmless because population is idempotent.
type Cache[T any] struct {
	name     string
	observer CacheObserver

	mu      sync.RWMutex
	entries map[string]T
}

// NewCache creates an empty cache. observer may be nil.
func NewCache[T any](name string, observer CacheObserver) *Cache[T] {
	return &Cache[T]{
		name:     name,
		observer: observer,
		entries:  make(map[string]T),
	}
}

// GetOrPopulate returns the cached value for key, calling populate on a miss.
// Failed populations are not cached.
func (c *Cache[T]) GetOrPopulate(key string, populate func() (T, error)) (T, error) {
	c.mu.RLock()
	value, ok := c.entries[key]
	c.mu.RUnlock()
	if c.observer != nil {
		c.observer.RecordCacheLookup(c.name, ok)
	}
	if ok {
		return value, nil
	}

	value, err := populate()
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops one key.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateFunc drops every entry for which match returns true and reports
// how many were removed.
func (c *Cache[T]) InvalidateFunc(match func(key string, value T) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, value := range c.entries {
		if match(key, value) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// InvalidateAll empties the cache.
func (c *Cache[T]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]T)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
