// Package cache provides a generic keyed TTL cache with LRU eviction and
// single-flight fills.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Stats reports cache counters since construction
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Loads     uint64 `json:"loads"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time // Zero means no expiry
}

// Cache memoizes loader results per key. Safe for concurrent use.
// Concurrent fills for the same key collapse into a single loader call;
// waiting callers receive the leader's value and count as hits.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List // Front is most recently used
	maxEntries int

	group singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	loads     atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache holding at most maxEntries values.
// maxEntries <= 0 means unbounded.
func New[V any](maxEntries int) *Cache[V] {
	return &Cache[V]{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		maxEntries: maxEntries,
	}
}

// Get returns the cached value for key if present and unexpired
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return v, true
	}

	var zero V
	return zero, false
}

// Set stores value under key with the given TTL. A TTL of 0 never expires.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value, ttl)
}

// GetOrFill returns the cached value for key, or runs loader to fill it.
// At most one loader runs per key at a time; concurrent callers wait on
// the in-flight load and share its outcome. Loader failures propagate to
// every waiter and are never cached. The returned bool reports whether
// the value came from cache.
func (c *Cache[V]) GetOrFill(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (V, error)) (V, bool, error) {
	c.mu.Lock()
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.mu.Unlock()
		return v, true, nil
	}
	c.mu.Unlock()

	// led is set only in the caller whose closure actually ran
	var led bool
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		led = true
		c.misses.Add(1)
		c.loads.Add(1)

		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.store(key, value, ttl)
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}

	if !led {
		// Waited on another caller's load; counts as a hit
		c.hits.Add(1)
	}

	return v.(V), !led, nil
}

// Invalidate drops the entry for key if present
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.remove(elem)
	}
}

// InvalidateAll drops every entry
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of live entries
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// GetStats returns a snapshot of the cache counters
func (c *Cache[V]) GetStats() Stats {
	c.mu.Lock()
	size := c.lru.Len()
	c.mu.Unlock()

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Loads:     c.loads.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}

// lookup returns the live value for key; expired entries are removed.
// Caller must hold c.mu.
func (c *Cache[V]) lookup(key string) (V, bool) {
	var zero V

	elem, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	ent := elem.Value.(*entry[V])
	if !ent.expiresAt.IsZero() && time.Now().After(ent.expiresAt) {
		c.remove(elem)
		return zero, false
	}

	c.lru.MoveToFront(elem)
	return ent.value, true
}

// store inserts or refreshes an entry and evicts past the LRU cap.
// Caller must hold c.mu.
func (c *Cache[V]) store(key string, value V, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry[V])
		ent.value = value
		ent.expiresAt = expiresAt
		c.lru.MoveToFront(elem)
		return
	}

	elem := c.lru.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
	c.entries[key] = elem

	if c.maxEntries > 0 {
		for c.lru.Len() > c.maxEntries {
			oldest := c.lru.Back()
			if oldest == nil {
				break
			}
			c.remove(oldest)
			c.evictions.Add(1)
		}
	}
}

// remove unlinks an element. Caller must hold c.mu.
func (c *Cache[V]) remove(elem *list.Element) {
	ent := elem.Value.(*entry[V])
	delete(c.entries, ent.key)
	c.lru.Remove(elem)
}
