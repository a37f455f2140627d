package maplink

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a concurrent-safe LRU cache of resolver results with TTL
// expiration, keyed by the trimmed link.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type cacheEntry struct {
	result    Result
	createdAt time.Time
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewCache creates a Cache with the given capacity and TTL.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the cached result for link. Expired entries count as misses.
func (c *Cache) Get(link string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[link]
	if !ok {
		c.misses.Add(1)
		return Result{}, false
	}
	if c.now().Sub(e.createdAt) > c.ttl {
		delete(c.entries, link)
		c.removeFromOrder(link)
		c.misses.Add(1)
		return Result{}, false
	}

	c.removeFromOrder(link)
	c.order = append(c.order, link)
	c.hits.Add(1)
	return e.result, true
}

// Put stores a result, evicting the least recently used entry at capacity.
func (c *Cache) Put(link string, r Result) {
	if c.maxEntries <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[link]; ok {
		c.entries[link] = cacheEntry{result: r, createdAt: c.now()}
		c.removeFromOrder(link)
		c.order = append(c.order, link)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[link] = cacheEntry{result: r, createdAt: c.now()}
	c.order = append(c.order, link)
}

// Stats returns cache performance statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{Entries: entries, Hits: hits, Misses: misses, HitRate: rate}
}

func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
