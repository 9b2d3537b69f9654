// Package entities normalizes raw entity strings from classifier
// verdicts into canonical forms, caching the mappings process-wide.
package entities

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"watchdog/internal/core"
)

const (
	// DefaultCacheTTL expires entries after two weeks.
	DefaultCacheTTL = 14 * 24 * time.Hour
	// DefaultCacheMaxSize bounds the cache before LRU eviction starts.
	DefaultCacheMaxSize = 100_000
)

// CacheStats is a point-in-time snapshot of cache accounting.
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	TotalSets   int64   `json:"total_sets"`
	TTLSeconds  float64 `json:"ttl_seconds"`
}

type cacheEntry struct {
	key      string
	value    core.NormalizedEntity
	storedAt time.Time
}

// Cache is a TTL + LRU map from entity spellings to their normalized
// forms. Keys collide on the lowercased, whitespace-collapsed input,
// so " HON.  REID " and "hon. reid" share one entry. A lookup that
// finds an expired entry deletes it and counts as a miss. One mutex
// serializes every operation; batch operations run entry by entry so
// TTL, recency, and stats stay exact.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	ttl     time.Duration
	maxSize int

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	totalSets   int64

	now func() time.Time
}

// NewCache creates a cache with the given TTL and size bound;
// non-positive values fall back to the defaults.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultCacheMaxSize
	}
	return &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// cacheKey lowercases the name and collapses whitespace runs.
func cacheKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Get returns the cached normalization for name, updating recency.
// Expired entries are removed and reported as misses.
func (c *Cache) Get(name string) (core.NormalizedEntity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(name)
}

func (c *Cache) get(name string) (core.NormalizedEntity, bool) {
	key := cacheKey(name)
	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return core.NormalizedEntity{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.expirations++
		c.misses++
		return core.NormalizedEntity{}, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// Set stores a normalization, evicting the least recently used entry
// when the cache is full. Overwrites reset recency and the TTL clock.
func (c *Cache) Set(name string, value core.NormalizedEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(name, value)
}

func (c *Cache) set(name string, value core.NormalizedEntity) {
	key := cacheKey(name)
	c.totalSets++

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.storedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	if len(c.entries) >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
			c.evictions++
		}
	}

	elem := c.order.PushFront(&cacheEntry{key: key, value: value, storedAt: c.now()})
	c.entries[key] = elem
}

// GetMany returns the hits for the given names, keyed by the original
// spelling. Misses are simply absent.
func (c *Cache) GetMany(names []string) map[string]core.NormalizedEntity {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := make(map[string]core.NormalizedEntity)
	for _, name := range names {
		if value, ok := c.get(name); ok {
			found[name] = value
		}
	}
	return found
}

// SetMany stores every mapping, one entry at a time.
func (c *Cache) SetMany(values map[string]core.NormalizedEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, value := range values {
		c.set(name, value)
	}
}

// Stats snapshots the accounting counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Hits:        c.hits,
		Misses:      c.misses,
		Size:        len(c.entries),
		MaxSize:     c.maxSize,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		TotalSets:   c.totalSets,
		TTLSeconds:  c.ttl.Seconds(),
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

var (
	sharedCache     *Cache
	sharedCacheOnce sync.Once
)

// SharedCache returns the process-wide cache, creating it on first
// call. Parameters passed on later calls are ignored.
func SharedCache(ttl time.Duration, maxSize int) *Cache {
	sharedCacheOnce.Do(func() {
		sharedCache = NewCache(ttl, maxSize)
	})
	return sharedCache
}
