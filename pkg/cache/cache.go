// Package cache memoizes computed payloads (column summaries, crosstabs)
// over the immutable survey dataset. Entries are bounded by count and
// expire after a TTL; the least recently used entry is evicted first.
package cache

import (
	"encoding/json"
	"sync"
	"time"
)

// Entry is a single cache entry with metadata
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
	LastUsed  time.Time
}

// Cache is an in-memory LRU cache with expiry. It is safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[V]
	cfg     Config
	stats   *StatsCollector
	now     func() time.Time
}

// New creates a cache. A nil cfg means DefaultConfig.
func New[V any](cfg *Config) *Cache[V] {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Cache[V]{
		entries: make(map[string]*Entry[V]),
		cfg:     *cfg,
		now:     time.Now,
	}
	if c.cfg.MaxEntries <= 0 {
		c.cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if c.cfg.EnableStats {
		c.stats = NewStatsCollector()
	}
	return c
}

// Get returns the value stored under key. Expired entries are dropped.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && c.expired(entry) {
		delete(c.entries, key)
		c.recordSize()
		ok = false
	}
	if !ok {
		if c.stats != nil {
			c.stats.RecordMiss()
		}
		var zero V
		return zero, false
	}

	entry.LastUsed = c.now()
	if c.stats != nil {
		c.stats.RecordHit()
	}
	return entry.Value, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.evictOldest()
	}
	c.entries[key] = &Entry[V]{Value: value, CreatedAt: now, LastUsed: now}
	c.recordSize()
}

// Delete removes key from the cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	c.recordSize()
}

// Clear removes all entries from the cache
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry[V])
	c.recordSize()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache statistics, or zero stats when
// collection is disabled.
func (c *Cache[V]) Stats() Stats {
	if c.stats == nil {
		return Stats{}
	}
	return c.stats.GetStats()
}

func (c *Cache[V]) expired(entry *Entry[V]) bool {
	return c.cfg.TTL > 0 && c.now().Sub(entry.CreatedAt) >= c.cfg.TTL
}

func (c *Cache[V]) recordSize() {
	if c.stats != nil {
		c.stats.UpdateSize(int64(len(c.entries)))
	}
}

// evictOldest removes the least recently used entry from the cache
func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.LastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastUsed
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		if c.stats != nil {
			c.stats.RecordEviction()
		}
	}
}

// KeyGenerator derives cache keys from an operation and its parameters.
type KeyGenerator interface {
	GenerateKey(op string, params map[string]any) string
}

// DefaultKeyGenerator joins the operation with its JSON-encoded parameters.
// Map keys are sorted by the encoder so equal parameters give equal keys.
type DefaultKeyGenerator struct{}

// GenerateKey creates a cache key from an operation and its parameters
func (g DefaultKeyGenerator) GenerateKey(op string, params map[string]any) string {
	if len(params) == 0 {
		return op
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return op + "|" + string(encoded)
}
