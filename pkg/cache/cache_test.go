package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(cfg *Config) (*Cache[string], *clock) {
	clk := &clock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string](cfg)
	c.now = clk.now
	return c, clk
}

func TestCache_GetPut(t *testing.T) {
	c, _ := newTestCache(nil)

	c.Put("stats|age", "summary")
	got, ok := c.Get("stats|age")
	require.True(t, ok)
	assert.Equal(t, "summary", got)

	got, ok = c.Get("nonexistent")
	assert.False(t, ok)
	assert.Empty(t, got)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Size)
}

func TestCache_DeleteAndClear(t *testing.T) {
	c, _ := newTestCache(nil)
	c.Put("a", "1")
	c.Put("b", "2")

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Equal(t, int64(0), c.Stats().Size)
}

func TestCache_Expiry(t *testing.T) {
	c, clk := newTestCache(DefaultConfig().WithTTL(time.Minute))
	c.Put("a", "1")

	clk.advance(59 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok)

	clk.advance(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())

	c, clk = newTestCache(DefaultConfig().WithTTL(0))
	c.Put("a", "1")
	clk.advance(24 * time.Hour)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, clk := newTestCache(DefaultConfig().WithMaxEntries(2))

	c.Put("a", "1")
	clk.advance(time.Second)
	c.Put("b", "2")
	clk.advance(time.Second)
	_, _ = c.Get("a")
	clk.advance(time.Second)

	c.Put("c", "3")
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)

	c.Put("a", "updated")
	assert.Equal(t, 2, c.Len())
	got, _ := c.Get("a")
	assert.Equal(t, "updated", got)
}

func TestCache_StatsDisabled(t *testing.T) {
	c, _ := newTestCache(DefaultConfig().WithStats(false))
	c.Put("a", "1")
	_, _ = c.Get("a")
	assert.Equal(t, Stats{}, c.Stats())
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int](DefaultConfig().WithMaxEntries(16))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("k%d", (i*50+j)%32)
				c.Put(key, j)
				_, _ = c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig().WithMaxEntries(10).WithTTL(time.Second).WithStats(false)
	assert.Equal(t, &Config{MaxEntries: 10, TTL: time.Second, EnableStats: false}, cfg)
	assert.Equal(t, 512, DefaultConfig().MaxEntries)
}

func TestDefaultKeyGenerator(t *testing.T) {
	gen := DefaultKeyGenerator{}

	assert.Equal(t, "stats", gen.GenerateKey("stats", nil))
	assert.Equal(t,
		gen.GenerateKey("crosstab", map[string]any{"x": "a", "y": "b", "limit": 10}),
		gen.GenerateKey("crosstab", map[string]any{"limit": 10, "y": "b", "x": "a"}))
	assert.Equal(t, `crosstab|{"x":"a","y":"b"}`, gen.GenerateKey("crosstab", map[string]any{"y": "b", "x": "a"}))
	assert.Empty(t, gen.GenerateKey("bad", map[string]any{"f": func() {}}))
}
