package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"cookclip/internal/observability"
)

// MemoryCache is a size- and age-bounded in-process cache.
type MemoryCache struct {
	cache   *expirable.LRU[string, Entry]
	metrics *observability.Metrics
	now     func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a cache holding at most size entries for ttl.
func NewMemoryCache(size int, ttl time.Duration, metrics *observability.Metrics) *MemoryCache {
	if size <= 0 {
		size = 256
	}
	return &MemoryCache{
		cache:   expirable.NewLRU[string, Entry](size, nil, ttl),
		metrics: metrics,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, rawURL string) (Entry, bool, error) {
	entry, ok := c.cache.Get(Key(rawURL))
	c.metrics.RecordCacheLookup(ctx, "memory", ok)
	return entry, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	c.cache.Add(Key(entry.URL), entry)
	return nil
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	return c.cache.Len()
}

func (c *MemoryCache) Close() error {
	c.cache.Purge()
	return nil
}
