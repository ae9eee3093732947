package clients

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jsamuelsen/jsonrequest/internal/domain"
)

// MemoryCache is an in-process LRU ResponseCache. Entries leave the cache when
// it is full, when their own ttl passes, or when maxAge passes since they were
// stored, whichever comes first.
type MemoryCache struct {
	lru *expirable.LRU[string, cachedResponse]
	now func() time.Time
}

type cachedResponse struct {
	resp      *domain.RawResponse
	expiresAt time.Time
}

// NewMemoryCache creates a cache holding at most size responses. A maxAge of
// zero keeps entries until evicted.
func NewMemoryCache(size int, maxAge time.Duration) *MemoryCache {
	return &MemoryCache{
		lru: expirable.NewLRU[string, cachedResponse](size, nil, maxAge),
		now: time.Now,
	}
}

// Get returns the cached response for key.
func (c *MemoryCache) Get(_ context.Context, key string) (*domain.RawResponse, bool) {
	item, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}

	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}

	return item.resp, true
}

// Set stores resp under key. A zero ttl keeps it until evicted.
func (c *MemoryCache) Set(_ context.Context, key string, resp *domain.RawResponse, ttl time.Duration) {
	item := cachedResponse{resp: resp}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}

	c.lru.Add(key, item)
}

// Delete removes key.
func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.lru.Remove(key)
}

// Len returns the number of cached responses.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// Purge empties the cache.
func (c *MemoryCache) Purge() {
	c.lru.Purge()
}
