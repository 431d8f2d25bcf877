package flood

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 2 * time.Minute
)

// RecentCache remembers the keys of recently seen envelopes. It is bounded both by capacity
// and by age; once full, the oldest key goes first.
type RecentCache struct {
	lru *expirable.LRU[string, struct{}]
}

func NewRecentCache(size int, ttl time.Duration) *RecentCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RecentCache{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen reports whether key is held and not yet expired. It does not refresh the entry.
func (c *RecentCache) Seen(key string) bool {
	_, ok := c.lru.Peek(key)
	return ok
}

// Add inserts key and reports whether it was new.
func (c *RecentCache) Add(key string) bool {
	if c.Seen(key) {
		return false
	}
	c.lru.Add(key, struct{}{})
	return true
}

func (c *RecentCache) Len() int {
	return c.lru.Len()
}

// Keys returns the live keys from oldest to newest.
func (c *RecentCache) Keys() []string {
	return c.lru.Keys()
}
