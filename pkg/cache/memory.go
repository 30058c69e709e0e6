package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mkonda/poolguard/pkg/types"
)

type memoryCache struct {
	data       map[string]cacheItem
	mu         sync.RWMutex
	maxSize    int           // Maximum number of pools to store
	defaultTTL time.Duration // Default retention for cache entries
}

type cacheItem struct {
	value      *types.KeySet
	expiration time.Time
	lastAccess time.Time // For LRU eviction
}

func NewMemoryCache() Cache {
	return &memoryCache{
		data:       make(map[string]cacheItem),
		maxSize:    Defaults.MaxLocalSize,
		defaultTTL: Defaults.TTL,
	}
}

func (c *memoryCache) Get(pool string) (*types.KeySet, bool) {
	c.mu.RLock()
	item, found := c.data[pool]
	c.mu.RUnlock()

	if !found {
		slog.Debug("Key set cache miss", "pool", pool)
		return nil, false
	}

	if time.Now().After(item.expiration) {
		slog.Debug("Key set cache entry expired", "pool", pool)

		c.mu.Lock()
		delete(c.data, pool)
		c.mu.Unlock()

		return nil, false
	}

	// Update last access time for LRU tracking
	c.mu.Lock()
	item.lastAccess = time.Now()
	c.data[pool] = item
	c.mu.Unlock()

	slog.Debug("Key set cache hit", "pool", pool)
	return item.value, true
}

func (c *memoryCache) Set(pool string, ks *types.KeySet, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if len(c.data) >= c.maxSize {
		c.evictLRU()
	}

	c.data[pool] = cacheItem{
		value:      ks,
		expiration: time.Now().Add(ttl),
		lastAccess: time.Now(),
	}

	slog.Debug("Cached key set", "pool", pool, "ttl", ttl, "keys", len(ks.Keys))
}

// evictLRU removes the least recently used entry from the cache
func (c *memoryCache) evictLRU() {
	var oldestPool string
	var oldestTime time.Time

	for p, entry := range c.data {
		if oldestTime.IsZero() || entry.lastAccess.Before(oldestTime) {
			oldestPool = p
			oldestTime = entry.lastAccess
		}
	}

	if oldestPool != "" {
		slog.Debug("Evicting LRU key set", "pool", oldestPool, "lastAccess", oldestTime)
		delete(c.data, oldestPool)
	}
}
