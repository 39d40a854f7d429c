// Package cache implements the process-local ephemeral cache: an LRU of
// read-mostly snapshots (user meta, diff session handles, collection
// hashes) fronting the durable stores, generalizing the eviction-by-
// last-access pattern the teacher's dependency pack uses for its
// activation-transaction header cache.
package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a generic, TTL-aware LRU keyed by string. A value whose TTL has
// elapsed is treated as a miss and evicted on next touch, since the
// underlying LRU has no native per-key TTL.
type Cache struct {
	inner   *lru.Cache[string, entry]
	enabled bool

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Stats reports cache hit/miss/eviction counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Len       int
}

// New creates a Cache holding up to size entries. When enabled is false,
// every operation is a no-op (Get always misses, Set is dropped).
func New(size int, enabled bool) *Cache {
	if size <= 0 {
		size = 1
	}
	c := &Cache{enabled: enabled}
	inner, err := lru.NewWithEvict[string, entry](size, func(_ string, _ entry) {
		c.evictions.Add(1)
	})
	if err != nil {
		// Only returns an error for size <= 0, guarded above.
		panic(err)
	}
	c.inner = inner
	return c
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	if !c.enabled {
		return nil, false
	}

	e, ok := c.inner.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.inner.Remove(key)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if !c.enabled {
		return
	}
	c.inner.Add(key, entry{value: value, expiresAt: time.Now().Add(ttl)})
}

// Remove drops key from the cache, if present.
func (c *Cache) Remove(key string) {
	if !c.enabled {
		return
	}
	c.inner.Remove(key)
}

// ClearUserCache drops userKey's meta snapshot and collection-hash memo.
// Diff-session entries are keyed by session ID and are not dropped here.
// Every writer of FingerprintRecord
// or UserMeta MUST call this so a subsequent check cannot serve a stale
// snapshot.
func (c *Cache) ClearUserCache(userKey string) {
	c.Remove(UserMetaKey(userKey))
	c.Remove(CollectionHashKey(userKey))
}

// Stats reports current hit/miss/eviction counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Len:       c.inner.Len(),
	}
}

// UserMetaKey builds the cache key for a user's meta snapshot.
func UserMetaKey(userKey string) string { return "user_meta:" + userKey }

// DiffSessionKey builds the cache key for a session handle.
func DiffSessionKey(sessionID string) string { return "diff_session:" + sessionID }

// CollectionHashKey builds the cache key for a bare collection hash memo.
func CollectionHashKey(userKey string) string { return "collection_hash:" + userKey }
