package faa

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	authCacheShardCount = 16
	authCacheDefaultTTL = 2 * time.Second
)

type authCacheEntry struct {
	verdict   AuthResult
	cacheable bool
	expiresAt time.Time
}

type authCacheShard struct {
	mu      sync.Mutex
	entries map[string]authCacheEntry
}

// AuthCache is the sharded, short-TTL memoization of recently computed
// auth results keyed by file identity (spec.md §5 "Auth-Result Cache:
// sharded concurrent map with short TTL"), consulted by
// Processor.ImmediateResponse.
type AuthCache struct {
	shards [authCacheShardCount]*authCacheShard
	ttl    time.Duration
}

// NewAuthCache builds a cache with the given TTL; ttl <= 0 selects the
// default.
func NewAuthCache(ttl time.Duration) *AuthCache {
	if ttl <= 0 {
		ttl = authCacheDefaultTTL
	}
	c := &AuthCache{ttl: ttl}
	for i := range c.shards {
		c.shards[i] = &authCacheShard{entries: make(map[string]authCacheEntry)}
	}
	return c
}

func (c *AuthCache) shardFor(key string) *authCacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%authCacheShardCount]
}

// Get returns the memoized verdict for key if present and not yet
// expired.
func (c *AuthCache) Get(key string) (AuthResult, bool, bool) {
	shard := c.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, found := shard.entries[key]
	if !found {
		return ResultAllow, false, false
	}
	if time.Now().After(e.expiresAt) {
		delete(shard.entries, key)
		return ResultAllow, false, false
	}
	return e.verdict, e.cacheable, true
}

// Put memoizes verdict for key if cacheable is true; non-cacheable
// results are never stored (spec.md §3/§4.3's cacheable contract).
func (c *AuthCache) Put(key string, verdict AuthResult, cacheable bool) {
	if !cacheable {
		return
	}
	shard := c.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.entries[key] = authCacheEntry{
		verdict:   verdict,
		cacheable: cacheable,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Evict removes all cache entries associated with a process identity
// (spec.md §4.2 NotifyExit).
func (c *AuthCache) Evict(auditToken string) {
	for _, shard := range c.shards {
		shard.mu.Lock()
		for k := range shard.entries {
			if hasAuditTokenPrefix(k, auditToken) {
				delete(shard.entries, k)
			}
		}
		shard.mu.Unlock()
	}
}

func hasAuditTokenPrefix(key, auditToken string) bool {
	n := len(auditToken)
	return len(key) > n && key[:n] == auditToken && key[n] == '|'
}
