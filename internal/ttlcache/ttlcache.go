// Package ttlcache generalizes the bounded LRU-with-expiry pattern from
// the teacher's pkg/webhook/registryauth ECRCredentialCache into a
// type-parameterized cache reused for the admission-result cache, the
// cosign positive/negative caches, and the auth keypair cache.
package ttlcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a bounded LRU cache where every entry additionally carries an
// expiry timestamp; an entry present in the LRU but past its expiry is
// treated as a miss and evicted on next access, mirroring
// ECRCredentialCache.Get's check-then-evict behavior.
type Cache[K comparable, V any] struct {
	mu     sync.Mutex
	cache  *lru.Cache[K, V]
	expiry map[K]time.Time
	ttl    time.Duration
}

// New builds a cache holding at most size entries, each valid for ttl after
// insertion. A zero ttl means entries never expire (used for internal/auth's
// keypair cache, whose entries are derived from an address and never go
// stale).
func New[K comparable, V any](size int, ttl time.Duration) (*Cache[K, V], error) {
	c, err := lru.New[K, V](size)
	if err != nil {
		return nil, err
	}
	return &Cache[K, V]{
		cache:  c,
		expiry: make(map[K]time.Time),
		ttl:    ttl,
	}, nil
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.cache.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.ttl > 0 {
		exp, has := c.expiry[key]
		if !has || time.Now().After(exp) {
			c.cache.Remove(key)
			delete(c.expiry, key)
			var zero V
			return zero, false
		}
	}
	return v, true
}

// Set inserts or refreshes key with value, resetting its expiry.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, value)
	if c.ttl > 0 {
		c.expiry[key] = time.Now().Add(c.ttl)
	} else {
		delete(c.expiry, key)
	}
}

// Remove evicts key unconditionally.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Remove(key)
	delete(c.expiry, key)
}

// Len returns the number of entries currently tracked (including possibly
// expired ones not yet lazily evicted).
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
