// Package cache provides the response cache consumed by the Cache
// middleware: a small key/value store keyed by the request hash computed
// in util.Hash, storing llmcomms.Response values with a time-to-live.
package cache

import (
	"sync"
	"time"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

// Cache is the storage contract the Cache middleware depends on. A caller
// may supply any implementation; MemoryCache is the one shipped here.
type Cache interface {
	// Get returns a defensive copy of the cached Response for key and
	// whether it was present and not expired.
	Get(key string) (llmcomms.Response, bool)

	// Set stores a defensive copy of resp under key with the given TTL.
	// A zero or negative ttl means the entry never expires.
	Set(key string, resp llmcomms.Response, ttl time.Duration)

	// Remove evicts key, if present.
	Remove(key string)
}

type entry struct {
	resp    llmcomms.Response
	expires time.Time // zero means no expiry
}

// MemoryCache is an in-process, TTL-based Cache. Safe for concurrent use.
// Expired entries are evicted lazily on Get; there is no background
// sweeper.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(key string) (llmcomms.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return llmcomms.Response{}, false
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		return llmcomms.Response{}, false
	}
	return e.resp.Clone(), true
}

// Set implements Cache.
func (c *MemoryCache) Set(key string, resp llmcomms.Response, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	c.entries[key] = entry{resp: resp.Clone(), expires: expires}
}

// Remove implements Cache.
func (c *MemoryCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the current entry count, including not-yet-evicted expired
// entries. Exposed for tests.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
