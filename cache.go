// cache.go
// --------
// Time-boxed cache for idempotent reads. Entries are keyed by a fingerprint
// derived from method, path and sorted query parameters, and carry their own
// expiry. Staleness is enforced at read time — an expired entry is absent the
// moment its window closes, whether or not the background sweep has run yet.
// The sweep only reclaims memory.
package ledgerbridge

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	path     string
	payload  Payload
	storedAt time.Time
	expiry   time.Duration
}

func (e cacheEntry) staleAt(now time.Time) bool {
	return now.After(e.storedAt.Add(e.expiry))
}

type responseCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func newResponseCache() *responseCache {
	return &responseCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// fingerprint derives the deterministic cache key for a request. Query
// parameters are sorted by url.Values.Encode, so logically equal requests
// always map to the same entry.
func fingerprint(method, path string, query url.Values) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(path)
	if len(query) > 0 {
		b.WriteString("?")
		b.WriteString(query.Encode())
	}
	return b.String()
}

// get returns the cached payload for fp if it is still within its expiry
// window. Stale entries are evicted opportunistically on read.
func (c *responseCache) get(fp string) (Payload, bool) {
	c.mu.RLock()
	entry, ok := c.entries[fp]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if entry.staleAt(c.now()) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent put may have refreshed it.
		if cur, ok := c.entries[fp]; ok && cur.staleAt(c.now()) {
			delete(c.entries, fp)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.payload, true
}

// put overwrites any prior entry unconditionally. Last write wins.
func (c *responseCache) put(fp, path string, payload Payload, expiry time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = cacheEntry{
		path:     path,
		payload:  payload,
		storedAt: c.now(),
		expiry:   expiry,
	}
}

// invalidatePrefix drops every entry whose request path starts with prefix.
// Write operations use this so subsequent reads never see pre-write state.
func (c *responseCache) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, entry := range c.entries {
		if strings.HasPrefix(entry.path, prefix) {
			delete(c.entries, fp)
		}
	}
}

// sweep periodically reclaims expired entries until ctx is cancelled. Owned by
// the client, which cancels it on Close.
func (c *responseCache) sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for fp, entry := range c.entries {
				if entry.staleAt(now) {
					delete(c.entries, fp)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *responseCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
