package fetcher

import (
	"sync"
	"time"

	"github.com/akoreshkov/modaflow/internal/types"
)

// responseCache is a TTL cache of fetched responses keyed by full URL. Search
// result pages are re-requested often during a run (pagination backtracking,
// retried chunks), and the storefront penalizes repeat traffic.
type responseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resp    *types.Response
	expires time.Time
}

const cachePruneThreshold = 256

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// get returns a copy of the cached response for url, if fresh. Callers own
// the copy; the shared Body slice is treated as read-only.
func (c *responseCache) get(url string) (*types.Response, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[url]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, url)
		return nil, false
	}
	cp := *e.resp
	cp.Doc = nil
	return &cp, true
}

func (c *responseCache) put(url string, resp *types.Response) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= cachePruneThreshold {
		c.prune()
	}
	cp := *resp
	cp.Doc = nil
	c.entries[url] = cacheEntry{resp: &cp, expires: time.Now().Add(c.ttl)}
}

// prune drops expired entries; if nothing expired it drops everything rather
// than grow without bound.
func (c *responseCache) prune() {
	now := time.Now()
	dropped := 0
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
			dropped++
		}
	}
	if dropped == 0 {
		c.entries = make(map[string]cacheEntry)
	}
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
