package platform

import (
	"sync"
	"time"

	"github.com/gregtusar/perpdesk/pkg/clock"
)

// Cache tags. A mutating call drops every entry carrying one of its tags.
const (
	TagActivePositions  = "ActivePositions"
	TagPosition         = "Position"
	TagHistoryPositions = "HistoryPositions"
	TagLimitOrders      = "LimitOrders"
	TagBalance          = "Balance"
)

type cacheEntry struct {
	body    []byte
	tags    []string
	expires time.Time
}

type responseCache struct {
	clock   clock.Clock
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newResponseCache(clk clock.Clock) *responseCache {
	return &responseCache{clock: clk, entries: make(map[string]cacheEntry)}
}

func (c *responseCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.body, true
}

func (c *responseCache) put(key string, ttl time.Duration, body []byte, tags ...string) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{body: body, tags: tags, expires: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *responseCache) invalidate(tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if hasAny(e.tags, tags) {
			delete(c.entries, key)
		}
	}
}

func (c *responseCache) reset() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func hasAny(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
