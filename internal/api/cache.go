package api

import (
	"sync"
	"time"
)

const DefaultHealthCacheTTL = 5 * time.Minute

// HealthCache holds the last successful backend health response.
type HealthCache struct {
	mu        sync.RWMutex
	value     []byte
	timestamp time.Time
	ttl       time.Duration
	now       func() time.Time
}

func NewHealthCache(ttl time.Duration) *HealthCache {
	if ttl <= 0 {
		ttl = DefaultHealthCacheTTL
	}
	return &HealthCache{ttl: ttl, now: time.Now}
}

// Get returns the cached body while it is younger than the TTL.
func (c *HealthCache) Get() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil || c.now().Sub(c.timestamp) >= c.ttl {
		return nil, false
	}
	return c.value, true
}

func (c *HealthCache) Put(body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = append([]byte(nil), body...)
	c.timestamp = c.now()
}

func (c *HealthCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	c.timestamp = time.Time{}
}

func (c *HealthCache) TTL() time.Duration { return c.ttl }
