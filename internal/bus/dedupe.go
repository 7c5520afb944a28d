package bus

import (
	"sync"
	"time"
)

// DedupeCache drops inbound redeliveries by (platform, message id).
// Entries expire after a TTL; the map is capped to keep memory bounded
// under message floods.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	seen    map[string]time.Time
}

// NewDedupeCache creates a cache with the given entry TTL and size cap.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		ttl:     ttl,
		maxSize: maxSize,
		seen:    make(map[string]time.Time),
	}
}

// Seen records the key and reports whether it was already present and
// unexpired. Events without a message id never dedupe.
func (c *DedupeCache) Seen(platform Platform, messageID string) bool {
	if messageID == "" {
		return false
	}
	key := string(platform) + ":" + messageID
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[key]; ok && now.Sub(at) < c.ttl {
		return true
	}
	if len(c.seen) >= c.maxSize {
		c.evict(now)
	}
	c.seen[key] = now
	return false
}

// evict removes expired entries; if nothing expired, drops the oldest.
func (c *DedupeCache) evict(now time.Time) {
	var oldestKey string
	var oldestAt time.Time
	for k, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, k)
			continue
		}
		if oldestKey == "" || at.Before(oldestAt) {
			oldestKey, oldestAt = k, at
		}
	}
	if len(c.seen) >= c.maxSize && oldestKey != "" {
		delete(c.seen, oldestKey)
	}
}
