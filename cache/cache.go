// Package cache provides a small fixed-TTL string cache used to throttle
// expensive renders and to deduplicate redelivered webhook events.
//
// It is deliberately not a general-purpose cache: the TTL is fixed at
// construction, TTL resolution is one second, and there is no capacity
// tuning surface. Both call sites have low, bounded cardinality (one entry
// per rendered view, one per recent event id). Expired entries are evicted
// on read, not by a background sweeper.
package cache

import (
	"log/slog"
	"time"

	"github.com/coocood/freecache"
)

// defaultSize is the backing store size in bytes. freecache caps a single
// entry at 1/1024 of the store, so this also bounds the largest cacheable
// value: 16MB allows rendered views up to 16KB, comfortably above a
// many-channel /streams listing.
const defaultSize = 16 * 1024 * 1024

// TTL is a key→string store whose entries expire after a fixed duration.
type TTL struct {
	cache *freecache.Cache
	ttl   int
}

// New returns a cache whose entries expire ttl after being set.
// TTLs below one second are rounded up to one second.
func New(ttl time.Duration) *TTL {
	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &TTL{
		cache: freecache.NewCache(defaultSize),
		ttl:   secs,
	}
}

// Get returns the value for key, or ok=false if absent or expired.
func (c *TTL) Get(key string) (string, bool) {
	v, err := c.cache.Get([]byte(key))
	if err != nil {
		return "", false
	}
	return string(v), true
}

// Set stores value under key with the cache's fixed TTL. An entry too
// large for the store is dropped with a warning; callers treat the cache
// as best-effort.
func (c *TTL) Set(key, value string) {
	if err := c.cache.Set([]byte(key), []byte(value), c.ttl); err != nil {
		slog.Warn("cache set failed",
			slog.String("key", key),
			slog.Int("value_bytes", len(value)),
			slog.Any("err", err))
	}
}

// Remove deletes key if present.
func (c *TTL) Remove(key string) {
	c.cache.Del([]byte(key))
}
