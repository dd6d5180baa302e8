// Package cache is a best-effort read-through cache for query results.
// Backend faults are logged and reported as misses; they never fail a query.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Backend stores opaque values under string keys.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	Close() error
}

// Cache wraps a Backend with JSON encoding and fault isolation.
// A Cache with a nil backend is disabled: every Get misses.
type Cache struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a Cache. A nil backend disables caching.
func New(b Backend, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: b, logger: logger}
}

// Enabled reports whether a backend is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.backend != nil
}

// Get decodes the value stored under key into dst. It reports false on a
// miss, a backend fault, or an undecodable value.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	if !c.Enabled() {
		return false
	}
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", "op", "cache.get", "key", key, "err", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn("cache value undecodable", "op", "cache.get", "key", key, "err", err)
		return false
	}
	return true
}

// Set stores v under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache value unencodable", "op", "cache.set", "key", key, "err", err)
		return
	}
	if err := c.backend.SetWithTTL(ctx, key, data, ttl); err != nil {
		c.logger.Warn("cache set failed", "op", "cache.set", "key", key, "err", err)
	}
}

// Invalidate deletes every key matched by ch's patterns and returns how many
// were removed. Patterns that fail are logged and skipped.
func (c *Cache) Invalidate(ctx context.Context, ch Change) int {
	if !c.Enabled() {
		return 0
	}
	total := 0
	for _, pattern := range ch.Patterns() {
		n, err := c.backend.DeleteByPattern(ctx, pattern)
		if err != nil {
			c.logger.Warn("cache invalidation failed", "op", "cache.invalidate", "pattern", pattern, "err", err)
			continue
		}
		total += n
	}
	return total
}

// Close releases the backend.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.backend.Close()
}
