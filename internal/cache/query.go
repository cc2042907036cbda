package cache

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/normex/ragbox-normex/internal/model"
)

// ContextCache caches StructuredContext by query text. Thread-safe via
// sync.RWMutex. Entries auto-expire after TTL.
type ContextCache struct {
	mu      sync.RWMutex
	entries map[string]*contextEntry
	ttl     time.Duration
	stopCh  chan struct{}
}

type contextEntry struct {
	result    model.StructuredContext
	createdAt time.Time
	expiresAt time.Time
}

// New creates a ContextCache with the given TTL and starts background cleanup.
func New(ttl time.Duration) *ContextCache {
	c := &ContextCache{
		entries: make(map[string]*contextEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns a cached StructuredContext if present and not expired.
func (c *ContextCache) Get(query string) (model.StructuredContext, bool) {
	key := contextCacheKey(query)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return model.StructuredContext{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return model.StructuredContext{}, false
	}

	slog.Info("[CACHE] hit",
		"query_hash", key,
		"age_ms", time.Since(entry.createdAt).Milliseconds(),
	)
	return entry.result, true
}

// Set stores a StructuredContext in the cache.
func (c *ContextCache) Set(query string, result model.StructuredContext) {
	key := contextCacheKey(query)
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = &contextEntry{
		result:    result,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()

	slog.Info("[CACHE] set",
		"query_hash", key,
		"ttl_s", int(c.ttl.Seconds()),
		"total_entries", c.Len(),
	)
}

// Len returns the number of entries in the cache.
func (c *ContextCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop halts the background cleanup goroutine.
func (c *ContextCache) Stop() {
	close(c.stopCh)
}

// cleanup removes expired entries every 5 minutes.
func (c *ContextCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			before := len(c.entries)
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			after := len(c.entries)
			c.mu.Unlock()
			if before != after {
				slog.Info("[CACHE] cleanup", "removed", before-after, "remaining", after)
			}
		case <-c.stopCh:
			return
		}
	}
}

// contextCacheKey builds a deterministic key: "qc:" followed by the hex of
// the first 8 bytes of sha256(query).
func contextCacheKey(query string) string {
	h := sha256.Sum256([]byte(query))
	return fmt.Sprintf("qc:%x", h[:8])
}
