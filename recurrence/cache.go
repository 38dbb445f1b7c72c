package recurrence

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	result     any
	expiresAt  time.Time
	accessedAt time.Time
}

// Cache memoizes expansion results keyed by their inputs.
type Cache struct {
	entries         map[string]*cacheEntry
	mu              sync.Mutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

// CacheConfig holds configuration for the recurrence cache
type CacheConfig struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Maximum number of entries before eviction
	CleanupInterval time.Duration // How often to run cleanup
}

// DefaultCacheConfig provides sensible defaults for recurrence caching
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// NewCache creates a cache and starts its cleanup goroutine.
func NewCache(config CacheConfig) *Cache {
	c := &Cache{
		entries:         make(map[string]*cacheEntry),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stop:            make(chan struct{}),
		now:             time.Now,
	}
	if c.cleanupInterval > 0 {
		go c.cleanupLoop()
	}
	return c
}

func cacheKey(operation string, info Info, rangeStart, rangeEnd time.Time) string {
	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte(info.Start.Format(time.RFC3339Nano)))
	if info.AllDay {
		h.Write([]byte{1})
	}
	h.Write([]byte(rangeStart.Format(time.RFC3339Nano)))
	h.Write([]byte(rangeEnd.Format(time.RFC3339Nano)))
	h.Write([]byte(strings.Join(info.Rules, "\n")))
	for _, d := range info.RDates {
		h.Write([]byte("R" + d.Format(time.RFC3339Nano)))
	}
	for _, d := range info.ExDates {
		h.Write([]byte("X" + d.Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached result if it exists and has not expired.
func (c *Cache) Get(operation string, info Info, rangeStart, rangeEnd time.Time) (any, bool) {
	key := cacheKey(operation, info, rangeStart, rangeEnd)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	entry.accessedAt = now
	return entry.result, true
}

// Set stores a result, evicting old entries when over capacity.
func (c *Cache) Set(operation string, info Info, rangeStart, rangeEnd time.Time, result any) {
	key := cacheKey(operation, info, rangeStart, rangeEnd)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry{result: result, expiresAt: now.Add(c.ttl), accessedAt: now}
	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.cleanup(now)
	}
}

// cleanup removes expired entries, then the least recently used ones while
// over capacity. Callers hold c.mu.
func (c *Cache) cleanup(now time.Time) {
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	if c.maxEntries <= 0 || len(c.entries) <= c.maxEntries {
		return
	}

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].accessedAt.Before(c.entries[keys[j]].accessedAt)
	})
	for _, key := range keys[:len(c.entries)-c.maxEntries] {
		delete(c.entries, key)
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.cleanup(c.now())
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
