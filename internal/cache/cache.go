// Package cache provides TTL caching for expensive portal scrapes.
// Values are opaque byte blobs; callers bring their own encoding.
package cache

import (
	"sync"
	"time"
)

// Cache is a thread-safe TTL cache.
type Cache interface {
	// Get retrieves a value. The second return is false when the key is
	// absent or expired.
	Get(key string) ([]byte, bool)
	// Set stores a value with the specified TTL.
	Set(key string, value []byte, ttl time.Duration)
	// Delete removes a value.
	Delete(key string)
	// Clear removes all values.
	Clear()
	// Stats returns cache statistics.
	Stats() Stats
}

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) expired() bool {
	return time.Now().After(e.expiration)
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stats   Stats
	janitor *janitor
}

// NewMemory creates an in-memory cache. A positive cleanupInterval starts a
// background janitor that evicts expired entries.
func NewMemory(cleanupInterval time.Duration) Cache {
	c := &memoryCache{entries: make(map[string]*entry)}
	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}
	return c
}

func (c *memoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found || e.expired() {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

func (c *memoryCache) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value, expiration: time.Now().Add(ttl)}
	c.stats.Sets++
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

func (c *memoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

func (c *memoryCache) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.expired() {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
}

// Stop terminates the janitor goroutine.
func (c *memoryCache) Stop() {
	if c.janitor != nil {
		close(c.janitor.stop)
	}
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor) run(c *memoryCache) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}

type noopCache struct{}

// NewNoop creates a cache that never stores anything.
func NewNoop() Cache {
	return noopCache{}
}

func (noopCache) Get(string) ([]byte, bool)              { return nil, false }
func (noopCache) Set(string, []byte, time.Duration)      {}
func (noopCache) Delete(string)                          {}
func (noopCache) Clear()                                 {}
func (noopCache) Stats() Stats                           { return Stats{} }
