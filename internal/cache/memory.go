// internal/cache/memory.go
package cache

import (
	"container/list"
	"sync"
	"time"

	"ipzone.io/internal/models"
)

// Cache is the L1 store for built zone snapshots. Keys are zone names;
// entries expire on TTL and the least recently used entry is evicted
// when the cache is full.
type Cache interface {
	Get(key string) (*models.ZoneSnapshot, bool)
	Set(key string, snapshot *models.ZoneSnapshot, ttl time.Duration)
	Delete(key string)
	Clear()

	Size() int
	Stats() Stats
	Close() error
}

// Stats represents cache performance statistics
type Stats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Entries     int       `json:"entries"`
	Evictions   int64     `json:"evictions"`
	LastCleanup time.Time `json:"last_cleanup"`
	HitRate     float64   `json:"hit_rate"`
}

// calculateHitRate computes the cache hit rate as a percentage
func (s *Stats) calculateHitRate() {
	total := s.Hits + s.Misses
	if total == 0 {
		s.HitRate = 0.0
	} else {
		s.HitRate = float64(s.Hits) / float64(total) * 100.0
	}
}

type cacheEntry struct {
	key       string
	snapshot  *models.ZoneSnapshot
	expiresAt time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryCache implements Cache with a map plus an intrusive LRU list.
// The list front is the most recently used entry.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	stats      Stats

	// Background cleanup
	cleanupInterval time.Duration
	cleanupTicker   *time.Ticker
	cleanupStop     chan struct{}
	cleanupDone     chan struct{}
}

// Config holds configuration for the memory cache
type Config struct {
	MaxEntries      int
	CleanupInterval time.Duration
}

// DefaultConfig returns a cache config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:      10000,
		CleanupInterval: 60 * time.Second,
	}
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(config *Config) *MemoryCache {
	if config == nil {
		config = DefaultConfig()
	}

	cache := &MemoryCache{
		entries:         make(map[string]*list.Element),
		order:           list.New(),
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		cleanupStop:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		cache.cleanupTicker = time.NewTicker(config.CleanupInterval)
		go cache.cleanupLoop()
	}

	return cache
}

// Get retrieves a snapshot and marks it most recently used
func (c *MemoryCache) Get(key string) (*models.ZoneSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.entries[key]
	if !exists {
		c.stats.Misses++
		return nil, false
	}

	entry := element.Value.(*cacheEntry)
	if entry.expired(time.Now()) {
		c.removeElement(element)
		c.stats.Misses++
		return nil, false
	}

	c.order.MoveToFront(element)
	c.stats.Hits++
	return entry.snapshot, true
}

// Set stores a snapshot with a TTL, evicting from the LRU tail when
// the cache is full
func (c *MemoryCache) Set(key string, snapshot *models.ZoneSnapshot, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)

	if element, exists := c.entries[key]; exists {
		entry := element.Value.(*cacheEntry)
		entry.snapshot = snapshot
		entry.expiresAt = expiresAt
		c.order.MoveToFront(element)
		return
	}

	for len(c.entries) >= c.maxEntries {
		tail := c.order.Back()
		if tail == nil {
			break
		}
		c.removeElement(tail)
		c.stats.Evictions++
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{
		key:       key,
		snapshot:  snapshot,
		expiresAt: expiresAt,
	})
}

// Delete removes a snapshot from the cache
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.entries[key]; exists {
		c.removeElement(element)
	}
}

// Clear removes all entries from the cache
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.stats.Entries = 0
}

// Size returns the current number of entries in the cache
func (c *MemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns current cache statistics
func (c *MemoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Entries = len(c.entries)
	stats.calculateHitRate()
	return stats
}

// Close stops the background cleanup and releases resources
func (c *MemoryCache) Close() error {
	if c.cleanupTicker != nil {
		close(c.cleanupStop)
		<-c.cleanupDone
	}
	return nil
}

// cleanupLoop runs the periodic cleanup of expired entries
func (c *MemoryCache) cleanupLoop() {
	defer close(c.cleanupDone)

	for {
		select {
		case <-c.cleanupTicker.C:
			c.cleanupExpired()
		case <-c.cleanupStop:
			c.cleanupTicker.Stop()
			return
		}
	}
}

// cleanupExpired removes expired entries
func (c *MemoryCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for element := c.order.Back(); element != nil; {
		prev := element.Prev()
		if element.Value.(*cacheEntry).expired(now) {
			c.removeElement(element)
		}
		element = prev
	}

	c.stats.LastCleanup = now
}

// removeElement drops an entry from the map and the LRU list.
// Must be called with the mutex held.
func (c *MemoryCache) removeElement(element *list.Element) {
	entry := element.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(element)
}
