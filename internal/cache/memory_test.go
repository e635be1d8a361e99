// internal/cache/memory_test.go
package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipzone.io/internal/models"
)

func snapshot(name string, serial uint32) *models.ZoneSnapshot {
	return &models.ZoneSnapshot{
		Zone: &models.Zone{Name: name, Serial: serial},
	}
}

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(&Config{MaxEntries: 10})
	defer c.Close()

	c.Set("zone:example.com", snapshot("example.com", 3), time.Minute)

	got, found := c.Get("zone:example.com")
	require.True(t, found)
	assert.Equal(t, uint32(3), got.Zone.Serial)

	_, found = c.Get("zone:missing")
	assert.False(t, found)

	c.Delete("zone:example.com")
	_, found = c.Get("zone:example.com")
	assert.False(t, found)
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache(&Config{MaxEntries: 10})
	defer c.Close()

	c.Set("zone:example.com", snapshot("example.com", 1), 10*time.Millisecond)

	_, found := c.Get("zone:example.com")
	require.True(t, found)

	time.Sleep(20 * time.Millisecond)
	_, found = c.Get("zone:example.com")
	assert.False(t, found)
}

func TestMemoryCacheLRUEviction(t *testing.T) {
	c := NewMemoryCache(&Config{MaxEntries: 3})
	defer c.Close()

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("zone:%d", i), snapshot(fmt.Sprintf("z%d.example.com", i), 1), time.Minute)
	}

	// Touch entry 0 so entry 1 becomes the eviction candidate
	_, found := c.Get("zone:0")
	require.True(t, found)

	c.Set("zone:3", snapshot("z3.example.com", 1), time.Minute)

	_, found = c.Get("zone:1")
	assert.False(t, found, "least recently used entry should be evicted")
	_, found = c.Get("zone:0")
	assert.True(t, found)
	assert.Equal(t, 3, c.Size())
}

func TestMemoryCacheStats(t *testing.T) {
	c := NewMemoryCache(&Config{MaxEntries: 10})
	defer c.Close()

	c.Set("zone:example.com", snapshot("example.com", 1), time.Minute)
	c.Get("zone:example.com")
	c.Get("zone:missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.InDelta(t, 50.0, stats.HitRate, 0.01)
}
