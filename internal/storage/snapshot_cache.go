// internal/storage/snapshot_cache.go
package storage

import (
	"context"
	"fmt"
	"time"

	"ipzone.io/internal/cache"
	"ipzone.io/internal/models"
	"ipzone.io/internal/redis"
)

// SnapshotCache serves published zone snapshots through two cache
// tiers: an in-process LRU (L1) and an optional shared Redis (L2),
// falling back to the store when both miss. Writers invalidate by
// zone name after every record set commit, so readers see at most
// one TTL window of staleness.
type SnapshotCache struct {
	store        Store
	memoryCache  cache.Cache
	redisEnabled bool
	redisClient  string
	keyPrefix    string
	l1TTL        time.Duration
	l2TTL        time.Duration
}

// SnapshotCacheStats represents cache statistics for both tiers
type SnapshotCacheStats struct {
	L1Stats     cache.Stats `json:"l1_memory"`
	L2Stats     RedisStats  `json:"l2_redis"`
	TotalLayers int         `json:"total_layers"`
}

// RedisStats represents Redis-specific cache statistics
type RedisStats struct {
	Connected bool `json:"connected"`
	KeyCount  int  `json:"key_count"`
}

// SnapshotCacheConfig holds configuration for the snapshot cache
type SnapshotCacheConfig struct {
	RedisEnabled bool
	RedisClient  string
	KeyPrefix    string
	L1TTL        time.Duration
	L2TTL        time.Duration
}

// DefaultSnapshotCacheConfig returns a cache config with sensible defaults
func DefaultSnapshotCacheConfig() *SnapshotCacheConfig {
	return &SnapshotCacheConfig{
		RedisEnabled: false,
		RedisClient:  "default",
		KeyPrefix:    "ipzone:",
		L1TTL:        30 * time.Second,
		L2TTL:        5 * time.Minute,
	}
}

// NewSnapshotCache creates a snapshot cache over the given store
func NewSnapshotCache(store Store, memoryCache cache.Cache, config *SnapshotCacheConfig) *SnapshotCache {
	if config == nil {
		config = DefaultSnapshotCacheConfig()
	}

	return &SnapshotCache{
		store:        store,
		memoryCache:  memoryCache,
		redisEnabled: config.RedisEnabled,
		redisClient:  config.RedisClient,
		keyPrefix:    config.KeyPrefix,
		l1TTL:        config.L1TTL,
		l2TTL:        config.L2TTL,
	}
}

// GetSnapshot returns the current snapshot for a zone, trying L1,
// then L2, then building one from the store. Returns (nil, nil) when
// the zone does not exist.
func (sc *SnapshotCache) GetSnapshot(ctx context.Context, zoneName string) (*SnapshotResult, error) {
	cacheKey := sc.cacheKey(zoneName)

	// L1: check memory cache first
	if snapshot, found := sc.memoryCache.Get(cacheKey); found {
		return &SnapshotResult{Snapshot: snapshot, Source: SourceMemory}, nil
	}

	// L2: check Redis
	if sc.redisEnabled {
		var snapshot models.ZoneSnapshot
		if err := redis.GetJSONFrom(sc.redisClient, cacheKey, &snapshot); err == nil && snapshot.Zone != nil {
			sc.memoryCache.Set(cacheKey, &snapshot, sc.l1TTL)
			return &SnapshotResult{Snapshot: &snapshot, Source: SourceRedis}, nil
		}
	}

	// L3: build from the store
	snapshot, err := sc.buildSnapshot(ctx, zoneName)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, nil
	}

	sc.memoryCache.Set(cacheKey, snapshot, sc.l1TTL)
	if sc.redisEnabled {
		if err := redis.SetJSONOn(sc.redisClient, cacheKey, snapshot); err == nil {
			redis.ExpireOn(sc.redisClient, cacheKey, int(sc.l2TTL.Seconds()))
		}
	}

	return &SnapshotResult{Snapshot: snapshot, Source: SourceDatabase}, nil
}

// Invalidate drops the cached snapshot for a zone from both tiers
func (sc *SnapshotCache) Invalidate(zoneName string) {
	cacheKey := sc.cacheKey(zoneName)
	sc.memoryCache.Delete(cacheKey)
	if sc.redisEnabled {
		redis.DeleteOn(sc.redisClient, cacheKey)
	}
}

// Clear removes all cached snapshots from both tiers
func (sc *SnapshotCache) Clear() {
	sc.memoryCache.Clear()

	if sc.redisEnabled {
		pattern := sc.keyPrefix + "*"
		if keys, err := redis.ScanFrom(sc.redisClient, pattern); err == nil && len(keys) > 0 {
			redis.DeleteOn(sc.redisClient, keys...)
		}
	}
}

// Stats returns cache statistics for both tiers
func (sc *SnapshotCache) Stats() SnapshotCacheStats {
	stats := SnapshotCacheStats{
		L1Stats:     sc.memoryCache.Stats(),
		TotalLayers: 1,
	}

	if sc.redisEnabled {
		stats.TotalLayers = 2
		stats.L2Stats = RedisStats{
			Connected: redis.PingClient(sc.redisClient) == nil,
			KeyCount:  sc.redisKeyCount(),
		}
	}

	return stats
}

// Health checks the store and, when enabled, the Redis tier
func (sc *SnapshotCache) Health(ctx context.Context) error {
	if err := sc.store.Health(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}

	if sc.redisEnabled {
		if err := redis.PingClient(sc.redisClient); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	return nil
}

// buildSnapshot assembles a snapshot from the zone's stored record set
func (sc *SnapshotCache) buildSnapshot(ctx context.Context, zoneName string) (*models.ZoneSnapshot, error) {
	zone, err := sc.store.GetZone(ctx, zoneName)
	if err != nil {
		return nil, fmt.Errorf("failed to load zone %s: %w", zoneName, err)
	}
	if zone == nil {
		return nil, nil
	}

	records, err := sc.store.ListRecords(ctx, zone.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load records for zone %s: %w", zoneName, err)
	}

	return &models.ZoneSnapshot{
		Zone:    zone,
		Records: records,
		Hash:    zone.RecordHash,
	}, nil
}

func (sc *SnapshotCache) cacheKey(zoneName string) string {
	return sc.keyPrefix + models.SnapshotCacheKey(zoneName)
}

func (sc *SnapshotCache) redisKeyCount() int {
	keys, err := redis.ScanFrom(sc.redisClient, sc.keyPrefix+"*")
	if err != nil {
		return -1
	}
	return len(keys)
}
