// internal/storage/source.go
package storage

import "ipzone.io/internal/models"

// CacheSource indicates where a zone snapshot was retrieved from
type CacheSource string

const (
	SourceDatabase CacheSource = "DB" // Built from database state (L3)
	SourceRedis    CacheSource = "L2" // Retrieved from Redis cache (L2)
	SourceMemory   CacheSource = "L1" // Retrieved from memory cache (L1)
)

// String returns a human-readable representation of the cache source
func (cs CacheSource) String() string {
	return string(cs)
}

// SnapshotResult represents a snapshot lookup with source information
type SnapshotResult struct {
	Snapshot *models.ZoneSnapshot
	Source   CacheSource
}
