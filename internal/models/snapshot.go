// internal/models/snapshot.go
package models

// ZoneSnapshot is one fully built zone: the zone row plus its canonically
// sorted record set and content hash. Snapshots are what the caches hold
// and what the sync coordinator diffs against a backend.
type ZoneSnapshot struct {
	Zone    *Zone             `json:"zone"`
	Records []*ResourceRecord `json:"records"`
	Hash    string            `json:"hash"`
}

// CacheKey returns the cache key for a zone's snapshot.
func SnapshotCacheKey(zoneName string) string {
	return "zone:" + NormalizeZoneName(zoneName)
}
