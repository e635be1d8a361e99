// internal/pdnsbackend/backend.go
package pdnsbackend

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ipzone.io/internal/models"
)

// Record is one row in a nameserver backend, fully qualified. MX
// preference lives in Priority the way the generic-SQL schema stores
// it, not in Content.
type Record struct {
	Name     string
	Type     string
	TTL      uint32
	Content  string
	Priority int
}

// Key identifies a record for diffing
func (r *Record) Key() string {
	return fmt.Sprintf("%s|%s|%d|%s|%d", r.Name, r.Type, r.TTL, r.Content, r.Priority)
}

// ChangeSet is the minimal add/remove diff between the local model
// and a backend's current record set
type ChangeSet struct {
	Additions []*Record
	Deletions []*Record
}

// Empty reports whether applying the change set would write nothing
func (c *ChangeSet) Empty() bool {
	return len(c.Additions) == 0 && len(c.Deletions) == 0
}

// Size returns the total number of record changes
func (c *ChangeSet) Size() int {
	return len(c.Additions) + len(c.Deletions)
}

// Backend is a nameserver output the sync coordinator pushes zones
// into. Implementations classify connection-level and temporary
// failures as ErrSyncBackendUnavailable so the coordinator retries.
type Backend interface {
	// Name identifies the output in checkpoints and logs
	Name() string

	// EnsureDomain creates the backend's domain row if missing
	EnsureDomain(ctx context.Context, zoneName string) error

	// FetchRecords returns the backend's current non-SOA record set
	FetchRecords(ctx context.Context, zoneName string) ([]*Record, error)

	// FetchSerial returns the backend's current SOA serial, 0 when the
	// zone holds no SOA yet
	FetchSerial(ctx context.Context, zoneName string) (uint32, error)

	// ApplyChanges applies a record diff and the zone's SOA in one
	// transaction, verifying the stored serial advanced
	ApplyChanges(ctx context.Context, zone *models.Zone, changes *ChangeSet) error

	// Health checks connectivity
	Health(ctx context.Context) error
}

// ExportRecords converts a zone's stored record set to backend rows:
// owner names become fully qualified, zero TTLs take the zone
// default, and MX preference moves into the priority column. SOA is
// excluded; ApplyChanges writes it from the zone itself.
func ExportRecords(zone *models.Zone, records []*models.ResourceRecord) []*Record {
	exported := make([]*Record, 0, len(records))
	for _, record := range records {
		if record.Type == models.RecordTypeSOA {
			continue
		}

		ttl := record.TTL
		if ttl == 0 {
			ttl = zone.DefaultTTL
		}

		content := record.Content
		priority := 0
		if record.Type == models.RecordTypeMX {
			if fields := strings.Fields(record.Content); len(fields) == 2 {
				if pref, err := strconv.Atoi(fields[0]); err == nil {
					priority = pref
					content = fields[1]
				}
			}
		}

		exported = append(exported, &Record{
			Name:     zone.AbsoluteName(record.Name),
			Type:     record.Type.String(),
			TTL:      ttl,
			Content:  content,
			Priority: priority,
		})
	}

	sort.Slice(exported, func(i, j int) bool { return exported[i].Key() < exported[j].Key() })
	return exported
}

// Diff computes the minimal change set turning the backend's record
// set into the desired one. Identical records produce no change.
func Diff(desired, current []*Record) *ChangeSet {
	desiredKeys := make(map[string]bool, len(desired))
	for _, record := range desired {
		desiredKeys[record.Key()] = true
	}
	currentKeys := make(map[string]bool, len(current))
	for _, record := range current {
		currentKeys[record.Key()] = true
	}

	changes := &ChangeSet{}
	for _, record := range desired {
		if !currentKeys[record.Key()] {
			changes.Additions = append(changes.Additions, record)
		}
	}
	for _, record := range current {
		if !desiredKeys[record.Key()] {
			changes.Deletions = append(changes.Deletions, record)
		}
	}
	return changes
}

// SOARecord renders the zone's SOA as a backend row
func SOARecord(zone *models.Zone) *Record {
	return &Record{
		Name:    zone.Name,
		Type:    "SOA",
		TTL:     zone.DefaultTTL,
		Content: zone.SOAContent(),
	}
}
