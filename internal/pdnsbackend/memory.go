// internal/pdnsbackend/memory.go
package pdnsbackend

import (
	"context"
	"fmt"
	"sync"

	"ipzone.io/internal/iperrors"
	"ipzone.io/internal/models"
)

// MemoryBackend is an in-process nameserver output. Test targets and
// dry-run mode sync into it instead of a live PowerDNS database; it
// also counts applied writes so convergence is observable.
type MemoryBackend struct {
	mu      sync.Mutex
	name    string
	zones   map[string][]*Record
	serials map[string]uint32

	// FailNext makes the next apply fail as transient, for retry tests
	FailNext int

	applied int
	writes  int
}

// NewMemoryBackend creates an empty in-memory output
func NewMemoryBackend(name string) *MemoryBackend {
	return &MemoryBackend{
		name:    name,
		zones:   make(map[string][]*Record),
		serials: make(map[string]uint32),
	}
}

// Name identifies the output
func (b *MemoryBackend) Name() string {
	return b.name
}

// EnsureDomain creates the zone's record set if missing
func (b *MemoryBackend) EnsureDomain(ctx context.Context, zoneName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.zones[zoneName]; !ok {
		b.zones[zoneName] = nil
	}
	return nil
}

// FetchRecords returns the backend's current record set for a zone
func (b *MemoryBackend) FetchRecords(ctx context.Context, zoneName string) ([]*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := make([]*Record, 0, len(b.zones[zoneName]))
	for _, record := range b.zones[zoneName] {
		copied := *record
		records = append(records, &copied)
	}
	return records, nil
}

// FetchSerial returns the backend's current serial for a zone
func (b *MemoryBackend) FetchSerial(ctx context.Context, zoneName string) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.serials[zoneName], nil
}

// ApplyChanges applies a record diff and stores the zone's serial
func (b *MemoryBackend) ApplyChanges(ctx context.Context, zone *models.Zone, changes *ChangeSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailNext > 0 {
		b.FailNext--
		return fmt.Errorf("injected failure on %s: %w", b.name, iperrors.ErrSyncBackendUnavailable)
	}

	if previous := b.serials[zone.Name]; previous > 0 && zone.Serial <= previous {
		return fmt.Errorf("serial did not advance on %s: %d -> %d: %w",
			b.name, previous, zone.Serial, iperrors.ErrSyncFailed)
	}

	current := b.zones[zone.Name]

	remove := make(map[string]bool, len(changes.Deletions))
	for _, record := range changes.Deletions {
		remove[record.Key()] = true
	}

	var next []*Record
	for _, record := range current {
		if !remove[record.Key()] {
			next = append(next, record)
		}
	}
	for _, record := range changes.Additions {
		copied := *record
		next = append(next, &copied)
	}

	b.zones[zone.Name] = next
	b.serials[zone.Name] = zone.Serial
	b.applied++
	b.writes += changes.Size()
	return nil
}

// Health always succeeds for the in-memory output
func (b *MemoryBackend) Health(ctx context.Context) error {
	return nil
}

// ApplyCount returns how many apply transactions have run
func (b *MemoryBackend) ApplyCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applied
}

// WriteCount returns the total record changes applied
func (b *MemoryBackend) WriteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// SetSerial seeds a backend serial, used to simulate drift
func (b *MemoryBackend) SetSerial(zoneName string, serial uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.serials[zoneName] = serial
}
