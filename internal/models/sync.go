// internal/models/sync.go
package models

import (
	"fmt"
	"time"
)

// SyncStatus is the terminal outcome of a sync cycle for one zone/output
// pair.
type SyncStatus string

const (
	SyncStatusCommitted SyncStatus = "committed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncState is the per-zone-per-output checkpoint recording what was last
// pushed to an external nameserver database. Owned exclusively by the sync
// coordinator.
type SyncState struct {
	ID         int        `db:"id"`
	ZoneID     int        `db:"zone_id"`
	Output     string     `db:"output"`
	Serial     uint32     `db:"serial"`
	RecordHash string     `db:"record_hash"`
	Status     SyncStatus `db:"status"`
	LastError  string     `db:"last_error"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

// Output is a named sync target: one external authoritative nameserver
// database in the PowerDNS generic-SQL schema.
type Output struct {
	ID             int       `db:"id"`
	Name           string    `db:"name"`
	ConnectionName string    `db:"connection_name"`
	Enabled        bool      `db:"enabled"`
	CreatedAt      time.Time `db:"created_at"`
}

// Validate checks the output before it is stored
func (o *Output) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("output name cannot be empty")
	}
	if o.ConnectionName == "" {
		return fmt.Errorf("output %s has no connection name", o.Name)
	}
	return nil
}

// OutputUpdate is a pending zone-level change notice. Allocator and zone
// mutations enqueue one; the sync scheduler drains the queue so touched
// zones sync promptly.
type OutputUpdate struct {
	ID        int       `db:"id"`
	ZoneName  string    `db:"zone_name"`
	Serial    uint32    `db:"serial"`
	Op        string    `db:"op"` // created, changed, deleted
	CreatedAt time.Time `db:"created_at"`
}

// HistoryEntry is one row of the append-only mutation journal: who did
// what, to which object, when.
type HistoryEntry struct {
	ID        int       `db:"id"`
	Author    string    `db:"author"`
	Action    string    `db:"action"`
	Object    string    `db:"object"`
	Detail    string    `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}
