// internal/pdnsbackend/pdns.go
package pdnsbackend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"ipzone.io/internal/iperrors"
	"ipzone.io/internal/models"
	"ipzone.io/internal/pgsqlpool"
)

// PdnsBackend pushes zones into a PowerDNS generic-SQL database: a
// domains row per zone and one records row per resource record. The
// target database is reached through a named pool connection, kept
// separate from the engine's own store connection.
type PdnsBackend struct {
	name           string
	pool           *pgsqlpool.Pool
	connectionName string
}

// Config holds configuration for one PowerDNS output
type Config struct {
	// Name identifies the output in checkpoints and logs
	Name string

	// ConnectionName is the pgsqlpool connection to use
	ConnectionName string
}

// NewPdnsBackend creates a backend over an existing pool connection
func NewPdnsBackend(pool *pgsqlpool.Pool, config *Config) *PdnsBackend {
	return &PdnsBackend{
		name:           config.Name,
		pool:           pool,
		connectionName: config.ConnectionName,
	}
}

// Name identifies the output
func (b *PdnsBackend) Name() string {
	return b.name
}

// EnsureDomain creates the domain row for a zone if it is missing
func (b *PdnsBackend) EnsureDomain(ctx context.Context, zoneName string) error {
	query := `
		INSERT INTO domains (name, type)
		VALUES ($1, 'MASTER')
		ON CONFLICT (name) DO NOTHING`

	if _, err := b.pool.Exec(ctx, b.connectionName, query, zoneName); err != nil {
		return classify(fmt.Errorf("failed to ensure domain %s on %s: %w", zoneName, b.name, err))
	}
	return nil
}

// FetchRecords returns the backend's current non-SOA record set
func (b *PdnsBackend) FetchRecords(ctx context.Context, zoneName string) ([]*Record, error) {
	query := `
		SELECT r.name, r.type, r.ttl, r.content, COALESCE(r.prio, 0)
		FROM records r
		JOIN domains d ON d.id = r.domain_id
		WHERE d.name = $1 AND r.type != 'SOA'
		ORDER BY r.name, r.type, r.content`

	rows, err := b.pool.Query(ctx, b.connectionName, query, zoneName)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to fetch records for %s from %s: %w", zoneName, b.name, err))
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record := &Record{}
		if err := rows.Scan(&record.Name, &record.Type, &record.TTL, &record.Content, &record.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan backend record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate backend records: %w", err))
	}

	return records, nil
}

// FetchSerial returns the backend's current SOA serial, 0 when the
// zone has no SOA row yet
func (b *PdnsBackend) FetchSerial(ctx context.Context, zoneName string) (uint32, error) {
	query := `
		SELECT r.content
		FROM records r
		JOIN domains d ON d.id = r.domain_id
		WHERE d.name = $1 AND r.type = 'SOA'`

	var content string
	err := b.pool.QueryRow(ctx, b.connectionName, query, zoneName).Scan(&content)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, classify(fmt.Errorf("failed to fetch serial for %s from %s: %w", zoneName, b.name, err))
	}

	return parseSOASerial(content)
}

// parseSOASerial extracts the serial, field 3 of the SOA RDATA
func parseSOASerial(content string) (uint32, error) {
	fields := strings.Fields(content)
	if len(fields) < 3 {
		return 0, fmt.Errorf("malformed SOA content %q", content)
	}
	serial, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed SOA serial %q: %w", fields[2], err)
	}
	return uint32(serial), nil
}

// ApplyChanges applies a record diff and the zone's SOA in one
// transaction. The stored serial must come out larger than what the
// backend held, otherwise the transaction is rolled back.
func (b *PdnsBackend) ApplyChanges(ctx context.Context, zone *models.Zone, changes *ChangeSet) error {
	err := b.pool.Transaction(ctx, b.connectionName, func(tx *sql.Tx) error {
		var domainID int
		err := tx.QueryRowContext(ctx, "SELECT id FROM domains WHERE name = $1", zone.Name).Scan(&domainID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("domain %s missing on %s", zone.Name, b.name)
		}
		if err != nil {
			return fmt.Errorf("failed to look up domain %s: %w", zone.Name, err)
		}

		var previousSerial uint32
		var soaContent string
		err = tx.QueryRowContext(ctx,
			"SELECT content FROM records WHERE domain_id = $1 AND type = 'SOA'", domainID).Scan(&soaContent)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to read SOA for %s: %w", zone.Name, err)
		}
		if err == nil {
			if previousSerial, err = parseSOASerial(soaContent); err != nil {
				return err
			}
		}

		for _, record := range changes.Deletions {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM records
				WHERE domain_id = $1 AND name = $2 AND type = $3 AND content = $4`,
				domainID, record.Name, record.Type, record.Content)
			if err != nil {
				return fmt.Errorf("failed to delete record %s %s: %w", record.Name, record.Type, err)
			}
		}

		for _, record := range changes.Additions {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO records (domain_id, name, type, ttl, content, prio, disabled, auth)
				VALUES ($1, $2, $3, $4, $5, $6, false, true)`,
				domainID, record.Name, record.Type, record.TTL, record.Content, record.Priority)
			if err != nil {
				return fmt.Errorf("failed to insert record %s %s: %w", record.Name, record.Type, err)
			}
		}

		soa := SOARecord(zone)
		_, err = tx.ExecContext(ctx, "DELETE FROM records WHERE domain_id = $1 AND type = 'SOA'", domainID)
		if err != nil {
			return fmt.Errorf("failed to replace SOA for %s: %w", zone.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (domain_id, name, type, ttl, content, prio, disabled, auth)
			VALUES ($1, $2, 'SOA', $3, $4, 0, false, true)`,
			domainID, soa.Name, soa.TTL, soa.Content)
		if err != nil {
			return fmt.Errorf("failed to write SOA for %s: %w", zone.Name, err)
		}

		if previousSerial > 0 && zone.Serial <= previousSerial {
			return fmt.Errorf("serial did not advance on %s: %d -> %d: %w",
				b.name, previousSerial, zone.Serial, iperrors.ErrSyncFailed)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE domains SET notified_serial = $1 WHERE id = $2", zone.Serial, domainID)
		if err != nil {
			return fmt.Errorf("failed to update notified serial for %s: %w", zone.Name, err)
		}

		return nil
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Health checks connectivity to the backend database
func (b *PdnsBackend) Health(ctx context.Context) error {
	if err := b.pool.HealthCheck(ctx, b.connectionName); err != nil {
		return fmt.Errorf("backend %s: %w", b.name, iperrors.ErrSyncBackendUnavailable)
	}
	return nil
}

// classify wraps connection-level and temporary database failures as
// retryable. Everything else passes through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exceptions
			"53", // insufficient resources
			"57", // operator intervention (shutdown, crash)
			"58": // system errors
			return fmt.Errorf("%v: %w", err, iperrors.ErrSyncBackendUnavailable)
		}
		return err
	}

	// Driver-level failures (no SQLSTATE) are connection trouble
	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset") ||
		err == sql.ErrConnDone {
		return fmt.Errorf("%v: %w", err, iperrors.ErrSyncBackendUnavailable)
	}

	return err
}
