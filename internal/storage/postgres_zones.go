// internal/storage/postgres_zones.go
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ipzone.io/internal/models"
)

// CreateZone inserts a new zone
func (s *PostgresStore) CreateZone(ctx context.Context, zone *models.Zone) error {
	zone.Normalize()
	if err := zone.Validate(); err != nil {
		return fmt.Errorf("invalid zone: %w", err)
	}

	sqlQuery := `
		INSERT INTO zones (name, primary_ns, mbox, serial, refresh, retry, expire, minimum, default_ttl, profile, record_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery,
		zone.Name,
		zone.PrimaryNS,
		zone.Mbox,
		zone.Serial,
		zone.Refresh,
		zone.Retry,
		zone.Expire,
		zone.Minimum,
		zone.DefaultTTL,
		zone.Profile,
		zone.RecordHash,
	)

	err := row.Scan(&zone.ID, &zone.CreatedAt, &zone.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create zone %s: %w", zone.Name, err)
	}

	return nil
}

// GetZone finds a zone by normalized name
func (s *PostgresStore) GetZone(ctx context.Context, name string) (*models.Zone, error) {
	sqlQuery := `
		SELECT id, name, primary_ns, mbox, serial, refresh, retry, expire, minimum, default_ttl, profile, record_hash, created_at, updated_at
		FROM zones
		WHERE name = $1
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery, models.NormalizeZoneName(name))

	zone, err := scanZone(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No zone found, not an error
		}
		return nil, fmt.Errorf("failed to scan zone %s: %w", name, err)
	}

	return zone, nil
}

// ListZones returns all zones ordered by name
func (s *PostgresStore) ListZones(ctx context.Context) ([]*models.Zone, error) {
	sqlQuery := `
		SELECT id, name, primary_ns, mbox, serial, refresh, retry, expire, minimum, default_ttl, profile, record_hash, created_at, updated_at
		FROM zones
		ORDER BY name
	`

	rows, err := s.pool.Query(ctx, s.connectionName, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []*models.Zone
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		zones = append(zones, zone)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating zones: %w", err)
	}

	return zones, nil
}

// DeleteZone removes a zone, its records and its sync checkpoints in one
// transaction
func (s *PostgresStore) DeleteZone(ctx context.Context, id int) error {
	return s.pool.Transaction(ctx, s.connectionName, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE zone_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete records for zone %d: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_states WHERE zone_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete sync states for zone %d: %w", id, err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM zones WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete zone %d: %w", id, err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rowsAffected == 0 {
			return fmt.Errorf("zone with ID %d not found", id)
		}

		return nil
	})
}

// CommitRecordSet swaps the zone's derived records and persists the new
// serial and record hash in one transaction. Explicit overrides are left
// untouched.
func (s *PostgresStore) CommitRecordSet(ctx context.Context, zone *models.Zone, derived []*models.ResourceRecord) error {
	return s.pool.Transaction(ctx, s.connectionName, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE zone_id = $1 AND derived = TRUE`, zone.ID); err != nil {
			return fmt.Errorf("failed to clear derived records for zone %s: %w", zone.Name, err)
		}

		insertQuery := `
			INSERT INTO records (zone_id, name, record_type, ttl, content, derived)
			VALUES ($1, $2, $3, $4, $5, TRUE)
		`

		for _, record := range derived {
			if _, err := tx.ExecContext(ctx, insertQuery,
				zone.ID, record.Name, record.Type.String(), record.TTL, record.Content); err != nil {
				return fmt.Errorf("failed to insert derived record %s %s: %w", record.Name, record.Type, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE zones SET serial = $1, record_hash = $2, updated_at = NOW() WHERE id = $3`,
			zone.Serial, zone.RecordHash, zone.ID); err != nil {
			return fmt.Errorf("failed to update serial for zone %s: %w", zone.Name, err)
		}

		return nil
	})
}

// ListRecords returns a zone's full record set, derived and explicit
func (s *PostgresStore) ListRecords(ctx context.Context, zoneID int) ([]*models.ResourceRecord, error) {
	sqlQuery := `
		SELECT id, zone_id, name, record_type, ttl, content, derived, created_at, updated_at
		FROM records
		WHERE zone_id = $1
		ORDER BY name, record_type, content
	`

	rows, err := s.pool.Query(ctx, s.connectionName, sqlQuery, zoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records for zone %d: %w", zoneID, err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListExplicitRecords returns only a zone's operator overrides
func (s *PostgresStore) ListExplicitRecords(ctx context.Context, zoneID int) ([]*models.ResourceRecord, error) {
	sqlQuery := `
		SELECT id, zone_id, name, record_type, ttl, content, derived, created_at, updated_at
		FROM records
		WHERE zone_id = $1 AND derived = FALSE
		ORDER BY name, record_type, content
	`

	rows, err := s.pool.Query(ctx, s.connectionName, sqlQuery, zoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to query explicit records for zone %d: %w", zoneID, err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// UpsertExplicitRecord stores an operator override keyed by
// (zone, name, type, content)
func (s *PostgresStore) UpsertExplicitRecord(ctx context.Context, record *models.ResourceRecord) error {
	record.Normalize()
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	sqlQuery := `
		INSERT INTO records (zone_id, name, record_type, ttl, content, derived)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		ON CONFLICT (zone_id, name, record_type, content) DO UPDATE
		SET ttl = EXCLUDED.ttl, derived = FALSE, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery,
		record.ZoneID,
		record.Name,
		record.Type.String(),
		record.TTL,
		record.Content,
	)

	if err := row.Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert record %s %s: %w", record.Name, record.Type, err)
	}

	return nil
}

// DeleteExplicitRecord removes operator overrides matching name and type
func (s *PostgresStore) DeleteExplicitRecord(ctx context.Context, zoneID int, name string, recordType models.RecordType) error {
	sqlQuery := `DELETE FROM records WHERE zone_id = $1 AND name = $2 AND record_type = $3 AND derived = FALSE`

	result, err := s.pool.Exec(ctx, s.connectionName, sqlQuery, zoneID, name, recordType.String())
	if err != nil {
		return fmt.Errorf("failed to delete record %s %s: %w", name, recordType, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("no explicit record found for %s %s", name, recordType)
	}

	return nil
}

// scanZone reads one zone row
func scanZone(row scanner) (*models.Zone, error) {
	var zone models.Zone

	err := row.Scan(
		&zone.ID,
		&zone.Name,
		&zone.PrimaryNS,
		&zone.Mbox,
		&zone.Serial,
		&zone.Refresh,
		&zone.Retry,
		&zone.Expire,
		&zone.Minimum,
		&zone.DefaultTTL,
		&zone.Profile,
		&zone.RecordHash,
		&zone.CreatedAt,
		&zone.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &zone, nil
}

// collectRecords drains a record result set
func collectRecords(rows *sql.Rows) ([]*models.ResourceRecord, error) {
	var records []*models.ResourceRecord
	for rows.Next() {
		var record models.ResourceRecord
		var recordType string

		err := rows.Scan(
			&record.ID,
			&record.ZoneID,
			&record.Name,
			&recordType,
			&record.TTL,
			&record.Content,
			&record.Derived,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		record.Type = models.RecordType(recordType)
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}
