// internal/storage/postgres_sync.go
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ipzone.io/internal/models"
)

// GetSyncState finds the checkpoint for one zone/output pair
func (s *PostgresStore) GetSyncState(ctx context.Context, zoneID int, output string) (*models.SyncState, error) {
	sqlQuery := `
		SELECT id, zone_id, output, serial, record_hash, status, last_error, updated_at
		FROM sync_states
		WHERE zone_id = $1 AND output = $2
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery, zoneID, output)

	var state models.SyncState
	var status string
	err := row.Scan(
		&state.ID,
		&state.ZoneID,
		&state.Output,
		&state.Serial,
		&state.RecordHash,
		&status,
		&state.LastError,
		&state.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No checkpoint yet, not an error
		}
		return nil, fmt.Errorf("failed to scan sync state for zone %d output %s: %w", zoneID, output, err)
	}

	state.Status = models.SyncStatus(status)
	return &state, nil
}

// PutSyncState upserts the checkpoint for one zone/output pair
func (s *PostgresStore) PutSyncState(ctx context.Context, state *models.SyncState) error {
	sqlQuery := `
		INSERT INTO sync_states (zone_id, output, serial, record_hash, status, last_error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (zone_id, output) DO UPDATE
		SET serial = EXCLUDED.serial,
		    record_hash = EXCLUDED.record_hash,
		    status = EXCLUDED.status,
		    last_error = EXCLUDED.last_error,
		    updated_at = NOW()
		RETURNING id, updated_at
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery,
		state.ZoneID,
		state.Output,
		state.Serial,
		state.RecordHash,
		string(state.Status),
		state.LastError,
	)

	if err := row.Scan(&state.ID, &state.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save sync state for zone %d output %s: %w", state.ZoneID, state.Output, err)
	}

	return nil
}

// EnqueueOutputUpdate appends a pending zone change notice
func (s *PostgresStore) EnqueueOutputUpdate(ctx context.Context, update *models.OutputUpdate) error {
	sqlQuery := `
		INSERT INTO output_updates (zone_name, serial, op)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery, update.ZoneName, update.Serial, update.Op)

	if err := row.Scan(&update.ID, &update.CreatedAt); err != nil {
		return fmt.Errorf("failed to enqueue output update for zone %s: %w", update.ZoneName, err)
	}

	return nil
}

// DequeueOutputUpdates removes and returns up to limit pending updates in
// insertion order. Runs in one transaction so concurrent schedulers never
// drain the same notice twice.
func (s *PostgresStore) DequeueOutputUpdates(ctx context.Context, limit int) ([]*models.OutputUpdate, error) {
	var updates []*models.OutputUpdate

	err := s.pool.Transaction(ctx, s.connectionName, func(tx *sql.Tx) error {
		sqlQuery := `
			DELETE FROM output_updates
			WHERE id IN (
				SELECT id FROM output_updates
				ORDER BY id
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, zone_name, serial, op, created_at
		`

		rows, err := tx.QueryContext(ctx, sqlQuery, limit)
		if err != nil {
			return fmt.Errorf("failed to dequeue output updates: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var update models.OutputUpdate
			if err := rows.Scan(&update.ID, &update.ZoneName, &update.Serial, &update.Op, &update.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan output update: %w", err)
			}
			updates = append(updates, &update)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return updates, nil
}

// AppendHistory writes one row of the mutation journal
func (s *PostgresStore) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	sqlQuery := `
		INSERT INTO history (author, action, object, detail)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery,
		entry.Author,
		entry.Action,
		entry.Object,
		entry.Detail,
	)

	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	return nil
}

// ListHistory returns the newest journal entries, most recent first
func (s *PostgresStore) ListHistory(ctx context.Context, limit int) ([]*models.HistoryEntry, error) {
	sqlQuery := `
		SELECT id, author, action, object, detail, created_at
		FROM history
		ORDER BY id DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, s.connectionName, sqlQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		var entry models.HistoryEntry
		if err := rows.Scan(&entry.ID, &entry.Author, &entry.Action, &entry.Object, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return entries, nil
}
