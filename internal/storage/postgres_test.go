// internal/storage/postgres_test.go
package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipzone.io/internal/models"
	"ipzone.io/internal/pgsqlpool"
)

func mockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pool := pgsqlpool.NewPool()
	require.NoError(t, pool.AddExistingConnection("primary", db))

	return NewPostgresStoreFromPool(pool, "primary"), mock
}

func TestPostgresGetLayer3Domain(t *testing.T) {
	store, mock := mockStore(t)
	ctx := context.Background()

	now := time.Now()
	mock.ExpectQuery("SELECT id, name, comment, created_by, created_at, updated_at").
		WithArgs("default").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "comment", "created_by", "created_at", "updated_at"}).
			AddRow(1, "default", "primary context", "alice", now, now))

	domain, err := store.GetLayer3Domain(ctx, "default")
	require.NoError(t, err)
	require.NotNil(t, domain)
	assert.Equal(t, 1, domain.ID)
	assert.Equal(t, "default", domain.Name)
	assert.Equal(t, "alice", domain.CreatedBy)

	// A missing row is (nil, nil), not an error
	mock.ExpectQuery("SELECT id, name, comment, created_by, created_at, updated_at").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	domain, err = store.GetLayer3Domain(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, domain)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateLayer3Domain(t *testing.T) {
	store, mock := mockStore(t)
	ctx := context.Background()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO layer3domains").
		WithArgs("default", "lab context", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))

	domain := &models.Layer3Domain{Name: "default", Comment: "lab context", CreatedBy: "alice"}
	require.NoError(t, store.CreateLayer3Domain(ctx, domain))
	assert.Equal(t, 7, domain.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutSyncState(t *testing.T) {
	store, mock := mockStore(t)
	ctx := context.Background()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO sync_states").
		WithArgs(3, "pdns-live", 42, "abc123", "committed", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "updated_at"}).AddRow(9, now))

	state := &models.SyncState{
		ZoneID:     3,
		Output:     "pdns-live",
		Serial:     42,
		RecordHash: "abc123",
		Status:     models.SyncStatusCommitted,
	}
	require.NoError(t, store.PutSyncState(ctx, state))
	assert.Equal(t, 9, state.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDequeueOutputUpdates(t *testing.T) {
	store, mock := mockStore(t)
	ctx := context.Background()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM output_updates").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "zone_name", "serial", "op", "created_at"}).
			AddRow(1, "example.com", 5, "changed", now).
			AddRow(2, "example.org", 2, "created", now))
	mock.ExpectCommit()

	updates, err := store.DequeueOutputUpdates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "example.com", updates[0].ZoneName)
	assert.Equal(t, "changed", updates[0].Op)
	assert.Equal(t, uint32(5), updates[0].Serial)

	assert.NoError(t, mock.ExpectationsWereMet())
}
