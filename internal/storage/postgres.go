// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ipzone.io/internal/models"
	"ipzone.io/internal/pgsqlpool"
)

// PostgresStore implements Store on the primary PostgreSQL database
// through a named pgsqlpool connection.
type PostgresStore struct {
	pool           *pgsqlpool.Pool
	connectionName string
}

// Config holds configuration for PostgreSQL storage
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
	}
}

// NewPostgresStore creates a new PostgreSQL store instance
func NewPostgresStore(ctx context.Context, pool *pgsqlpool.Pool, connectionName string, config *Config) (*PostgresStore, error) {
	connConfig := &pgsqlpool.ConnectionConfig{
		Host:            config.Host,
		Port:            config.Port,
		User:            config.User,
		Password:        config.Password,
		DBName:          config.DBName,
		SSLMode:         config.SSLMode,
		MaxOpenConns:    config.MaxOpenConns,
		MaxIdleConns:    config.MaxIdleConns,
		ConnMaxLifetime: config.ConnMaxLifetime,
		ConnMaxIdleTime: config.ConnMaxIdleTime,
	}

	if err := pool.AddConnection(ctx, connectionName, connConfig); err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	return &PostgresStore{
		pool:           pool,
		connectionName: connectionName,
	}, nil
}

// NewPostgresStoreFromPool wraps a connection the pool already holds,
// without dialing a new one
func NewPostgresStoreFromPool(pool *pgsqlpool.Pool, connectionName string) *PostgresStore {
	return &PostgresStore{
		pool:           pool,
		connectionName: connectionName,
	}
}

// CreateLayer3Domain inserts a new layer3domain
func (s *PostgresStore) CreateLayer3Domain(ctx context.Context, domain *models.Layer3Domain) error {
	domain.Normalize()
	if err := domain.Validate(); err != nil {
		return fmt.Errorf("invalid layer3domain: %w", err)
	}

	sqlQuery := `
		INSERT INTO layer3domains (name, comment, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery,
		domain.Name,
		domain.Comment,
		domain.CreatedBy,
	)

	err := row.Scan(&domain.ID, &domain.CreatedAt, &domain.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create layer3domain %s: %w", domain.Name, err)
	}

	return nil
}

// GetLayer3Domain finds a layer3domain by name
func (s *PostgresStore) GetLayer3Domain(ctx context.Context, name string) (*models.Layer3Domain, error) {
	sqlQuery := `
		SELECT id, name, comment, created_by, created_at, updated_at
		FROM layer3domains
		WHERE name = $1
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery, name)

	var domain models.Layer3Domain
	err := row.Scan(
		&domain.ID,
		&domain.Name,
		&domain.Comment,
		&domain.CreatedBy,
		&domain.CreatedAt,
		&domain.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No domain found, not an error
		}
		return nil, fmt.Errorf("failed to scan layer3domain %s: %w", name, err)
	}

	return &domain, nil
}

// ListLayer3Domains returns all layer3domains ordered by name
func (s *PostgresStore) ListLayer3Domains(ctx context.Context) ([]*models.Layer3Domain, error) {
	sqlQuery := `
		SELECT id, name, comment, created_by, created_at, updated_at
		FROM layer3domains
		ORDER BY name
	`

	rows, err := s.pool.Query(ctx, s.connectionName, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query layer3domains: %w", err)
	}
	defer rows.Close()

	var domains []*models.Layer3Domain
	for rows.Next() {
		var domain models.Layer3Domain
		err := rows.Scan(
			&domain.ID,
			&domain.Name,
			&domain.Comment,
			&domain.CreatedBy,
			&domain.CreatedAt,
			&domain.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan layer3domain: %w", err)
		}
		domains = append(domains, &domain)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating layer3domains: %w", err)
	}

	return domains, nil
}

// UpdateLayer3Domain updates a layer3domain's name and comment
func (s *PostgresStore) UpdateLayer3Domain(ctx context.Context, domain *models.Layer3Domain) error {
	domain.Normalize()
	if err := domain.Validate(); err != nil {
		return fmt.Errorf("invalid layer3domain: %w", err)
	}

	sqlQuery := `
		UPDATE layer3domains
		SET name = $1, comment = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery, domain.Name, domain.Comment, domain.ID)

	err := row.Scan(&domain.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("layer3domain with ID %d not found", domain.ID)
		}
		return fmt.Errorf("failed to update layer3domain ID %d: %w", domain.ID, err)
	}

	return nil
}

// DeleteLayer3Domain deletes a layer3domain by ID. The caller checks the
// empty precondition under the domain lock before calling.
func (s *PostgresStore) DeleteLayer3Domain(ctx context.Context, id int) error {
	sqlQuery := `DELETE FROM layer3domains WHERE id = $1`

	result, err := s.pool.Exec(ctx, s.connectionName, sqlQuery, id)
	if err != nil {
		return fmt.Errorf("failed to delete layer3domain ID %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("layer3domain with ID %d not found", id)
	}

	return nil
}

// CountSubnets counts subnets belonging to a layer3domain
func (s *PostgresStore) CountSubnets(ctx context.Context, domainID int) (int, error) {
	sqlQuery := `SELECT COUNT(*) FROM subnets WHERE layer3domain_id = $1`

	var count int
	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery, domainID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count subnets for domain %d: %w", domainID, err)
	}

	return count, nil
}

// Health checks if the database connection is healthy
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.pool.HealthCheck(ctx, s.connectionName)
}

// Close closes the database connection pool
func (s *PostgresStore) Close() error {
	return s.pool.Close()
}

// InitializeSchema creates the engine tables using a schema file
func (s *PostgresStore) InitializeSchema(ctx context.Context, schemaFilePath string) error {
	return s.pool.ExecSchemaFile(ctx, s.connectionName, schemaFilePath)
}

// marshalAttrs serializes attributes for the JSONB column
func marshalAttrs(attrs models.Attrs) ([]byte, error) {
	if attrs == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(attrs)
}

// unmarshalAttrs deserializes the JSONB column, tolerating NULL
func unmarshalAttrs(raw []byte) (models.Attrs, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var attrs models.Attrs
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}
