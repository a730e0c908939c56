package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tuborlabs/tyield/internal/errors"
)

// PostgresConfig holds connection settings for the Postgres-backed store.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore is an EntityStore backed by a single entities table. The
// version column carries the compare-and-set discipline across processes:
// an UPDATE guarded by WHERE version = $expected either applies exactly once
// or reports a conflict.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to Postgres and ensures the entities table exists.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS entities (
			key        TEXT PRIMARY KEY,
			version    BIGINT NOT NULL,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create entities table: %w", err)
	}
	return nil
}

// Get returns the current record for key.
func (s *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	query := `SELECT version, data FROM entities WHERE key = $1`

	rec := Record{Key: key}
	err := s.db.QueryRowContext(ctx, query, key).Scan(&rec.Version, &rec.Data)
	if err == sql.ErrNoRows {
		return Record{}, errors.NotFound(storeComponent, "get", key)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read entity %s: %w", key, err)
	}
	return rec, nil
}

// Put writes data iff the stored version equals expectedVersion.
func (s *PostgresStore) Put(ctx context.Context, key string, data []byte, expectedVersion uint64) (uint64, error) {
	if expectedVersion == CreateVersion {
		query := `
			INSERT INTO entities (key, version, data, updated_at)
			VALUES ($1, 1, $2, NOW())
			ON CONFLICT (key) DO NOTHING
		`
		res, err := s.db.ExecContext(ctx, query, key, data)
		if err != nil {
			return 0, fmt.Errorf("failed to insert entity %s: %w", key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, errors.Conflict(storeComponent, "put", key)
		}
		return 1, nil
	}

	query := `
		UPDATE entities
		SET version = version + 1, data = $1, updated_at = NOW()
		WHERE key = $2 AND version = $3
	`
	res, err := s.db.ExecContext(ctx, query, data, key, int64(expectedVersion))
	if err != nil {
		return 0, fmt.Errorf("failed to update entity %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a missing row from a version mismatch.
		if _, getErr := s.Get(ctx, key); errors.IsKind(getErr, errors.KindNotFound) {
			return 0, getErr
		}
		return 0, errors.Conflict(storeComponent, "put", key)
	}
	return expectedVersion + 1, nil
}

// List returns all records under prefix, ordered by key.
func (s *PostgresStore) List(ctx context.Context, prefix string) ([]Record, error) {
	query := `SELECT key, version, data FROM entities WHERE key LIKE $1 || '%' ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities under %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Version, &rec.Data); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes a key iff the stored version matches.
func (s *PostgresStore) Delete(ctx context.Context, key string, expectedVersion uint64) error {
	query := `DELETE FROM entities WHERE key = $1 AND version = $2`

	res, err := s.db.ExecContext(ctx, query, key, int64(expectedVersion))
	if err != nil {
		return fmt.Errorf("failed to delete entity %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.Get(ctx, key); errors.IsKind(getErr, errors.KindNotFound) {
			return getErr
		}
		return errors.Conflict(storeComponent, "delete", key)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
