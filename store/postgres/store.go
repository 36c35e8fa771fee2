// Package postgres implements store.Store on PostgreSQL via pgx. The
// snapshot lives in a single-row table as jsonb, upserted on every save.
//
// Usage:
//
//	pool, err := pgxpool.New(ctx, dsn)
//	s := postgres.New(pool)
//	if err := s.Migrate(ctx); err != nil { ... }
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peermesh/peermesh"
	"github.com/peermesh/peermesh/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// DefaultRecordKey identifies the snapshot row. Multiple meshes can share
// one table by using distinct keys.
const DefaultRecordKey = "default"

const schema = `
CREATE TABLE IF NOT EXISTS peermesh_snapshots (
	record_key  TEXT PRIMARY KEY,
	snapshot    JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Option configures the Store.
type Option func(*Store)

// WithRecordKey overrides the snapshot row key.
func WithRecordKey(key string) Option {
	return func(s *Store) { s.recordKey = key }
}

// Store implements store.Store backed by PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	recordKey string
}

// New creates a Postgres-backed snapshot store. The caller owns the pool
// lifecycle.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, recordKey: DefaultRecordKey}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Migrate creates the snapshot table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// SaveSnapshot upserts the snapshot row.
func (s *Store) SaveSnapshot(ctx context.Context, snap *store.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: encode snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO peermesh_snapshots (record_key, snapshot, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (record_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = now()`,
		s.recordKey, data,
	)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot fetches and decodes the snapshot row.
func (s *Store) LoadSnapshot(ctx context.Context) (*store.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM peermesh_snapshots WHERE record_key = $1`,
		s.recordKey,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, peermesh.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load snapshot: %w", err)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("postgres: decode snapshot: %w", err)
	}
	return &snap, nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the caller owns the pool lifecycle.
func (s *Store) Close() error { return nil }
