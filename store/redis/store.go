// Package redis implements store.Store on Redis. The snapshot is a single
// msgpack blob under one key, optionally expiring so a long-dead mesh does
// not leave state behind.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/peermesh/peermesh"
	"github.com/peermesh/peermesh/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// DefaultKey is the Redis key the snapshot is stored under.
const DefaultKey = "peermesh:snapshot"

// Option configures the Store.
type Option func(*Store)

// WithKey overrides the snapshot key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithExpiry sets a TTL on the snapshot key. Zero means no expiry.
func WithExpiry(d time.Duration) Option {
	return func(s *Store) { s.expiry = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client redis.Cmdable
	key    string
	expiry time.Duration
	logger *slog.Logger
}

// New creates a Redis-backed snapshot store. The caller owns the Redis
// client lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		key:    DefaultKey,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// SaveSnapshot replaces the stored snapshot blob.
func (s *Store) SaveSnapshot(ctx context.Context, snap *store.Snapshot) error {
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.expiry).Err(); err != nil {
		return fmt.Errorf("redis: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot fetches and decodes the stored snapshot blob.
func (s *Store) LoadSnapshot(ctx context.Context) (*store.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, peermesh.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load snapshot: %w", err)
	}

	var snap store.Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("redis: decode snapshot: %w", err)
	}
	return &snap, nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
