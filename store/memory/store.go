// Package memory provides a fully in-memory snapshot store. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/peermesh/peermesh"
	"github.com/peermesh/peermesh/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store holds the latest snapshot in memory.
type Store struct {
	mu   sync.RWMutex
	snap *store.Snapshot
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// SaveSnapshot stores a deep copy of the snapshot.
func (m *Store) SaveSnapshot(_ context.Context, snap *store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := snap.Clone()
	if cp.LastUpdate.IsZero() {
		cp.LastUpdate = time.Now().UTC()
	}
	m.snap = cp
	return nil
}

// LoadSnapshot returns a deep copy of the stored snapshot.
func (m *Store) LoadSnapshot(_ context.Context) (*store.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.snap == nil {
		return nil, peermesh.ErrSnapshotNotFound
	}
	return m.snap.Clone(), nil
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }
