// Package store defines the persistence contract for coordination
// snapshots.
//
// Only the current worker and lock tables are persisted; the message ring
// is never written. Writes are best-effort: the coordinator keeps
// operating in memory when the store is unavailable.
package store

import (
	"context"
	"time"

	"github.com/peermesh/peermesh/lock"
	"github.com/peermesh/peermesh/worker"
)

// Snapshot is the persisted coordination state.
type Snapshot struct {
	Workers    []*worker.Worker `json:"workers"`
	Locks      []*lock.Lease    `json:"locks"`
	LastUpdate time.Time        `json:"last_update"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	cp := &Snapshot{LastUpdate: s.LastUpdate}
	if s.Workers != nil {
		cp.Workers = make([]*worker.Worker, len(s.Workers))
		for i, w := range s.Workers {
			cp.Workers[i] = w.Clone()
		}
	}
	if s.Locks != nil {
		cp.Locks = make([]*lock.Lease, len(s.Locks))
		for i, l := range s.Locks {
			cp.Locks[i] = l.Clone()
		}
	}
	return cp
}

// Store persists coordination snapshots in a durable key-value record.
type Store interface {
	// SaveSnapshot persists the snapshot, replacing any previous one.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// LoadSnapshot returns the most recent snapshot, or
	// peermesh.ErrSnapshotNotFound when none has been saved.
	LoadSnapshot(ctx context.Context) (*Snapshot, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store.
	Close() error
}
