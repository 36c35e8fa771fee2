// Package worker provides the peer registry: known workers, their
// capability sets, liveness, and workload.
//
// Each registered worker represents an execution agent in some underlying
// context (identified by its origin token). Workers are created on
// registration and removed only on explicit unregistration; the liveness
// monitor may mark them offline but never deletes them.
package worker

import (
	"time"

	"github.com/peermesh/peermesh/id"
)

// Status represents the lifecycle state of a worker.
type Status string

const (
	// StatusIdle means the worker is healthy and available for tasks.
	StatusIdle Status = "idle"
	// StatusBusy means the worker is executing a task.
	StatusBusy Status = "busy"
	// StatusOffline means the worker missed its heartbeat window.
	// Offline workers are never revived automatically; the recovery
	// path is re-registration.
	StatusOffline Status = "offline"
	// StatusError is a terminal state set only by external callers.
	StatusError Status = "error"
)

// Worker represents a registered execution agent.
type Worker struct {
	ID id.WorkerID `json:"id"`

	// OriginToken identifies the underlying execution context the worker
	// represents. Informational only.
	OriginToken string `json:"origin_token"`

	Status Status `json:"status"`

	// LastHeartbeat is monotonically non-decreasing and updated only
	// while the worker is not offline.
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// CurrentTask is set if and only if Status == StatusBusy.
	CurrentTask string `json:"current_task,omitempty"`

	// Capabilities is the set of opaque capability tags the worker
	// advertises.
	Capabilities []string `json:"capabilities,omitempty"`

	// Load counts tasks ever assigned. It is never decremented and is
	// used only as a relative ranking signal.
	Load int64 `json:"load"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy. Registry reads hand out clones so no caller
// holds a mutable reference into the table.
func (w *Worker) Clone() *Worker {
	cp := *w
	if w.Capabilities != nil {
		cp.Capabilities = append([]string(nil), w.Capabilities...)
	}
	return &cp
}

// HasCapabilities reports whether the worker's capability set is a
// superset of required.
func (w *Worker) HasCapabilities(required []string) bool {
	for _, req := range required {
		found := false
		for _, c := range w.Capabilities {
			if c == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
