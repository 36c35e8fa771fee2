package worker

import (
	"sync"
	"time"

	"github.com/peermesh/peermesh/id"
)

// Registry tracks known workers. Safe for concurrent use.
//
// Besides the lookup table it keeps an explicit registration-order slice:
// FindBest breaks load ties by "first registered wins", which must be
// deterministic, and Go map iteration order is not.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	order   []string

	// local tracks workers registered through this instance, as opposed
	// to workers restored from a snapshot or synced from a peer. Only
	// local workers are refreshed by the liveness monitor's tick.
	local map[string]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*Worker),
		local:   make(map[string]struct{}),
	}
}

// Register creates a worker with a fresh id, idle status, zero load, and
// a current heartbeat, and returns a copy of the new record.
func (r *Registry) Register(originToken string, capabilities []string) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	w := &Worker{
		ID:            id.NewWorkerID(),
		OriginToken:   originToken,
		Status:        StatusIdle,
		LastHeartbeat: now,
		Capabilities:  append([]string(nil), capabilities...),
		CreatedAt:     now,
	}

	key := w.ID.String()
	r.workers[key] = w
	r.order = append(r.order, key)
	r.local[key] = struct{}{}

	return w.Clone()
}

// Unregister removes a worker. Returns false if the id is unknown.
// Releasing the worker's locks is the coordinator's responsibility.
func (r *Registry) Unregister(workerID id.WorkerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := workerID.String()
	if _, ok := r.workers[key]; !ok {
		return false
	}
	delete(r.workers, key)
	delete(r.local, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the worker with the given id.
func (r *Registry) Get(workerID id.WorkerID) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[workerID.String()]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// List returns copies of all workers in registration order.
func (r *Registry) List() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Worker, 0, len(r.order))
	for _, key := range r.order {
		result = append(result, r.workers[key].Clone())
	}
	return result
}

// ListIdle returns copies of all idle workers in registration order.
func (r *Registry) ListIdle() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Worker
	for _, key := range r.order {
		if w := r.workers[key]; w.Status == StatusIdle {
			result = append(result, w.Clone())
		}
	}
	return result
}

// Count returns the number of workers with the given status. A zero-value
// status counts all workers.
func (r *Registry) Count(status Status) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if status == "" {
		return len(r.workers)
	}
	n := 0
	for _, w := range r.workers {
		if w.Status == status {
			n++
		}
	}
	return n
}

// FindBest returns the idle worker whose capability set is a superset of
// required and whose load is minimal. Ties break by registration order:
// the first registered match wins. This is deterministic but arbitrary,
// not a fairness guarantee.
func (r *Registry) FindBest(required []string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Worker
	for _, key := range r.order {
		w := r.workers[key]
		if w.Status != StatusIdle || !w.HasCapabilities(required) {
			continue
		}
		if best == nil || w.Load < best.Load {
			best = w
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Clone(), true
}

// Heartbeat refreshes the worker's LastHeartbeat. Offline workers are not
// refreshed: the monitor never revives, and neither does a late heartbeat.
// Returns false if the worker is unknown or offline.
func (r *Registry) Heartbeat(workerID id.WorkerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID.String()]
	if !ok || w.Status == StatusOffline {
		return false
	}
	r.touch(w, time.Now().UTC())
	return true
}

// touch advances LastHeartbeat, never moving it backwards.
func (r *Registry) touch(w *Worker, now time.Time) {
	if now.After(w.LastHeartbeat) {
		w.LastHeartbeat = now
	}
}

// MarkBusy transitions an idle worker to busy, records its current task,
// and increments its load counter. Returns false if the worker is unknown
// or not idle.
func (r *Registry) MarkBusy(workerID id.WorkerID, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID.String()]
	if !ok || w.Status != StatusIdle {
		return false
	}
	w.Status = StatusBusy
	w.CurrentTask = taskID
	w.Load++
	return true
}

// MarkIdle resets a worker to idle and clears its current task.
// Returns false if the worker is unknown.
func (r *Registry) MarkIdle(workerID id.WorkerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID.String()]
	if !ok {
		return false
	}
	w.Status = StatusIdle
	w.CurrentTask = ""
	return true
}

// SetStatus force-sets a worker's status. CurrentTask is cleared whenever
// the new status is not busy, preserving the CurrentTask/Busy invariant on
// this mutation path too. Returns false if the worker is unknown.
func (r *Registry) SetStatus(workerID id.WorkerID, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID.String()]
	if !ok {
		return false
	}
	w.Status = status
	if status != StatusBusy {
		w.CurrentTask = ""
	}
	return true
}

// refreshLocal advances LastHeartbeat for all locally registered workers
// that are not offline. Called by the liveness monitor tick.
func (r *Registry) refreshLocal(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.local {
		w, ok := r.workers[key]
		if !ok || w.Status == StatusOffline {
			continue
		}
		r.touch(w, now)
	}
}

// evictStale marks workers whose last heartbeat is older than threshold as
// offline, clearing their current task. Returns copies of the evicted
// workers. Nobody is notified that an in-flight task was abandoned.
func (r *Registry) evictStale(now time.Time, threshold time.Duration) []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-threshold)
	var evicted []*Worker
	for _, key := range r.order {
		w := r.workers[key]
		if w.Status == StatusOffline || w.Status == StatusError {
			continue
		}
		if w.LastHeartbeat.Before(cutoff) {
			w.Status = StatusOffline
			w.CurrentTask = ""
			evicted = append(evicted, w.Clone())
		}
	}
	return evicted
}

// Restore loads workers from a snapshot verbatim, including possibly stale
// busy or offline statuses. Restored workers are not considered local:
// only heartbeat messages from their owning peer keep them fresh.
func (r *Registry) Restore(workers []*Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range workers {
		key := w.ID.String()
		if _, exists := r.workers[key]; exists {
			continue
		}
		r.workers[key] = w.Clone()
		r.order = append(r.order, key)
	}
}
