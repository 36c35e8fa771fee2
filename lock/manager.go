package lock

import (
	"sync"
	"time"
)

// Manager owns the lease table. Safe for concurrent use.
//
// At most one live lease exists per resource at any instant. Acquire is a
// single test-and-set with no blocking or waiting; callers that want to
// wait must retry.
type Manager struct {
	mu     sync.Mutex
	leases map[string]*Lease
}

// NewManager returns an empty lease table.
func NewManager() *Manager {
	return &Manager{leases: make(map[string]*Lease)}
}

// purge drops the lease for resource if it has expired. Callers hold mu.
func (m *Manager) purge(resource string, now time.Time) {
	if l, ok := m.leases[resource]; ok && !l.Live(now) {
		delete(m.leases, resource)
	}
}

// Acquire attempts to take an exclusive lease on resource for the given
// holder and ttl. It purges an expired lease first, then succeeds only if
// no live lease exists. Returns false without modifying state otherwise.
func (m *Manager) Acquire(resource, holder string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.purge(resource, now)

	if _, held := m.leases[resource]; held {
		return false
	}

	m.leases[resource] = &Lease{
		Resource:   resource,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	return true
}

// Release removes the lease on resource, but only if a live lease exists
// and its holder matches exactly. A peer can never release a lease it does
// not own.
func (m *Manager) Release(resource, holder string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.purge(resource, now)

	l, ok := m.leases[resource]
	if !ok || l.Holder != holder {
		return false
	}
	delete(m.leases, resource)
	return true
}

// ReleaseAllHeldBy removes every live lease held by holder and returns the
// released resource names. Used when a worker unregisters.
func (m *Manager) ReleaseAllHeldBy(holder string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var released []string
	for resource, l := range m.leases {
		if !l.Live(now) {
			delete(m.leases, resource)
			continue
		}
		if l.Holder == holder {
			delete(m.leases, resource)
			released = append(released, resource)
		}
	}
	return released
}

// IsLocked reports whether a live lease exists for resource.
func (m *Manager) IsLocked(resource string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purge(resource, time.Now().UTC())
	_, held := m.leases[resource]
	return held
}

// Holder returns the holder of the live lease for resource. The second
// return is false for an absent or expired lease.
func (m *Manager) Holder(resource string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purge(resource, time.Now().UTC())
	l, ok := m.leases[resource]
	if !ok {
		return "", false
	}
	return l.Holder, true
}

// Live returns copies of all unexpired leases.
func (m *Manager) Live() []*Lease {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	result := make([]*Lease, 0, len(m.leases))
	for resource, l := range m.leases {
		if !l.Live(now) {
			delete(m.leases, resource)
			continue
		}
		result = append(result, l.Clone())
	}
	return result
}

// Restore loads leases from a snapshot, dropping any already expired.
// Existing live leases are never overwritten.
func (m *Manager) Restore(leases []*Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, l := range leases {
		if !l.Live(now) {
			continue
		}
		if existing, ok := m.leases[l.Resource]; ok && existing.Live(now) {
			continue
		}
		m.leases[l.Resource] = l.Clone()
	}
}
