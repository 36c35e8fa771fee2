// Package lock provides advisory, lease-based mutual exclusion over named
// resources.
//
// A lease is a time-bounded exclusive grant that expires on its own, so a
// crashed holder needs no unlock protocol. Expired leases are logically
// absent and purged lazily before any read or acquire. Clock skew across
// peers is an accepted risk: this is advisory locking for cooperating
// peers, not a safety-critical mutex.
package lock

import "time"

// Lease is an exclusive lease over a named resource.
type Lease struct {
	Resource   string    `json:"resource"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Live reports whether the lease has not yet expired at the given instant.
func (l *Lease) Live(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// Clone returns a copy of the lease.
func (l *Lease) Clone() *Lease {
	cp := *l
	return &cp
}
