package lock_test

import (
	"testing"
	"time"

	"github.com/peermesh/peermesh/lock"
)

func TestManager_AcquireExclusive(t *testing.T) {
	m := lock.NewManager()

	if !m.Acquire("file", "A", time.Second) {
		t.Fatal("first acquire should succeed")
	}
	if m.Acquire("file", "B", time.Second) {
		t.Error("second acquire on a live lease should fail")
	}
	// Re-acquire by the same holder is still a conflict: no reentrancy.
	if m.Acquire("file", "A", time.Second) {
		t.Error("re-acquire by holder should fail while the lease is live")
	}

	holder, ok := m.Holder("file")
	if !ok || holder != "A" {
		t.Errorf("Holder = %q, %v; want A, true", holder, ok)
	}
}

func TestManager_AcquireAfterExpiry(t *testing.T) {
	m := lock.NewManager()

	if !m.Acquire("file", "A", 20*time.Millisecond) {
		t.Fatal("acquire should succeed")
	}

	time.Sleep(30 * time.Millisecond)

	if m.IsLocked("file") {
		t.Error("expired lease should report unlocked")
	}
	if !m.Acquire("file", "B", time.Second) {
		t.Error("acquire should succeed after expiry")
	}
}

func TestManager_ReleaseHolderMatch(t *testing.T) {
	m := lock.NewManager()
	m.Acquire("file", "A", time.Second)

	if m.Release("file", "B") {
		t.Error("release by non-holder must fail")
	}
	if !m.IsLocked("file") {
		t.Error("failed release must not remove the lease")
	}

	if !m.Release("file", "A") {
		t.Error("release by holder should succeed")
	}
	if m.IsLocked("file") {
		t.Error("released resource should be unlocked")
	}

	// Releasing an absent lease is a no-op.
	if m.Release("file", "A") {
		t.Error("release of absent lease should fail")
	}
}

func TestManager_HolderExpired(t *testing.T) {
	m := lock.NewManager()
	m.Acquire("file", "A", 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	if _, ok := m.Holder("file"); ok {
		t.Error("Holder of an expired lease should report absent")
	}
}

func TestManager_ReleaseAllHeldBy(t *testing.T) {
	m := lock.NewManager()
	m.Acquire("a", "w1", time.Second)
	m.Acquire("b", "w1", time.Second)
	m.Acquire("c", "w2", time.Second)

	released := m.ReleaseAllHeldBy("w1")
	if len(released) != 2 {
		t.Fatalf("released %d leases, want 2", len(released))
	}
	if m.IsLocked("a") || m.IsLocked("b") {
		t.Error("w1 leases should be gone")
	}
	if !m.IsLocked("c") {
		t.Error("w2 lease should survive")
	}
}

func TestManager_Live(t *testing.T) {
	m := lock.NewManager()
	m.Acquire("a", "w1", time.Second)
	m.Acquire("b", "w2", 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	live := m.Live()
	if len(live) != 1 {
		t.Fatalf("len(live) = %d, want 1", len(live))
	}
	if live[0].Resource != "a" {
		t.Errorf("live resource = %q, want a", live[0].Resource)
	}

	// Returned leases are copies.
	live[0].Holder = "mutated"
	if holder, _ := m.Holder("a"); holder != "w1" {
		t.Error("mutating a returned lease leaked into the table")
	}
}

func TestManager_RestoreDropsExpired(t *testing.T) {
	m := lock.NewManager()
	now := time.Now().UTC()

	m.Restore([]*lock.Lease{
		{Resource: "live", Holder: "w1", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)},
		{Resource: "dead", Holder: "w2", AcquiredAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)},
	})

	if !m.IsLocked("live") {
		t.Error("unexpired lease should be restored")
	}
	if m.IsLocked("dead") {
		t.Error("expired lease must be dropped on restore")
	}
}

func TestManager_RestoreKeepsExistingLease(t *testing.T) {
	m := lock.NewManager()
	m.Acquire("file", "A", time.Minute)

	now := time.Now().UTC()
	m.Restore([]*lock.Lease{
		{Resource: "file", Holder: "B", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)},
	})

	if holder, _ := m.Holder("file"); holder != "A" {
		t.Errorf("Holder = %q, want A (restore must not clobber a live lease)", holder)
	}
}
