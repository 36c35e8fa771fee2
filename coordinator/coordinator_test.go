package coordinator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/peermesh/peermesh"
	"github.com/peermesh/peermesh/bus"
	"github.com/peermesh/peermesh/coordinator"
	"github.com/peermesh/peermesh/id"
	"github.com/peermesh/peermesh/lock"
	"github.com/peermesh/peermesh/store"
	"github.com/peermesh/peermesh/store/memory"
	transportmem "github.com/peermesh/peermesh/transport/memory"
	"github.com/peermesh/peermesh/worker"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCoordinator(t *testing.T, opts ...coordinator.Option) *coordinator.Coordinator {
	t.Helper()
	opts = append([]coordinator.Option{coordinator.WithLogger(discard())}, opts...)
	c := coordinator.New(opts...)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func TestCoordinator_RegisterAndFind(t *testing.T) {
	c := newCoordinator(t)

	w1 := c.RegisterWorker("tab-1", []string{"dom", "net"})
	c.RegisterWorker("tab-2", []string{"dom"})

	got, ok := c.FindBestWorker([]string{"dom", "net"})
	if !ok {
		t.Fatal("expected a capable worker")
	}
	if got.ID != w1.ID {
		t.Errorf("FindBestWorker = %v, want %v", got.ID, w1.ID)
	}

	if len(c.Workers()) != 2 {
		t.Errorf("Workers() = %d, want 2", len(c.Workers()))
	}
	if len(c.IdleWorkers()) != 2 {
		t.Errorf("IdleWorkers() = %d, want 2", len(c.IdleWorkers()))
	}
}

func TestCoordinator_UnregisterReleasesLocks(t *testing.T) {
	c := newCoordinator(t)
	w := c.RegisterWorker("tab-1", nil)

	holder := w.ID.String()
	if !c.AcquireLock("res-a", holder, time.Minute) {
		t.Fatal("AcquireLock failed")
	}
	if !c.AcquireLock("res-b", holder, time.Minute) {
		t.Fatal("AcquireLock failed")
	}

	if !c.UnregisterWorker(w.ID) {
		t.Fatal("UnregisterWorker failed")
	}
	if c.IsLocked("res-a") || c.IsLocked("res-b") {
		t.Error("locks survived their holder's unregistration")
	}
	if c.UnregisterWorker(w.ID) {
		t.Error("second UnregisterWorker succeeded")
	}
}

func TestCoordinator_LockAnnouncements(t *testing.T) {
	c := newCoordinator(t)

	var granted, denied int
	c.OnMessage(bus.TypeLockGranted, func(*bus.Message) { granted++ })
	c.OnMessage(bus.TypeLockDenied, func(*bus.Message) { denied++ })

	if !c.AcquireLock("res", "w1", time.Minute) {
		t.Fatal("first AcquireLock failed")
	}
	if c.AcquireLock("res", "w2", time.Minute) {
		t.Fatal("second AcquireLock succeeded under a live lease")
	}

	if granted != 1 || denied != 1 {
		t.Errorf("granted = %d, denied = %d; want 1, 1", granted, denied)
	}

	holder, ok := c.LockHolder("res")
	if !ok || holder != "w1" {
		t.Errorf("LockHolder = %q, %v; want w1, true", holder, ok)
	}
	if !c.ReleaseLock("res", "w1") {
		t.Error("ReleaseLock by holder failed")
	}
}

func TestCoordinator_AssignAndComplete(t *testing.T) {
	c := newCoordinator(t)
	w := c.RegisterWorker("tab-1", []string{"dom"})

	a, err := c.AssignTask(w.ID, "", nil)
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}

	_, err = c.AssignTask(w.ID, "", nil)
	if !errors.Is(err, peermesh.ErrWorkerBusy) {
		t.Errorf("err = %v, want ErrWorkerBusy", err)
	}

	c.CompleteTask(w.ID, a.TaskID, nil)
	cur, _ := c.Worker(w.ID)
	if cur.Status != worker.StatusIdle {
		t.Errorf("Status = %v, want idle", cur.Status)
	}

	stats := c.Stats()
	if stats.TotalWorkers != 1 || stats.IdleWorkers != 1 || stats.BusyWorkers != 0 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestCoordinator_BroadcastReachesPeer(t *testing.T) {
	hub := transportmem.NewHub()
	selfA, selfB := id.NewPeerID(), id.NewPeerID()

	a := newCoordinator(t,
		coordinator.WithSelfID(selfA),
		coordinator.WithTransport(hub.Join(selfA)))
	b := newCoordinator(t,
		coordinator.WithSelfID(selfB),
		coordinator.WithTransport(hub.Join(selfB)))

	var atB, atA []*bus.Message
	b.OnMessage(bus.TypeDataBroadcast, func(m *bus.Message) { atB = append(atB, m) })

	if err := a.Broadcast(context.Background(), bus.TypeDataBroadcast,
		bus.DataBroadcastPayload{Data: []byte(`{"k":"v"}`)}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	if len(atB) != 1 {
		t.Fatalf("peer received %d messages, want 1", len(atB))
	}
	if atB[0].SenderID != selfA.String() {
		t.Errorf("SenderID = %q, want %q", atB[0].SenderID, selfA)
	}

	// The remote delivery must not enter b's outbound history.
	if b.Stats().QueuedMessages != 0 {
		t.Errorf("remote message entered peer's history ring")
	}

	a.OnMessage(bus.TypeDataBroadcast, func(m *bus.Message) { atA = append(atA, m) })
	if err := b.Broadcast(context.Background(), bus.TypeDataBroadcast,
		bus.DataBroadcastPayload{}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(atA) != 1 {
		t.Errorf("reverse direction delivered %d messages, want 1", len(atA))
	}
}

func TestCoordinator_RemoteHeartbeatKeepsWorkerFresh(t *testing.T) {
	hub := transportmem.NewHub()
	selfA, selfB := id.NewPeerID(), id.NewPeerID()

	a := newCoordinator(t,
		coordinator.WithSelfID(selfA),
		coordinator.WithTransport(hub.Join(selfA)))
	b := newCoordinator(t,
		coordinator.WithSelfID(selfB),
		coordinator.WithTransport(hub.Join(selfB)))

	// A heartbeat broadcast by b lands in a's registry and refreshes the
	// worker record there.
	w := a.RegisterWorker("tab-1", nil)

	before, _ := a.Worker(w.ID)
	if err := b.Broadcast(context.Background(), bus.TypeHeartbeat,
		bus.HeartbeatPayload{WorkerID: w.ID.String()}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	after, _ := a.Worker(w.ID)
	if after.LastHeartbeat.Before(before.LastHeartbeat) {
		t.Error("heartbeat moved LastHeartbeat backwards")
	}
}

func TestCoordinator_RestoreFromSnapshot(t *testing.T) {
	st := memory.New()
	now := time.Now().UTC()

	wid := id.NewWorkerID()
	if err := st.SaveSnapshot(context.Background(), &store.Snapshot{
		Workers: []*worker.Worker{{
			ID:            wid,
			OriginToken:   "tab-1",
			Status:        worker.StatusIdle,
			LastHeartbeat: now,
			Capabilities:  []string{"dom"},
			CreatedAt:     now,
		}},
		Locks: []*lock.Lease{
			{Resource: "live", Holder: "w1", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)},
			{Resource: "dead", Holder: "w1", AcquiredAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)},
		},
	}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	c := newCoordinator(t, coordinator.WithStore(st))

	if _, ok := c.Worker(wid); !ok {
		t.Error("restored worker missing")
	}
	if !c.IsLocked("live") {
		t.Error("live lease not restored")
	}
	if c.IsLocked("dead") {
		t.Error("expired lease restored")
	}
}

func TestCoordinator_PersistsAfterMutations(t *testing.T) {
	st := memory.New()
	c := newCoordinator(t, coordinator.WithStore(st))

	w := c.RegisterWorker("tab-1", nil)
	c.AcquireLock("res", w.ID.String(), time.Minute)

	// Synchronous write so the assertion does not race the async ones.
	if err := c.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	snap, err := st.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(snap.Workers) != 1 || len(snap.Locks) != 1 {
		t.Errorf("snapshot has %d workers, %d locks; want 1, 1", len(snap.Workers), len(snap.Locks))
	}
}

// failingStore always errors; the coordinator must degrade to memory-only.
type failingStore struct{}

func (failingStore) SaveSnapshot(context.Context, *store.Snapshot) error {
	return errors.New("store down")
}
func (failingStore) LoadSnapshot(context.Context) (*store.Snapshot, error) {
	return nil, errors.New("store down")
}
func (failingStore) Ping(context.Context) error { return errors.New("store down") }
func (failingStore) Close() error               { return nil }

func TestCoordinator_StoreFailureIsNotFatal(t *testing.T) {
	c := newCoordinator(t, coordinator.WithStore(failingStore{}))

	w := c.RegisterWorker("tab-1", nil)
	if !c.AcquireLock("res", w.ID.String(), time.Minute) {
		t.Error("AcquireLock failed under a failing store")
	}
	if _, err := c.AssignTask(w.ID, "", nil); err != nil {
		t.Errorf("AssignTask failed under a failing store: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestCoordinator_SnapshotWithoutStore(t *testing.T) {
	c := newCoordinator(t)

	if err := c.Snapshot(context.Background()); !errors.Is(err, peermesh.ErrNoStore) {
		t.Errorf("err = %v, want ErrNoStore", err)
	}
}

func TestCoordinator_InitializeShutdownIdempotent(t *testing.T) {
	c := coordinator.New(coordinator.WithLogger(discard()))
	ctx := context.Background()

	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
