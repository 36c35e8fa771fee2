package worker_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/peermesh/peermesh/id"
	"github.com/peermesh/peermesh/worker"
)

func newTestMonitor(t *testing.T, reg *worker.Registry) *worker.Monitor {
	t.Helper()
	return worker.NewMonitor(reg, slog.Default(),
		worker.WithInterval(5*time.Second),
		worker.WithOfflineThreshold(15*time.Second),
	)
}

// restoreWithHeartbeat seeds a non-local worker whose heartbeat is fixed
// at the given time, the way a snapshot restore would.
func restoreWithHeartbeat(reg *worker.Registry, hb time.Time, status worker.Status, task string) *worker.Worker {
	w := &worker.Worker{
		ID:            id.NewWorkerID(),
		OriginToken:   "restored",
		Status:        status,
		LastHeartbeat: hb,
		CurrentTask:   task,
		CreatedAt:     hb,
	}
	reg.Restore([]*worker.Worker{w})
	return w
}

func TestMonitor_EvictsStaleWorker(t *testing.T) {
	reg := worker.NewRegistry()
	mon := newTestMonitor(t, reg)

	now := time.Now().UTC()
	w := restoreWithHeartbeat(reg, now.Add(-20*time.Second), worker.StatusBusy, "t1")

	mon.Tick(now)

	got, _ := reg.Get(w.ID)
	if got.Status != worker.StatusOffline {
		t.Fatalf("Status = %q, want offline", got.Status)
	}
	if got.CurrentTask != "" {
		t.Error("expected CurrentTask cleared on eviction")
	}
}

func TestMonitor_FreshWorkerSurvivesTick(t *testing.T) {
	reg := worker.NewRegistry()
	mon := newTestMonitor(t, reg)

	now := time.Now().UTC()
	w := restoreWithHeartbeat(reg, now.Add(-5*time.Second), worker.StatusIdle, "")

	mon.Tick(now)

	got, _ := reg.Get(w.ID)
	if got.Status != worker.StatusIdle {
		t.Errorf("Status = %q, want idle", got.Status)
	}
}

func TestMonitor_HeartbeatPreventsEviction(t *testing.T) {
	reg := worker.NewRegistry()
	mon := newTestMonitor(t, reg)

	now := time.Now().UTC()
	w := restoreWithHeartbeat(reg, now.Add(-20*time.Second), worker.StatusIdle, "")

	// A heartbeat message arrives before the tick.
	if !reg.Heartbeat(w.ID) {
		t.Fatal("expected heartbeat to be accepted")
	}

	mon.Tick(time.Now().UTC())

	got, _ := reg.Get(w.ID)
	if got.Status != worker.StatusIdle {
		t.Errorf("Status = %q, want idle after heartbeat", got.Status)
	}
}

func TestMonitor_OfflineIsNeverRevived(t *testing.T) {
	reg := worker.NewRegistry()
	mon := newTestMonitor(t, reg)

	now := time.Now().UTC()
	w := restoreWithHeartbeat(reg, now.Add(-20*time.Second), worker.StatusIdle, "")

	mon.Tick(now)

	// Late heartbeats are ignored for offline workers.
	if reg.Heartbeat(w.ID) {
		t.Error("expected heartbeat on offline worker to be rejected")
	}

	mon.Tick(now.Add(time.Minute))
	got, _ := reg.Get(w.ID)
	if got.Status != worker.StatusOffline {
		t.Errorf("Status = %q, want offline to stay offline", got.Status)
	}
}

func TestMonitor_LocalWorkersStayFresh(t *testing.T) {
	reg := worker.NewRegistry()
	mon := newTestMonitor(t, reg)

	w := reg.Register("tab-1", nil)
	before, _ := reg.Get(w.ID)

	// Ticks far in the future still refresh local workers first, so a
	// locally registered worker is never evicted by its own monitor.
	future := time.Now().UTC().Add(time.Hour)
	mon.Tick(future)

	got, _ := reg.Get(w.ID)
	if got.Status != worker.StatusIdle {
		t.Errorf("Status = %q, want idle", got.Status)
	}
	if !got.LastHeartbeat.After(before.LastHeartbeat) {
		t.Error("expected tick to advance local heartbeat")
	}
}

func TestMonitor_ErrorIsTerminal(t *testing.T) {
	reg := worker.NewRegistry()
	mon := newTestMonitor(t, reg)

	now := time.Now().UTC()
	w := restoreWithHeartbeat(reg, now.Add(-time.Hour), worker.StatusError, "")

	mon.Tick(now)

	got, _ := reg.Get(w.ID)
	if got.Status != worker.StatusError {
		t.Errorf("Status = %q, want error untouched by monitor", got.Status)
	}
}

func TestMonitor_StartStop(t *testing.T) {
	reg := worker.NewRegistry()
	mon := worker.NewMonitor(reg, slog.Default(),
		worker.WithInterval(10*time.Millisecond),
	)

	mon.Start()
	mon.Start() // idempotent

	time.Sleep(30 * time.Millisecond)

	mon.Stop()
	mon.Stop() // idempotent
}
