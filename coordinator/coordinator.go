// Package coordinator assembles the coordination subsystems behind one
// façade: worker registry, liveness monitor, lock manager, message bus,
// dispatcher, snapshot persistence, and the peer broadcast transport.
//
// A Coordinator is constructed once and injected where needed; there is no
// package-level singleton. All state lives in memory. Persistence is a
// best-effort snapshot written after every externally observable mutation:
// a failing store degrades the coordinator to memory-only operation, it
// never makes an operation fail.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/peermesh/peermesh"
	"github.com/peermesh/peermesh/bus"
	"github.com/peermesh/peermesh/dispatcher"
	"github.com/peermesh/peermesh/id"
	"github.com/peermesh/peermesh/lock"
	"github.com/peermesh/peermesh/observability"
	"github.com/peermesh/peermesh/store"
	"github.com/peermesh/peermesh/transport"
	"github.com/peermesh/peermesh/worker"
)

// snapshotWriteTimeout bounds each async snapshot write so a hung store
// cannot leak goroutines past Shutdown's wait.
const snapshotWriteTimeout = 10 * time.Second

// Stats is a point-in-time view of the coordinator's state, computed on
// demand rather than maintained incrementally.
type Stats struct {
	TotalWorkers   int `json:"total_workers"`
	IdleWorkers    int `json:"idle_workers"`
	BusyWorkers    int `json:"busy_workers"`
	ActiveLocks    int `json:"active_locks"`
	QueuedMessages int `json:"queued_messages"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithConfig overrides the default timing and capacity configuration.
func WithConfig(cfg peermesh.Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// WithStore sets the snapshot store. Without one the coordinator runs
// memory-only and Snapshot returns ErrNoStore.
func WithStore(s store.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithTransport attaches a peer broadcast transport. Without one the
// coordinator operates standalone.
func WithTransport(t transport.Transport) Option {
	return func(c *Coordinator) { c.transport = t }
}

// WithMetrics attaches the observability counter set.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithSelfID overrides the generated peer id. Useful when an instance
// must keep its identity across restarts.
func WithSelfID(peerID id.PeerID) Option {
	return func(c *Coordinator) { c.self = peerID }
}

// Coordinator is the single entry point to the coordination layer.
type Coordinator struct {
	self   id.PeerID
	cfg    peermesh.Config
	logger *slog.Logger

	registry *worker.Registry
	monitor  *worker.Monitor
	locks    *lock.Manager
	bus      *bus.Bus
	dispatch *dispatcher.Dispatcher

	store     store.Store
	transport transport.Transport
	metrics   *observability.Metrics

	mu          sync.Mutex
	initialized bool
	unsubs      []func()
	snapWG      sync.WaitGroup
}

// New assembles a coordinator. Call Initialize before use.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:    peermesh.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.self.IsNil() {
		c.self = id.NewPeerID()
	}

	c.registry = worker.NewRegistry()
	c.locks = lock.NewManager()
	c.bus = bus.New(c.logger, bus.WithCapacity(c.cfg.BusCapacity))
	c.monitor = worker.NewMonitor(c.registry, c.logger,
		worker.WithInterval(c.cfg.HeartbeatInterval),
		worker.WithOfflineThreshold(c.cfg.OfflineThreshold),
		worker.WithEvictionFunc(c.onEvict),
	)
	c.dispatch = dispatcher.New(c.registry, c.bus, c.self,
		dispatcher.WithLogger(c.logger),
		dispatcher.WithMessageTTL(c.cfg.DefaultMessageTTL),
	)
	return c
}

// SelfID returns this coordinator's peer identity.
func (c *Coordinator) SelfID() id.PeerID { return c.self }

// Initialize restores persisted state, starts the liveness monitor, and
// attaches the transport. Restore is best-effort: a failing store is
// logged and the coordinator continues with empty in-memory state.
// Initialize is idempotent.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	c.restore(ctx)

	// Heartbeat messages from peers keep their workers' records fresh in
	// this instance's registry.
	c.unsubs = append(c.unsubs, c.bus.Subscribe(bus.TypeHeartbeat, c.onHeartbeat))

	if c.transport != nil {
		c.transport.SetHandler(c.bus.DeliverRemote)
	}

	c.monitor.Start()
	c.initialized = true

	c.logger.Info("coordinator initialized",
		slog.String("peer_id", c.self.String()),
		slog.Int("workers", c.registry.Count("")),
		slog.Int("locks", len(c.locks.Live())),
	)
	return nil
}

// Shutdown stops the monitor, detaches the transport, and waits for
// in-flight snapshot writes. Workers and locks are left as they are;
// leases expire on their own. Shutdown is idempotent.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = false
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	c.monitor.Stop()
	for _, unsub := range unsubs {
		unsub()
	}

	var err error
	if c.transport != nil {
		err = c.transport.Close()
	}

	done := make(chan struct{})
	go func() {
		c.snapWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("shutdown abandoned in-flight snapshot writes",
			slog.Any("error", ctx.Err()))
	}

	c.logger.Info("coordinator shut down", slog.String("peer_id", c.self.String()))
	return err
}

// RegisterWorker adds a worker with the given origin and capabilities and
// returns a copy of its record.
func (c *Coordinator) RegisterWorker(originToken string, capabilities []string) *worker.Worker {
	w := c.registry.Register(originToken, capabilities)
	c.metrics.WorkerRegistered(context.Background())
	c.persist()

	c.logger.Info("worker registered",
		slog.String("worker_id", w.ID.String()),
		slog.String("origin", originToken),
		slog.Any("capabilities", w.Capabilities),
	)
	return w
}

// UnregisterWorker removes a worker and releases every lock it holds.
// Returns false if the worker is unknown.
func (c *Coordinator) UnregisterWorker(workerID id.WorkerID) bool {
	if !c.registry.Unregister(workerID) {
		return false
	}
	released := c.locks.ReleaseAllHeldBy(workerID.String())
	c.persist()

	c.logger.Info("worker unregistered",
		slog.String("worker_id", workerID.String()),
		slog.Int("locks_released", len(released)),
	)
	return true
}

// Worker returns a copy of the worker record.
func (c *Coordinator) Worker(workerID id.WorkerID) (*worker.Worker, bool) {
	return c.registry.Get(workerID)
}

// Workers returns copies of all worker records in registration order.
func (c *Coordinator) Workers() []*worker.Worker {
	return c.registry.List()
}

// IdleWorkers returns copies of all idle worker records.
func (c *Coordinator) IdleWorkers() []*worker.Worker {
	return c.registry.ListIdle()
}

// FindBestWorker returns the least-loaded idle worker satisfying the
// required capabilities, ties broken by registration order.
func (c *Coordinator) FindBestWorker(required []string) (*worker.Worker, bool) {
	return c.registry.FindBest(required)
}

// Heartbeat refreshes a worker's liveness. A heartbeat for an offline
// worker is rejected; the worker must re-register.
func (c *Coordinator) Heartbeat(workerID id.WorkerID) bool {
	return c.registry.Heartbeat(workerID)
}

// AssignTask hands a task to the worker and announces it on the bus.
// An empty taskID gets a generated one.
func (c *Coordinator) AssignTask(workerID id.WorkerID, taskID string, payload json.RawMessage) (dispatcher.Assignment, error) {
	a, err := c.dispatch.Assign(workerID, taskID, payload)
	if err != nil {
		return dispatcher.Assignment{}, err
	}
	c.metrics.TaskAssigned(context.Background())
	c.persist()
	return a, nil
}

// CompleteTask returns the worker to idle and announces the completion.
// Completion for an unknown worker is a silent no-op.
func (c *Coordinator) CompleteTask(workerID id.WorkerID, taskID string, result json.RawMessage) {
	c.dispatch.Complete(workerID, taskID, result)
	c.metrics.TaskCompleted(context.Background())
	c.persist()
}

// FailTask marks the worker errored and announces the failure.
func (c *Coordinator) FailTask(workerID id.WorkerID, taskID, reason string) {
	c.dispatch.Fail(workerID, taskID, reason)
	c.persist()
}

// AcquireLock attempts to take an exclusive lease on resource for holder.
// A non-positive ttl uses the configured default. The outcome is announced
// on the bus as lock-granted or lock-denied.
func (c *Coordinator) AcquireLock(resource, holder string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.cfg.DefaultLockTTL
	}

	if !c.locks.Acquire(resource, holder, ttl) {
		c.metrics.LockDenied(context.Background())
		current, _ := c.locks.Holder(resource)
		c.announce(bus.TypeLockDenied, bus.LockDeniedPayload{
			Resource: resource,
			Holder:   current,
		})
		return false
	}

	c.metrics.LockGranted(context.Background())
	c.announce(bus.TypeLockGranted, bus.LockGrantedPayload{
		Resource: resource,
		Holder:   holder,
	})
	c.persist()
	return true
}

// ReleaseLock releases the lease on resource if holder owns it.
func (c *Coordinator) ReleaseLock(resource, holder string) bool {
	if !c.locks.Release(resource, holder) {
		return false
	}
	c.announce(bus.TypeLockRelease, bus.LockReleasePayload{Resource: resource})
	c.persist()
	return true
}

// IsLocked reports whether a live lease exists for resource.
func (c *Coordinator) IsLocked(resource string) bool {
	return c.locks.IsLocked(resource)
}

// LockHolder returns the holder of the live lease for resource.
func (c *Coordinator) LockHolder(resource string) (string, bool) {
	return c.locks.Holder(resource)
}

// Broadcast publishes a message locally and hands it to the transport for
// delivery to peers. The payload must match the shape registered for the
// message type.
func (c *Coordinator) Broadcast(ctx context.Context, t bus.Type, payload any) error {
	m, err := bus.NewMessage(t, c.self.String(), "", payload, c.cfg.DefaultMessageTTL)
	if err != nil {
		return err
	}
	if err := c.bus.Publish(m); err != nil {
		return err
	}
	c.metrics.MessagePublished(ctx, string(t))
	c.persist()

	if c.transport != nil {
		if err := c.transport.Broadcast(ctx, m); err != nil {
			c.logger.Warn("transport broadcast failed",
				slog.String("message_id", m.ID.String()),
				slog.String("type", string(t)),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// OnMessage registers a handler for a message type and returns an
// unsubscribe function.
func (c *Coordinator) OnMessage(t bus.Type, h bus.Handler) func() {
	return c.bus.Subscribe(t, h)
}

// RecentMessages returns copies of the newest n locally published
// messages, oldest first.
func (c *Coordinator) RecentMessages(n int) []*bus.Message {
	return c.bus.Recent(n)
}

// Stats computes a point-in-time summary of coordinator state.
func (c *Coordinator) Stats() Stats {
	return Stats{
		TotalWorkers:   c.registry.Count(""),
		IdleWorkers:    c.registry.Count(worker.StatusIdle),
		BusyWorkers:    c.registry.Count(worker.StatusBusy),
		ActiveLocks:    len(c.locks.Live()),
		QueuedMessages: c.bus.Len(),
	}
}

// Snapshot synchronously writes the current state to the store. Unlike
// the automatic after-mutation writes, errors are returned to the caller.
func (c *Coordinator) Snapshot(ctx context.Context) error {
	if c.store == nil {
		return peermesh.ErrNoStore
	}
	return c.store.SaveSnapshot(ctx, c.buildSnapshot())
}

// restore loads the persisted snapshot into the registry and lock table.
func (c *Coordinator) restore(ctx context.Context) {
	if c.store == nil {
		return
	}

	snap, err := c.store.LoadSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, peermesh.ErrSnapshotNotFound) {
			c.logger.Warn("snapshot restore failed, starting empty",
				slog.Any("error", err))
		}
		return
	}

	c.registry.Restore(snap.Workers)
	c.locks.Restore(snap.Locks)
	c.logger.Info("snapshot restored",
		slog.Int("workers", len(snap.Workers)),
		slog.Int("locks", len(snap.Locks)),
		slog.Time("last_update", snap.LastUpdate),
	)
}

// buildSnapshot captures the current state. Workers keep their statuses
// verbatim, including busy and offline; staleness is resolved on restore
// by lease expiry and the liveness monitor.
func (c *Coordinator) buildSnapshot() *store.Snapshot {
	return &store.Snapshot{
		Workers:    c.registry.List(),
		Locks:      c.locks.Live(),
		LastUpdate: time.Now().UTC(),
	}
}

// persist writes the current state to the store asynchronously. The
// snapshot itself is captured synchronously so the write reflects the
// state at the time of the mutation. Store errors are logged, never
// surfaced; persistence is best-effort.
func (c *Coordinator) persist() {
	if c.store == nil {
		return
	}
	snap := c.buildSnapshot()

	c.snapWG.Add(1)
	go func() {
		defer c.snapWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), snapshotWriteTimeout)
		defer cancel()

		if err := c.store.SaveSnapshot(ctx, snap); err != nil {
			c.logger.Warn("snapshot write failed",
				slog.Any("error", err))
		}
	}()
}

// announce publishes a coordination event, logging rather than surfacing
// failures. Announcements are advisory; the state change already happened.
func (c *Coordinator) announce(t bus.Type, payload any) {
	m, err := bus.NewMessage(t, c.self.String(), "", payload, c.cfg.DefaultMessageTTL)
	if err != nil {
		c.logger.Error("building announcement",
			slog.String("type", string(t)),
			slog.Any("error", err))
		return
	}
	if err := c.bus.Publish(m); err != nil {
		c.logger.Error("publishing announcement",
			slog.String("type", string(t)),
			slog.Any("error", err))
		return
	}
	c.metrics.MessagePublished(context.Background(), string(t))
}

// onHeartbeat applies a heartbeat message to the registry. A heartbeat
// for an unknown or offline worker is dropped.
func (c *Coordinator) onHeartbeat(m *bus.Message) {
	var p bus.HeartbeatPayload
	if err := bus.DecodePayload(m, &p); err != nil {
		return
	}
	wid, err := id.ParseWorkerID(p.WorkerID)
	if err != nil {
		return
	}
	c.registry.Heartbeat(wid)
}

// onEvict runs for each worker the liveness monitor marks offline.
func (c *Coordinator) onEvict(*worker.Worker) {
	c.metrics.WorkerEvicted(context.Background())
	c.persist()
}
