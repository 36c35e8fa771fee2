package worker

import (
	"log/slog"
	"sync"
	"time"
)

// Monitor drives worker liveness: a periodic tick refreshes locally
// registered workers and evicts any worker whose heartbeat is older than
// the offline threshold. Eviction is one-way; an offline worker is never
// revived by the monitor.
type Monitor struct {
	registry  *Registry
	logger    *slog.Logger
	interval  time.Duration
	threshold time.Duration
	onEvict   func(*Worker)

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// WithOfflineThreshold sets how long a worker may go without a heartbeat
// before eviction.
func WithOfflineThreshold(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.threshold = d }
}

// WithEvictionFunc registers a callback invoked with a copy of each
// evicted worker, after the eviction is applied.
func WithEvictionFunc(fn func(*Worker)) MonitorOption {
	return func(m *Monitor) { m.onEvict = fn }
}

// NewMonitor creates a liveness monitor over the given registry.
func NewMonitor(registry *Registry, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		registry:  registry,
		logger:    logger,
		interval:  5 * time.Second,
		threshold: 15 * time.Second,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the tick goroutine. It returns immediately and is a
// no-op if the monitor is already running.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true

	m.logger.Info("liveness monitor starting",
		slog.Duration("interval", m.interval),
		slog.Duration("offline_threshold", m.threshold),
	)

	m.wg.Add(1)
	go m.tickLoop()
}

// Stop signals the tick goroutine to stop and waits for it to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("liveness monitor stopped")
}

func (m *Monitor) tickLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Tick(time.Now().UTC())
		}
	}
}

// Tick runs one liveness pass at the given instant. Exported so tests and
// embedders can drive the monitor without real time.
func (m *Monitor) Tick(now time.Time) {
	m.registry.refreshLocal(now)

	for _, w := range m.registry.evictStale(now, m.threshold) {
		m.logger.Warn("worker evicted",
			slog.String("worker_id", w.ID.String()),
			slog.Time("last_heartbeat", w.LastHeartbeat),
		)
		if m.onEvict != nil {
			m.onEvict(w)
		}
	}
}
