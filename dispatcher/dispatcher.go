// Package dispatcher assigns tasks to workers and reports their completion
// over the message bus.
package dispatcher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/peermesh/peermesh"
	"github.com/peermesh/peermesh/bus"
	"github.com/peermesh/peermesh/id"
	"github.com/peermesh/peermesh/worker"
)

// Assignment records a task handed to a worker.
type Assignment struct {
	WorkerID id.WorkerID `json:"worker_id"`
	TaskID   string      `json:"task_id"`
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMessageTTL overrides the ttl stamped on published dispatch messages.
func WithMessageTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) { d.ttl = ttl }
}

// Dispatcher hands tasks to registry workers and announces the
// assignments on the bus.
type Dispatcher struct {
	registry *worker.Registry
	bus      *bus.Bus
	self     id.PeerID
	logger   *slog.Logger
	ttl      time.Duration
}

// New creates a Dispatcher bound to a registry and a bus. The self peer id
// is stamped as the sender on every published message.
func New(registry *worker.Registry, b *bus.Bus, self id.PeerID, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		bus:      b,
		self:     self,
		logger:   slog.Default(),
		ttl:      peermesh.DefaultConfig().DefaultMessageTTL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Assign marks the worker busy with the task and publishes a targeted
// task-assign message. An empty taskID gets a generated one. Returns
// ErrWorkerNotFound for unknown workers and ErrWorkerBusy for workers
// not currently idle.
func (d *Dispatcher) Assign(workerID id.WorkerID, taskID string, payload json.RawMessage) (Assignment, error) {
	w, ok := d.registry.Get(workerID)
	if !ok {
		return Assignment{}, fmt.Errorf("%w: %s", peermesh.ErrWorkerNotFound, workerID)
	}
	if w.Status != worker.StatusIdle {
		return Assignment{}, fmt.Errorf("%w: %s is %s", peermesh.ErrWorkerBusy, workerID, w.Status)
	}

	if taskID == "" {
		taskID = id.NewTaskID().String()
	}
	if !d.registry.MarkBusy(workerID, taskID) {
		// Lost a race with another assignment between Get and MarkBusy.
		return Assignment{}, fmt.Errorf("%w: %s", peermesh.ErrWorkerBusy, workerID)
	}

	d.publish(bus.TypeTaskAssign, workerID, bus.TaskAssignPayload{
		TaskID:  taskID,
		Payload: payload,
	})

	d.logger.Debug("task assigned",
		slog.String("worker_id", workerID.String()),
		slog.String("task_id", taskID))
	return Assignment{WorkerID: workerID, TaskID: taskID}, nil
}

// Complete returns the worker to idle and publishes a task-complete
// message. Completion for an unknown worker is a silent no-op: the worker
// may have been evicted or unregistered while the task ran.
func (d *Dispatcher) Complete(workerID id.WorkerID, taskID string, result json.RawMessage) {
	if !d.registry.MarkIdle(workerID) {
		return
	}

	d.publish(bus.TypeTaskComplete, workerID, bus.TaskCompletePayload{
		TaskID: taskID,
		Result: result,
	})

	d.logger.Debug("task completed",
		slog.String("worker_id", workerID.String()),
		slog.String("task_id", taskID))
}

// Fail marks the worker errored and publishes a task-failed message.
// Unknown workers are a silent no-op, matching Complete.
func (d *Dispatcher) Fail(workerID id.WorkerID, taskID, reason string) {
	if !d.registry.SetStatus(workerID, worker.StatusError) {
		return
	}

	d.publish(bus.TypeTaskFailed, workerID, bus.TaskFailedPayload{
		TaskID: taskID,
		Reason: reason,
	})

	d.logger.Warn("task failed",
		slog.String("worker_id", workerID.String()),
		slog.String("task_id", taskID),
		slog.String("reason", reason))
}

func (d *Dispatcher) publish(t bus.Type, target id.WorkerID, payload any) {
	m, err := bus.NewMessage(t, d.self.String(), target.String(), payload, d.ttl)
	if err != nil {
		d.logger.Error("building dispatch message",
			slog.String("type", string(t)),
			slog.Any("error", err))
		return
	}
	if err := d.bus.Publish(m); err != nil {
		d.logger.Error("publishing dispatch message",
			slog.String("type", string(t)),
			slog.Any("error", err))
	}
}
