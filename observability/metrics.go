// Package observability exposes OpenTelemetry counters for the
// coordination layer. Metrics are optional: a nil *Metrics is safe to call
// everywhere, so callers that do not care simply pass nothing.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/peermesh/peermesh"

// Metrics holds the instrument set recorded by the coordinator.
type Metrics struct {
	messagesPublished metric.Int64Counter
	messagesDropped   metric.Int64Counter
	locksGranted      metric.Int64Counter
	locksDenied       metric.Int64Counter
	workersRegistered metric.Int64Counter
	workersEvicted    metric.Int64Counter
	tasksAssigned     metric.Int64Counter
	tasksCompleted    metric.Int64Counter
}

// New builds the instrument set from the given provider. A nil provider
// falls back to the global one.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	m := &Metrics{}
	var err error

	if m.messagesPublished, err = meter.Int64Counter("peermesh.messages.published",
		metric.WithDescription("Coordination messages published locally")); err != nil {
		return nil, err
	}
	if m.messagesDropped, err = meter.Int64Counter("peermesh.messages.dropped",
		metric.WithDescription("Inbound messages dropped as stale or invalid")); err != nil {
		return nil, err
	}
	if m.locksGranted, err = meter.Int64Counter("peermesh.locks.granted",
		metric.WithDescription("Lease acquisitions that succeeded")); err != nil {
		return nil, err
	}
	if m.locksDenied, err = meter.Int64Counter("peermesh.locks.denied",
		metric.WithDescription("Lease acquisitions that lost to a live holder")); err != nil {
		return nil, err
	}
	if m.workersRegistered, err = meter.Int64Counter("peermesh.workers.registered",
		metric.WithDescription("Workers registered")); err != nil {
		return nil, err
	}
	if m.workersEvicted, err = meter.Int64Counter("peermesh.workers.evicted",
		metric.WithDescription("Workers marked offline by the liveness monitor")); err != nil {
		return nil, err
	}
	if m.tasksAssigned, err = meter.Int64Counter("peermesh.tasks.assigned",
		metric.WithDescription("Tasks assigned to workers")); err != nil {
		return nil, err
	}
	if m.tasksCompleted, err = meter.Int64Counter("peermesh.tasks.completed",
		metric.WithDescription("Tasks reported complete")); err != nil {
		return nil, err
	}
	return m, nil
}

// MessagePublished records one locally published message of the given type.
func (m *Metrics) MessagePublished(ctx context.Context, msgType string) {
	if m == nil {
		return
	}
	m.messagesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

// MessageDropped records one dropped inbound message with its drop reason.
func (m *Metrics) MessageDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// LockGranted records one successful lease acquisition.
func (m *Metrics) LockGranted(ctx context.Context) {
	if m == nil {
		return
	}
	m.locksGranted.Add(ctx, 1)
}

// LockDenied records one denied lease acquisition.
func (m *Metrics) LockDenied(ctx context.Context) {
	if m == nil {
		return
	}
	m.locksDenied.Add(ctx, 1)
}

// WorkerRegistered records one worker registration.
func (m *Metrics) WorkerRegistered(ctx context.Context) {
	if m == nil {
		return
	}
	m.workersRegistered.Add(ctx, 1)
}

// WorkerEvicted records one liveness eviction.
func (m *Metrics) WorkerEvicted(ctx context.Context) {
	if m == nil {
		return
	}
	m.workersEvicted.Add(ctx, 1)
}

// TaskAssigned records one task assignment.
func (m *Metrics) TaskAssigned(ctx context.Context) {
	if m == nil {
		return
	}
	m.tasksAssigned.Add(ctx, 1)
}

// TaskCompleted records one task completion.
func (m *Metrics) TaskCompleted(ctx context.Context) {
	if m == nil {
		return
	}
	m.tasksCompleted.Add(ctx, 1)
}
