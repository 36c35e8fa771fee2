package bus

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/peermesh/peermesh"
	"github.com/peermesh/peermesh/lock"
	"github.com/peermesh/peermesh/worker"
)

// One payload shape per message type. The former free-form payload is a
// tagged union keyed by Message.Type, validated at the bus boundary.

// TaskAssignPayload instructs a worker to begin a task.
type TaskAssignPayload struct {
	TaskID  string          `json:"task_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TaskCompletePayload reports a finished task and its result.
type TaskCompletePayload struct {
	TaskID string          `json:"task_id"`
	Result json.RawMessage `json:"result,omitempty"`
}

// TaskFailedPayload reports a failed task.
type TaskFailedPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

// StatusRequestPayload asks peers to report their statistics.
type StatusRequestPayload struct{}

// StatusResponsePayload carries a peer's aggregate statistics.
type StatusResponsePayload struct {
	TotalWorkers   int `json:"total_workers"`
	IdleWorkers    int `json:"idle_workers"`
	BusyWorkers    int `json:"busy_workers"`
	ActiveLocks    int `json:"active_locks"`
	QueuedMessages int `json:"queued_messages"`
}

// SyncStatePayload carries a peer's current worker and lock tables.
type SyncStatePayload struct {
	Workers []*worker.Worker `json:"workers,omitempty"`
	Locks   []*lock.Lease    `json:"locks,omitempty"`
}

// HeartbeatPayload announces that a worker is alive.
type HeartbeatPayload struct {
	WorkerID string `json:"worker_id"`
}

// LockAcquirePayload announces a lease acquisition attempt.
type LockAcquirePayload struct {
	Resource  string `json:"resource"`
	TTLMillis int64  `json:"ttl_ms"`
}

// LockReleasePayload announces a lease release.
type LockReleasePayload struct {
	Resource string `json:"resource"`
}

// LockGrantedPayload announces a granted lease.
type LockGrantedPayload struct {
	Resource string `json:"resource"`
	Holder   string `json:"holder"`
}

// LockDeniedPayload announces a denied lease attempt.
type LockDeniedPayload struct {
	Resource string `json:"resource"`
	Holder   string `json:"holder"`
}

// DataBroadcastPayload carries opaque application data.
type DataBroadcastPayload struct {
	Data json.RawMessage `json:"data,omitempty"`
}

// payloadPrototype returns a zero value of the payload struct for t.
func payloadPrototype(t Type) (any, bool) {
	switch t {
	case TypeTaskAssign:
		return &TaskAssignPayload{}, true
	case TypeTaskComplete:
		return &TaskCompletePayload{}, true
	case TypeTaskFailed:
		return &TaskFailedPayload{}, true
	case TypeStatusRequest:
		return &StatusRequestPayload{}, true
	case TypeStatusResponse:
		return &StatusResponsePayload{}, true
	case TypeSyncState:
		return &SyncStatePayload{}, true
	case TypeHeartbeat:
		return &HeartbeatPayload{}, true
	case TypeLockAcquire:
		return &LockAcquirePayload{}, true
	case TypeLockRelease:
		return &LockReleasePayload{}, true
	case TypeLockGranted:
		return &LockGrantedPayload{}, true
	case TypeLockDenied:
		return &LockDeniedPayload{}, true
	case TypeDataBroadcast:
		return &DataBroadcastPayload{}, true
	}
	return nil, false
}

// ValidatePayload checks that the message type is known and that the
// payload decodes strictly into the shape registered for that type.
func ValidatePayload(m *Message) error {
	proto, ok := payloadPrototype(m.Type)
	if !ok {
		return fmt.Errorf("%w: %q", peermesh.ErrUnknownMessageType, m.Type)
	}
	if len(m.Payload) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(m.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(proto); err != nil {
		return fmt.Errorf("%w: type %q: %v", peermesh.ErrInvalidPayload, m.Type, err)
	}
	return nil
}

// DecodePayload unmarshals the message payload into dst, which must be a
// pointer to the payload struct for the message's type.
func DecodePayload(m *Message, dst any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("%w: type %q: %v", peermesh.ErrInvalidPayload, m.Type, err)
	}
	return nil
}
