// Package bus provides the bounded, typed publish/subscribe channel for
// coordination messages.
//
// Messages are ephemeral: created on send, queued in a bounded ring buffer
// of outbound history (oldest evicted on overflow), and dropped silently
// once their ttl lapses. Delivery is at-most-once; there is no retry and
// no persisted log.
package bus

import (
	"encoding/json"
	"time"

	"github.com/peermesh/peermesh/id"
)

// Type identifies the kind of coordination message. The set is closed;
// payloads are validated against it at the bus boundary.
type Type string

const (
	TypeTaskAssign     Type = "task-assign"
	TypeTaskComplete   Type = "task-complete"
	TypeTaskFailed     Type = "task-failed"
	TypeStatusRequest  Type = "status-request"
	TypeStatusResponse Type = "status-response"
	TypeSyncState      Type = "sync-state"
	TypeHeartbeat      Type = "heartbeat"
	TypeLockAcquire    Type = "lock-acquire"
	TypeLockRelease    Type = "lock-release"
	TypeLockGranted    Type = "lock-granted"
	TypeLockDenied     Type = "lock-denied"
	TypeDataBroadcast  Type = "data-broadcast"
)

// Known reports whether t is a member of the closed message type set.
func (t Type) Known() bool {
	switch t {
	case TypeTaskAssign, TypeTaskComplete, TypeTaskFailed,
		TypeStatusRequest, TypeStatusResponse, TypeSyncState,
		TypeHeartbeat, TypeLockAcquire, TypeLockRelease,
		TypeLockGranted, TypeLockDenied, TypeDataBroadcast:
		return true
	}
	return false
}

// Message is the envelope for coordination events exchanged between peers.
type Message struct {
	ID       id.MessageID `json:"id"`
	Type     Type         `json:"type"`
	SenderID string       `json:"sender_id"`

	// TargetID addresses the message to a single peer or worker.
	// Empty means broadcast.
	TargetID string `json:"target_id,omitempty"`

	// Payload is the type-specific body, one shape per Type.
	Payload json.RawMessage `json:"payload,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// TTL is how long after Timestamp the message stays deliverable.
	TTL time.Duration `json:"ttl"`
}

// Expired reports whether the message is past its ttl at the given instant.
func (m *Message) Expired(now time.Time) bool {
	return now.After(m.Timestamp.Add(m.TTL))
}

// Clone returns a copy of the message with its own payload buffer.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	return &cp
}

// NewMessage builds a message envelope with a fresh id and a current
// timestamp. The payload must be one of the typed payload structs; it is
// marshalled here and validated again on publish.
func NewMessage(t Type, senderID, targetID string, payload any, ttl time.Duration) (*Message, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Message{
		ID:        id.NewMessageID(),
		Type:      t,
		SenderID:  senderID,
		TargetID:  targetID,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		TTL:       ttl,
	}, nil
}
