package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler consumes a delivered message. Handlers receive a private copy
// of the envelope and may not assume any delivery ordering beyond
// registration order within one type.
type Handler func(*Message)

// handlerEntry pairs a handler with a registration token so unsubscribe
// can remove exactly one registration.
type handlerEntry struct {
	token   uint64
	handler Handler
}

// Bus is the bounded, typed publish/subscribe channel. Locally published
// messages enter a ring buffer of outbound history and are dispatched to
// local handlers; remote messages are dispatched only, after a staleness
// check. Safe for concurrent use.
type Bus struct {
	logger   *slog.Logger
	capacity int

	mu        sync.RWMutex
	handlers  map[Type][]handlerEntry
	nextToken uint64
	history   *ring
}

// Option configures a Bus.
type Option func(*Bus)

// WithCapacity sets the ring buffer capacity. Default 1000.
func WithCapacity(n int) Option {
	return func(b *Bus) { b.capacity = n }
}

// New creates a message bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:   logger,
		capacity: 1000,
		handlers: make(map[Type][]handlerEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.history = newRing(b.capacity)
	return b
}

// Subscribe registers a handler for a message type and returns an
// unsubscribe function. Multiple handlers per type are permitted and are
// invoked in registration order.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextToken++
	token := b.nextToken
	b.handlers[t] = append(b.handlers[t], handlerEntry{token: token, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[t]
		for i, e := range entries {
			if e.token == token {
				b.handlers[t] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Publish validates the message, appends it to the outbound history ring
// (evicting the oldest entry on overflow), and dispatches it synchronously
// to every handler registered for its type. Handler panics are isolated
// and logged, never propagated to the caller.
func (b *Bus) Publish(m *Message) error {
	if err := ValidatePayload(m); err != nil {
		return err
	}

	b.mu.Lock()
	b.history.append(m.Clone())
	b.mu.Unlock()

	b.dispatch(m)
	return nil
}

// DeliverRemote feeds a message that arrived from the broadcast channel
// into local handlers. A stale message (timestamp + ttl in the past) is a
// silent no-op: no handler runs and no error is surfaced. Unknown types
// and malformed payloads are dropped with a debug log. Remote messages
// are not re-enqueued into the local history ring.
func (b *Bus) DeliverRemote(m *Message) {
	if m.Expired(time.Now().UTC()) {
		return
	}
	if err := ValidatePayload(m); err != nil {
		b.logger.Debug("dropping invalid remote message",
			slog.String("message_id", m.ID.String()),
			slog.String("type", string(m.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	b.dispatch(m)
}

// dispatch invokes each registered handler with its own copy of the
// message, isolating panics per handler.
func (b *Bus) dispatch(m *Message) {
	b.mu.RLock()
	entries := make([]handlerEntry, len(b.handlers[m.Type]))
	copy(entries, b.handlers[m.Type])
	b.mu.RUnlock()

	for _, e := range entries {
		b.invoke(e.handler, m.Clone())
	}
}

func (b *Bus) invoke(h Handler, m *Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked",
				slog.String("message_id", m.ID.String()),
				slog.String("type", string(m.Type)),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	h(m)
}

// Len returns the number of messages currently queued in the history ring.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history.len()
}

// Recent returns copies of the newest n locally published messages,
// oldest first. n <= 0 returns everything retained.
func (b *Bus) Recent(n int) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msgs := b.history.snapshot(n)
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
