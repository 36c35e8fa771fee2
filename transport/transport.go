// Package transport defines the peer broadcast interface used to fan
// coordination messages out to other coordinator instances.
//
// A Transport carries already-validated bus messages between peers. The
// coordinator broadcasts every locally published message and feeds every
// received message into its bus via DeliverRemote, which drops expired
// and malformed frames.
package transport

import (
	"context"

	"github.com/peermesh/peermesh/bus"
)

// Handler receives messages published by other peers.
type Handler func(*bus.Message)

// Transport fans messages out to peer coordinator instances.
//
// Implementations must not deliver a peer's own broadcasts back to it;
// the coordinator relies on the transport for origin filtering.
type Transport interface {
	// Broadcast sends the message to all other peers.
	Broadcast(ctx context.Context, m *bus.Message) error

	// SetHandler registers the callback invoked for each received
	// message. Calling it again replaces the previous handler.
	SetHandler(h Handler)

	// Close detaches from the shared medium. Broadcast after Close
	// returns peermesh.ErrTransportClosed.
	Close() error
}
