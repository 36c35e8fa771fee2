// Package memory provides an in-process transport hub. Every peer that
// joins the hub receives every other peer's broadcasts. Intended for unit
// testing and single-process multi-coordinator setups.
package memory

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/peermesh/peermesh"
	"github.com/peermesh/peermesh/bus"
	"github.com/peermesh/peermesh/id"
	"github.com/peermesh/peermesh/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Peer)(nil)

// Hub connects in-process peers. The zero value is not usable; use NewHub.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{peers: make(map[string]*Peer)}
}

// Join attaches a new peer to the hub and returns its transport.
func (h *Hub) Join(peerID id.PeerID) *Peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := &Peer{hub: h, id: peerID.String()}
	h.peers[p.id] = p
	return p
}

func (h *Hub) leave(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, peerID)
}

// fanout delivers the message to every peer except the sender.
func (h *Hub) fanout(ctx context.Context, senderID string, m *bus.Message) error {
	h.mu.RLock()
	targets := make([]*Peer, 0, len(h.peers))
	for pid, p := range h.peers {
		if pid == senderID {
			continue
		}
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, p := range targets {
		g.Go(func() error {
			p.deliver(m.Clone())
			return nil
		})
	}
	return g.Wait()
}

// Peer is one attachment to a Hub.
type Peer struct {
	hub *Hub
	id  string

	mu      sync.RWMutex
	handler transport.Handler
	closed  bool
}

// Broadcast sends the message to every other peer on the hub.
func (p *Peer) Broadcast(ctx context.Context, m *bus.Message) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return peermesh.ErrTransportClosed
	}
	return p.hub.fanout(ctx, p.id, m)
}

// SetHandler registers the receive callback.
func (p *Peer) SetHandler(h transport.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// Close detaches the peer from the hub.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.hub.leave(p.id)
	return nil
}

func (p *Peer) deliver(m *bus.Message) {
	p.mu.RLock()
	h := p.handler
	closed := p.closed
	p.mu.RUnlock()

	if closed || h == nil {
		return
	}
	h(m)
}
