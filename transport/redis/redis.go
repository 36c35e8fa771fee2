// Package redis implements transport.Transport over Redis Pub/Sub. All
// peers publish msgpack frames to one channel; each subscriber drops the
// frames carrying its own origin so broadcasts never loop back.
package redis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"

	"github.com/peermesh/peermesh"
	"github.com/peermesh/peermesh/bus"
	"github.com/peermesh/peermesh/id"
	"github.com/peermesh/peermesh/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

// DefaultChannel is the Pub/Sub channel peers share.
const DefaultChannel = "peermesh:broadcast"

// frame is the wire envelope. Origin lets subscribers filter their own
// publishes, which Redis Pub/Sub echoes back.
type frame struct {
	Origin  string       `msgpack:"origin"`
	Message *bus.Message `msgpack:"message"`
}

// Option configures the Transport.
type Option func(*Transport)

// WithChannel overrides the Pub/Sub channel name.
func WithChannel(channel string) Option {
	return func(t *Transport) { t.channel = channel }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithRateLimit caps outbound broadcasts at r per second with the given
// burst. Broadcast blocks until the limiter admits the send or the
// context is cancelled.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(t *Transport) { t.limiter = rate.NewLimiter(r, burst) }
}

// Transport carries coordination messages between peers over Redis.
type Transport struct {
	client  redis.UniversalClient
	origin  string
	channel string
	logger  *slog.Logger
	limiter *rate.Limiter

	pubsub *redis.PubSub
	wg     sync.WaitGroup

	mu      sync.RWMutex
	handler transport.Handler
	closed  bool
}

// New subscribes to the broadcast channel and starts the receive loop.
// The caller owns the Redis client lifecycle.
func New(ctx context.Context, client redis.UniversalClient, origin id.PeerID, opts ...Option) (*Transport, error) {
	t := &Transport{
		client:  client,
		origin:  origin.String(),
		channel: DefaultChannel,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}

	t.pubsub = client.Subscribe(ctx, t.channel)
	if _, err := t.pubsub.Receive(ctx); err != nil {
		_ = t.pubsub.Close()
		return nil, err
	}

	t.wg.Add(1)
	go t.recvLoop()

	t.logger.Info("redis transport attached",
		slog.String("channel", t.channel),
		slog.String("origin", t.origin))
	return t, nil
}

// Broadcast publishes the message to the shared channel.
func (t *Transport) Broadcast(ctx context.Context, m *bus.Message) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return peermesh.ErrTransportClosed
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	data, err := msgpack.Marshal(&frame{Origin: t.origin, Message: m})
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, t.channel, data).Err()
}

// SetHandler registers the receive callback.
func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Close unsubscribes and waits for the receive loop to exit.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.pubsub.Close()
	t.wg.Wait()
	return err
}

// recvLoop drains the subscription until it is closed. Frames that fail
// to decode are logged and dropped; a bad frame from one peer must not
// stall the rest.
func (t *Transport) recvLoop() {
	defer t.wg.Done()

	for msg := range t.pubsub.Channel() {
		var f frame
		if err := msgpack.Unmarshal([]byte(msg.Payload), &f); err != nil {
			t.logger.Warn("dropping undecodable frame",
				slog.String("channel", t.channel),
				slog.Any("error", err))
			continue
		}
		if f.Message == nil || f.Origin == t.origin {
			continue
		}

		t.mu.RLock()
		h := t.handler
		t.mu.RUnlock()
		if h != nil {
			h(f.Message)
		}
	}
}
