// Package memory provides an in-process PubSub used by tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/facilityops/accesscontrol-sync/internal/transport"
)

// Bus delivers published messages synchronously to subscribers of the
// exact topic, in subscription order.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]transport.Handler
	connected bool
	record    bool
	published []transport.Message
}

var _ transport.PubSub = (*Bus)(nil)

// Option configures a Bus
type Option func(*Bus)

// WithRecording keeps every published message for Published.
// Recorded messages are never evicted, so leave it off for long-running buses.
func WithRecording() Option {
	return func(b *Bus) {
		b.record = true
	}
}

// New creates a disconnected bus
func New(opts ...Option) *Bus {
	b := &Bus{subs: make(map[string][]transport.Handler)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect marks the bus connected
func (b *Bus) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

// Subscribe registers h for topic
func (b *Bus) Subscribe(_ context.Context, topic string, h transport.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], h)
	return nil
}

// Publish hands payload to every subscriber of topic
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return transport.ErrNotConnected
	}
	msg := transport.Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	if b.record {
		b.published = append(b.published, msg)
	}
	handlers := append([]transport.Handler(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, msg)
	}
	return nil
}

// IsConnected reports whether Connect was called and Close was not
func (b *Bus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Close disconnects the bus. Subscriptions are kept for a later Connect.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// Published returns every message published on topic so far. It is empty
// unless the bus was created WithRecording.
func (b *Bus) Published(topic string) []transport.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []transport.Message
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
