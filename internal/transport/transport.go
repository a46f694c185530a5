// Package transport abstracts the publish/subscribe broker that carries
// commands, responses and status events.
package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned when publishing on a closed or never connected transport
var ErrNotConnected = errors.New("transport not connected")

// Message is one delivery from a subscribed topic
type Message struct {
	Topic   string
	Payload []byte
}

// Handler receives messages from a subscription. Handlers may be called
// concurrently for different topics and must not block for long.
type Handler func(ctx context.Context, msg Message)

// PubSub is a topic based publish/subscribe client
//
//go:generate mockgen -destination=mocks/mock_pubsub.go -package=mocks -source=transport.go PubSub
type PubSub interface {
	// Connect establishes the broker connection
	Connect(ctx context.Context) error

	// Subscribe registers h for topic. Subscriptions survive reconnects.
	Subscribe(ctx context.Context, topic string, h Handler) error

	// Publish sends payload to topic
	Publish(ctx context.Context, topic string, payload []byte) error

	// IsConnected reports whether the broker connection is currently up
	IsConnected() bool

	// Close disconnects and releases resources
	Close() error
}
