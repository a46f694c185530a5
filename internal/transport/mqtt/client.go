// Package mqtt implements transport.PubSub on an MQTT 3.1.1 broker.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/facilityops/accesscontrol-sync/internal/transport"
)

const (
	// DefaultConnectTimeout bounds the initial connection
	DefaultConnectTimeout = 10 * time.Second
	disconnectQuiesce     = 250 // milliseconds
	maxReconnectInterval  = 30 * time.Second
)

// Options configures the MQTT client
type Options struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
}

// Client is an MQTT backed transport.PubSub
type Client struct {
	opts   Options
	client paho.Client

	// ctx is handed to message handlers; it is cancelled on Close
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]transport.Handler
}

var _ transport.PubSub = (*Client)(nil)

// New creates a client. Nothing is dialed until Connect.
func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]transport.Handler),
	}

	po := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetConnectTimeout(opts.ConnectTimeout).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("MQTT connection lost", "broker", opts.BrokerURL, "error", err)
		}).
		SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
			slog.Info("Reconnecting to MQTT broker", "broker", opts.BrokerURL)
		})
	c.client = paho.NewClient(po)
	return c
}

// Connect dials the broker and waits for the CONNACK
func (c *Client) Connect(ctx context.Context) error {
	if err := wait(ctx, c.client.Connect(), c.opts.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", c.opts.BrokerURL, err)
	}
	slog.Info("Connected to MQTT broker", "broker", c.opts.BrokerURL, "client_id", c.opts.ClientID)
	return nil
}

// Subscribe registers h for topic. The subscription is replayed after every reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, h transport.Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	if err := wait(ctx, c.client.Subscribe(topic, c.opts.QoS, c.deliver(h)), c.opts.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	slog.Debug("Subscribed to MQTT topic", "topic", topic, "qos", c.opts.QoS)
	return nil
}

// Publish sends payload with the configured QoS, not retained
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return transport.ErrNotConnected
	}
	if err := wait(ctx, c.client.Publish(topic, c.opts.QoS, false, payload), c.opts.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the connection is up right now
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker
func (c *Client) Close() error {
	c.cancel()
	if c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesce)
	}
	return nil
}

func (c *Client) onConnect(client paho.Client) {
	c.mu.Lock()
	subs := make(map[string]transport.Handler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		tok := client.Subscribe(topic, c.opts.QoS, c.deliver(h))
		if !tok.WaitTimeout(c.opts.ConnectTimeout) {
			slog.Error("Timed out resubscribing to MQTT topic", "topic", topic)
			continue
		}
		if err := tok.Error(); err != nil {
			slog.Error("Failed to resubscribe to MQTT topic", "topic", topic, "error", err)
		}
	}
}

func (c *Client) deliver(h transport.Handler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		h(c.ctx, transport.Message{Topic: m.Topic(), Payload: m.Payload()})
	}
}

// wait blocks on tok until it completes, ctx is done or timeout passes
func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}
