// Package redis implements transport.PubSub on Redis pub/sub channels.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/facilityops/accesscontrol-sync/internal/transport"
)

// DefaultConnectTimeout bounds the initial PING
const DefaultConnectTimeout = 10 * time.Second

// Options configures the Redis client
type Options struct {
	Address        string
	Username       string
	Password       string
	DB             int
	ConnectTimeout time.Duration
}

// Client is a Redis backed transport.PubSub
type Client struct {
	opts Options
	rdb  *goredis.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	pubsubs   []*goredis.PubSub
	connected atomic.Bool
}

var _ transport.PubSub = (*Client)(nil)

// New creates a client. Nothing is dialed until Connect.
func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts: opts,
		rdb: goredis.NewClient(&goredis.Options{
			Addr:        opts.Address,
			Username:    opts.Username,
			Password:    opts.Password,
			DB:          opts.DB,
			DialTimeout: opts.ConnectTimeout,
		}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect verifies the server answers PING
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis %s: %w", c.opts.Address, err)
	}
	c.connected.Store(true)
	slog.Info("Connected to redis", "address", c.opts.Address, "db", c.opts.DB)
	return nil
}

// Subscribe starts a receive loop for topic. go-redis resubscribes on
// reconnect by itself.
func (c *Client) Subscribe(ctx context.Context, topic string, h transport.Handler) error {
	ps := c.rdb.Subscribe(c.ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	c.mu.Lock()
	c.pubsubs = append(c.pubsubs, ps)
	c.mu.Unlock()

	ch := ps.Channel()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for msg := range ch {
			h(c.ctx, transport.Message{Topic: msg.Channel, Payload: []byte(msg.Payload)})
		}
	}()
	slog.Debug("Subscribed to redis channel", "channel", topic)
	return nil
}

// Publish sends payload to the channel
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.connected.Load() {
		return transport.ErrNotConnected
	}
	if err := c.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether Connect succeeded and the pool has a live connection
func (c *Client) IsConnected() bool {
	if !c.connected.Load() {
		return false
	}
	return c.rdb.PoolStats().TotalConns > 0
}

// Close stops the receive loops and closes the pool
func (c *Client) Close() error {
	c.connected.Store(false)
	c.cancel()

	c.mu.Lock()
	pubsubs := c.pubsubs
	c.pubsubs = nil
	c.mu.Unlock()

	for _, ps := range pubsubs {
		_ = ps.Close()
	}
	c.wg.Wait()
	return c.rdb.Close()
}
