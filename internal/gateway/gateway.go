// Package gateway turns commands received on the pub/sub transport into
// scheduler, discovery and health operations and publishes one response for
// every command.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/facilityops/accesscontrol-sync/internal/config"
	"github.com/facilityops/accesscontrol-sync/internal/device"
	"github.com/facilityops/accesscontrol-sync/internal/discovery"
	"github.com/facilityops/accesscontrol-sync/internal/health"
	"github.com/facilityops/accesscontrol-sync/internal/history"
	"github.com/facilityops/accesscontrol-sync/internal/protocol"
	"github.com/facilityops/accesscontrol-sync/internal/status"
	"github.com/facilityops/accesscontrol-sync/internal/sync/coordinator"
	"github.com/facilityops/accesscontrol-sync/internal/telemetry"
	"github.com/facilityops/accesscontrol-sync/internal/transport"
)

const (
	// DefaultHistoryLimit is the number of runs reported by getSyncStatus
	DefaultHistoryLimit = 10
	queueSize           = 64
)

// Scheduler is the part of the sync scheduler the gateway drives
//
//go:generate mockgen -destination=mocks/mock_gateway.go -package=mocks -source=gateway.go Scheduler,Discoverer
type Scheduler interface {
	StartAutoSync(ctx context.Context, hours int) (status.AutoSyncPolicy, error)
	StopAutoSync(ctx context.Context) status.AutoSyncPolicy
	ManualSync(ctx context.Context) (*coordinator.Handle, error)
	State() coordinator.State
	AddRunListener(l coordinator.RunListener)
}

// Discoverer runs a discovery pass
type Discoverer interface {
	Discover(ctx context.Context) (*discovery.Report, error)
}

// Gateway is the single inbound entry point for commands
type Gateway struct {
	bus       transport.PubSub
	topics    config.TopicsConfig
	decoder   *protocol.Decoder
	scheduler Scheduler
	discovery Discoverer
	health    *health.Registry
	history   *history.Log
	policy    *status.PolicyTracker

	historyLimit int
	metrics      *telemetry.CommandMetrics
	tracer       trace.Tracer
	clock        clock.PassiveClock

	requests chan inbound
	ctx      context.Context
	cancel   context.CancelFunc
	actor    sync.WaitGroup
	inflight sync.WaitGroup

	// closing guards enqueueing against Stop
	closing sync.RWMutex
	closed  bool
}

// inbound is one decoded command waiting for the actor
type inbound struct {
	req       protocol.Request
	decodeErr error
	received  time.Time
}

// Option configures a Gateway
type Option func(*Gateway)

// WithTopics overrides the default topic names
func WithTopics(t config.TopicsConfig) Option {
	return func(g *Gateway) {
		g.topics = t
	}
}

// WithHistoryLimit sets how many runs getSyncStatus reports
func WithHistoryLimit(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.historyLimit = n
		}
	}
}

// WithMetrics records per-command counters
func WithMetrics(m *telemetry.CommandMetrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithTracer enables spans
func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = t
	}
}

// WithClock sets the time source for response timestamps
func WithClock(c clock.PassiveClock) Option {
	return func(g *Gateway) {
		g.clock = c
	}
}

// New creates a gateway
func New(
	bus transport.PubSub,
	scheduler Scheduler,
	disc Discoverer,
	registry *health.Registry,
	log *history.Log,
	policy *status.PolicyTracker,
	opts ...Option,
) (*Gateway, error) {
	decoder, err := protocol.NewDecoder()
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		bus:       bus,
		topics:    (&config.TransportConfig{}).GetTopics(),
		decoder:   decoder,
		scheduler: scheduler,
		discovery: disc,
		health:    registry,
		history:   log,
		policy:    policy,

		historyLimit: DefaultHistoryLimit,
		clock:        clock.RealClock{},
		requests:     make(chan inbound, queueSize),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Start subscribes to the command topic, registers the scheduled-run
// listener and starts the actor. The transport must be connected or able
// to defer the subscription.
func (g *Gateway) Start(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(context.WithoutCancel(ctx))

	g.actor.Add(1)
	go g.loop()

	g.scheduler.AddRunListener(g.onRun)

	if err := g.bus.Subscribe(ctx, g.topics.Command, g.receive); err != nil {
		g.cancel()
		g.actor.Wait()
		return fmt.Errorf("failed to subscribe to command topic: %w", err)
	}
	slog.Info("Command gateway started",
		"command_topic", g.topics.Command,
		"response_topic", g.topics.Response,
		"status_topic", g.topics.Status)
	return nil
}

// Stop ends the actor and waits for pending asynchronous responses.
// Commands that arrive or are still queued once Stop begins are answered
// with an InternalError response.
func (g *Gateway) Stop() {
	if g.cancel == nil {
		return
	}
	g.closing.Lock()
	g.closed = true
	g.closing.Unlock()

	g.cancel()
	g.actor.Wait()
	for drained := false; !drained; {
		select {
		case in := <-g.requests:
			g.reject(in)
		default:
			drained = true
		}
	}
	g.inflight.Wait()
	slog.Info("Command gateway stopped")
}

// receive runs on the transport's delivery goroutine. It only decodes and
// enqueues.
func (g *Gateway) receive(_ context.Context, msg transport.Message) {
	req, err := g.decoder.Decode(msg.Payload)
	in := inbound{req: req, decodeErr: err, received: g.clock.Now()}

	g.closing.RLock()
	defer g.closing.RUnlock()
	if g.closed {
		g.reject(in)
		return
	}

	select {
	case g.requests <- in:
	case <-g.ctx.Done():
		g.reject(in)
	}
}

// reject answers a command the gateway will no longer dispatch
func (g *Gateway) reject(in inbound) {
	slog.Warn("Rejecting command received during shutdown",
		"command", in.req.Command,
		"request_id", in.req.RequestID)
	g.respond(context.Background(), protocol.Failure(in.req, protocol.ErrorTypeInternal,
		"Service is shutting down", g.clock.Now()), in.received)
}

func (g *Gateway) loop() {
	defer g.actor.Done()
	for {
		select {
		case in := <-g.requests:
			g.dispatch(in)
		case <-g.ctx.Done():
			return
		}
	}
}

// respond publishes resp and records metrics
func (g *Gateway) respond(ctx context.Context, resp protocol.Response, received time.Time) {
	g.metrics.RecordCommand(ctx, resp.Command, resp.Status, g.clock.Since(received))

	if resp.Status == protocol.StatusError {
		slog.WarnContext(ctx, "Command failed",
			"command", resp.Command,
			"request_id", resp.RequestID,
			"error_type", resp.ErrorType,
			"message", resp.Message)
	} else {
		slog.DebugContext(ctx, "Command succeeded", "command", resp.Command, "request_id", resp.RequestID)
	}
	g.publish(ctx, g.topics.Response, resp)
}

func (g *Gateway) publish(ctx context.Context, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode message", "topic", topic, "error", err)
		return
	}
	if err := g.bus.Publish(ctx, topic, payload); err != nil {
		slog.ErrorContext(ctx, "Failed to publish message", "topic", topic, "error", err)
	}
}

// onRun publishes scheduled_sync_completed after scheduled runs
func (g *Gateway) onRun(ctx context.Context, rec history.Record) {
	if rec.Type != history.RunTypeScheduled {
		return
	}
	g.publish(ctx, g.topics.Status, protocol.Event{
		EventType: protocol.EventScheduledSyncCompleted,
		Message:   rec.Message,
		Data:      protocol.NewRunData(rec),
		Timestamp: g.clock.Now().UTC(),
	})
}

// errorType maps an operation error to the response classification
func errorType(err error) protocol.ErrorType {
	switch {
	case errors.Is(err, status.ErrInvalidInterval), errors.Is(err, protocol.ErrInvalidEnvelope):
		return protocol.ErrorTypeValidation
	case errors.Is(err, coordinator.ErrSyncInProgress):
		return protocol.ErrorTypeSyncInProgress
	case errors.Is(err, device.ErrDirectoryUnavailable):
		return protocol.ErrorTypeDirectoryUnavailable
	default:
		return protocol.ErrorTypeInternal
	}
}
