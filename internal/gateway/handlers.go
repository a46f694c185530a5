package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel/trace"

	"github.com/facilityops/accesscontrol-sync/internal/otel"
	"github.com/facilityops/accesscontrol-sync/internal/protocol"
	"github.com/facilityops/accesscontrol-sync/internal/sync/coordinator"
)

// dispatch handles one request on the actor goroutine. Long operations
// answer from their own goroutine.
func (g *Gateway) dispatch(in inbound) {
	ctx, span := otel.StartSpan(g.ctx, g.tracer, "gateway.command", trace.WithAttributes(
		otel.AttrCommand.String(in.req.Command),
		otel.AttrRequestID.String(in.req.RequestID),
	))
	defer span.End()
	defer g.recoverInto(ctx, in)

	if in.decodeErr != nil {
		otel.RecordError(span, in.decodeErr)
		g.fail(ctx, in, in.decodeErr)
		return
	}

	switch in.req.Command {
	case protocol.CommandGetSyncStatus:
		g.getSyncStatus(ctx, in)
	case protocol.CommandStartAutoSync:
		g.startAutoSync(ctx, in)
	case protocol.CommandStopAutoSync:
		g.stopAutoSync(ctx, in)
	case protocol.CommandManualSync:
		g.manualSync(ctx, in)
	case protocol.CommandDiscoverDevices:
		g.discoverDevices(ctx, in)
	case protocol.CommandResetFailedDevices:
		g.resetFailedDevices(ctx, in)
	default:
		g.respond(ctx, protocol.Failure(in.req, protocol.ErrorTypeValidation,
			fmt.Sprintf("Unknown command: %s", in.req.Command), g.clock.Now()), in.received)
	}
}

// recoverInto turns a handler panic into an error response
func (g *Gateway) recoverInto(ctx context.Context, in inbound) {
	r := recover()
	if r == nil {
		return
	}
	slog.ErrorContext(ctx, "Command handler panicked",
		"command", in.req.Command,
		"panic", r,
		"stack", string(debug.Stack()))
	g.respond(ctx, protocol.Failure(in.req, protocol.ErrorTypeInternal,
		fmt.Sprintf("Internal error handling %s: %v", in.req.Command, r), g.clock.Now()), in.received)
}

func (g *Gateway) fail(ctx context.Context, in inbound, err error) {
	g.respond(ctx, protocol.Failure(in.req, errorType(err), err.Error(), g.clock.Now()), in.received)
}

func (g *Gateway) succeed(ctx context.Context, in inbound, message string, data any) {
	g.respond(ctx, protocol.Success(in.req, message, data, g.clock.Now()), in.received)
}

// async runs fn on its own goroutine with the same panic protection as the
// actor. fn outlives Stop's cancellation so the pending response still goes out.
func (g *Gateway) async(ctx context.Context, in inbound, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()
		defer g.recoverInto(ctx, in)
		fn(ctx)
	}()
}

func (g *Gateway) getSyncStatus(ctx context.Context, in inbound) {
	data := protocol.NewSyncStatusData(
		g.policy.Snapshot(),
		g.health.Snapshot(),
		g.health.Failing(),
		g.history.Recent(g.historyLimit),
		g.scheduler.State() == coordinator.StateRunning,
	)
	g.succeed(ctx, in, "Sync status retrieved", data)
}

func (g *Gateway) startAutoSync(ctx context.Context, in inbound) {
	if in.req.IntervalHours == nil {
		g.respond(ctx, protocol.Failure(in.req, protocol.ErrorTypeValidation,
			"interval_hours is required", g.clock.Now()), in.received)
		return
	}
	p, err := g.scheduler.StartAutoSync(ctx, *in.req.IntervalHours)
	if err != nil {
		g.fail(ctx, in, err)
		return
	}
	g.succeed(ctx, in, fmt.Sprintf("Auto-sync started with %d hour interval", p.IntervalHours),
		protocol.NewAutoSyncData(p))
}

func (g *Gateway) stopAutoSync(ctx context.Context, in inbound) {
	p := g.scheduler.StopAutoSync(ctx)
	g.succeed(ctx, in, "Auto-sync stopped", protocol.NewAutoSyncData(p))
}

// manualSync answers when the run has been recorded
func (g *Gateway) manualSync(ctx context.Context, in inbound) {
	handle, err := g.scheduler.ManualSync(ctx)
	if err != nil {
		g.fail(ctx, in, err)
		return
	}

	g.async(ctx, in, func(ctx context.Context) {
		<-handle.Done()
		rec, err := handle.Result()
		if err != nil {
			g.fail(ctx, in, err)
			return
		}
		g.succeed(ctx, in, rec.Message, protocol.NewRunData(rec))
	})
}

func (g *Gateway) discoverDevices(ctx context.Context, in inbound) {
	g.async(ctx, in, func(ctx context.Context) {
		report, err := g.discovery.Discover(ctx)
		if err != nil {
			g.fail(ctx, in, err)
			return
		}
		g.succeed(ctx, in,
			fmt.Sprintf("Discovery completed: %d accessible, %d failed",
				len(report.AccessibleDevices), len(report.FailedDevices)),
			protocol.NewDiscoveryData(report))
	})
}

func (g *Gateway) resetFailedDevices(ctx context.Context, in inbound) {
	ids := g.health.ResetAll()
	g.succeed(ctx, in, fmt.Sprintf("Reset %d failed devices", len(ids)), protocol.NewResetData(ids))
}
