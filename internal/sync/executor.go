package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/facilityops/accesscontrol-sync/internal/device"
	"github.com/facilityops/accesscontrol-sync/internal/health"
	"github.com/facilityops/accesscontrol-sync/internal/history"
	"github.com/facilityops/accesscontrol-sync/internal/otel"
	"github.com/facilityops/accesscontrol-sync/internal/records"
	"github.com/facilityops/accesscontrol-sync/internal/status"
	"github.com/facilityops/accesscontrol-sync/internal/telemetry"
	"github.com/facilityops/accesscontrol-sync/internal/terminal"
)

const (
	// DefaultConcurrency caps simultaneous device syncs
	DefaultConcurrency = 8
	// DefaultDeviceTimeout bounds reconciling one device
	DefaultDeviceTimeout = 2 * time.Minute
)

// Runner executes synchronization runs
//
//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/facilityops/accesscontrol-sync/internal/sync Runner
type Runner interface {
	// Run syncs the given devices and returns the appended history record
	Run(ctx context.Context, devices []device.Device, runType history.RunType) (history.Record, error)
}

// PolicyRecorder is notified after every run
type PolicyRecorder interface {
	RecordRun(ctx context.Context, endTime time.Time) status.AutoSyncPolicy
}

// Executor is the default Runner
type Executor struct {
	store         records.Store
	dialer        terminal.Dialer
	health        *health.Registry
	log           *history.Log
	policy        PolicyRecorder
	concurrency   int
	deviceTimeout time.Duration
	metrics       *telemetry.SyncMetrics
	deviceMetrics *telemetry.DeviceMetrics
	tracer        trace.Tracer
	clock         clock.PassiveClock
}

// Option configures an Executor
type Option func(*Executor)

// WithConcurrency caps simultaneous device syncs
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithDeviceTimeout bounds reconciling a single device
func WithDeviceTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.deviceTimeout = d
		}
	}
}

// WithMetrics records run metrics
func WithMetrics(m *telemetry.SyncMetrics, d *telemetry.DeviceMetrics) Option {
	return func(e *Executor) {
		e.metrics = m
		e.deviceMetrics = d
	}
}

// WithTracer enables spans
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = t
	}
}

// WithClock overrides the time source for record timestamps
func WithClock(c clock.PassiveClock) Option {
	return func(e *Executor) {
		e.clock = c
	}
}

// NewExecutor creates an executor
func NewExecutor(
	store records.Store,
	dialer terminal.Dialer,
	registry *health.Registry,
	log *history.Log,
	policy PolicyRecorder,
	opts ...Option,
) *Executor {
	e := &Executor{
		store:         store,
		dialer:        dialer,
		health:        registry,
		log:           log,
		policy:        policy,
		concurrency:   DefaultConcurrency,
		deviceTimeout: DefaultDeviceTimeout,
		clock:         clock.RealClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run reconciles every device in devices and records the run.
// Per-device failures are part of the returned record, not the error; the
// error is non-nil only when the record itself could not be appended.
func (e *Executor) Run(ctx context.Context, devices []device.Device, runType history.RunType) (history.Record, error) {
	ctx, span := otel.StartSpan(ctx, e.tracer, "sync.Run", trace.WithAttributes(
		otel.AttrSyncType.String(string(runType)),
	))
	defer span.End()

	start := e.clock.Now()
	slog.InfoContext(ctx, "Starting sync run", "type", runType, "devices", len(devices))

	results := e.syncAll(ctx, devices)

	end := e.clock.Now()
	if end.Before(start) {
		end = start
	}

	synced := 0
	for _, r := range results {
		if r.Synced {
			synced++
		}
	}
	outcome := history.OutcomeFor(len(devices), synced)

	rec, err := e.log.Append(ctx, history.Record{
		Type:             runType,
		StartTime:        start,
		EndTime:          end,
		DevicesAttempted: len(devices),
		DevicesSynced:    synced,
		Outcome:          outcome,
		Message:          runMessage(results, synced),
		DeviceResults:    results,
	})
	if err != nil {
		otel.RecordError(span, err)
		return history.Record{}, fmt.Errorf("failed to record sync run: %w", err)
	}

	if e.policy != nil {
		e.policy.RecordRun(ctx, end)
	}

	e.metrics.RecordRun(ctx, string(runType), string(outcome), end.Sub(start), synced, len(devices)-synced)
	e.deviceMetrics.RecordFailing(ctx, len(e.health.Failing()))
	span.SetAttributes(otel.AttrSyncOutcome.String(string(outcome)), otel.AttrResultCount.Int(synced))

	slog.InfoContext(ctx, "Sync run completed",
		"run_id", rec.ID,
		"type", runType,
		"outcome", outcome,
		"attempted", rec.DevicesAttempted,
		"synced", rec.DevicesSynced,
		"duration", end.Sub(start))

	return rec, nil
}

func (e *Executor) syncAll(ctx context.Context, devices []device.Device) []history.DeviceResult {
	results := make([]history.DeviceResult, len(devices))
	if len(devices) == 0 {
		return results
	}

	central, err := e.store.ListUsers(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load central records, no device can be synced", "error", err)
		for i, dev := range devices {
			devErr := &DeviceError{DeviceID: dev.ID, Phase: PhaseLoadRecords, Err: err}
			results[i] = history.DeviceResult{DeviceID: dev.ID, Error: devErr.Error()}
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, dev := range devices {
		g.Go(func() error {
			results[i] = e.syncDevice(ctx, dev, central)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Executor) syncDevice(ctx context.Context, dev device.Device, central []records.User) history.DeviceResult {
	ctx, span := otel.StartSpan(ctx, e.tracer, "sync.device", trace.WithAttributes(
		otel.AttrDeviceID.String(dev.ID),
		otel.AttrDeviceAddress.String(dev.Endpoint()),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.deviceTimeout)
	defer cancel()

	result := history.DeviceResult{DeviceID: dev.ID}
	info, err := e.reconcile(ctx, dev, central, &result)
	if err != nil {
		otel.RecordError(span, err)
		result.Error = err.Error()
		e.health.RecordFailure(dev.ID, err)
		slog.WarnContext(ctx, "Device sync failed", "device_id", dev.ID, "error", err,
			"inserted", result.Inserted, "updated", result.Updated, "deleted", result.Deleted)
		return result
	}

	result.Synced = true
	e.health.RecordSuccess(dev.ID, health.Metadata{
		FirmwareVersion: info.FirmwareVersion,
		SerialNumber:    info.SerialNumber,
		RecordCount:     len(central),
		TemplateCount:   records.TemplateCount(central),
	})
	slog.DebugContext(ctx, "Device synced", "device_id", dev.ID,
		"inserted", result.Inserted, "updated", result.Updated, "deleted", result.Deleted)
	return result
}

// reconcile brings one terminal in line with central, counting applied changes into result
func (e *Executor) reconcile(
	ctx context.Context, dev device.Device, central []records.User, result *history.DeviceResult,
) (terminal.Info, error) {
	sess, err := e.dialer.Dial(ctx, dev)
	if err != nil {
		return terminal.Info{}, &DeviceError{DeviceID: dev.ID, Phase: PhaseConnect, Err: err}
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			slog.DebugContext(ctx, "Failed to close terminal session", "device_id", dev.ID, "error", cerr)
		}
	}()

	info, err := sess.Info(ctx)
	if err != nil {
		return terminal.Info{}, &DeviceError{DeviceID: dev.ID, Phase: PhaseInspect, Err: err}
	}

	onDevice, err := sess.ListUsers(ctx)
	if err != nil {
		return info, &DeviceError{DeviceID: dev.ID, Phase: PhaseListUsers, Err: err}
	}

	plan := records.Reconcile(central, onDevice)
	if plan.Empty() {
		return info, nil
	}

	for _, uid := range plan.Delete {
		if err := sess.DeleteUser(ctx, uid); err != nil {
			return info, &DeviceError{DeviceID: dev.ID, Phase: PhaseApply, Err: err}
		}
		result.Deleted++
	}
	for _, u := range plan.Update {
		if err := sess.PutUser(ctx, u); err != nil {
			return info, &DeviceError{DeviceID: dev.ID, Phase: PhaseApply, Err: err}
		}
		result.Updated++
	}
	for _, u := range plan.Insert {
		if err := sess.PutUser(ctx, u); err != nil {
			return info, &DeviceError{DeviceID: dev.ID, Phase: PhaseApply, Err: err}
		}
		result.Inserted++
	}
	return info, nil
}

func runMessage(results []history.DeviceResult, synced int) string {
	switch {
	case len(results) == 0:
		return "No enabled devices to sync"
	case synced == len(results):
		return fmt.Sprintf("Synced %d of %d devices", synced, len(results))
	}
	var failed []string
	for _, r := range results {
		if !r.Synced {
			failed = append(failed, r.DeviceID)
		}
	}
	return fmt.Sprintf("Synced %d of %d devices, failed: %v", synced, len(results), failed)
}
