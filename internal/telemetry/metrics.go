package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the meter name for sync run metrics
	SyncMetricsMeterName = "github.com/facilityops/accesscontrol-sync/sync"

	// DeviceMetricsMeterName is the meter name for device health and discovery metrics
	DeviceMetricsMeterName = "github.com/facilityops/accesscontrol-sync/device"

	// CommandMetricsMeterName is the meter name for gateway command metrics
	CommandMetricsMeterName = "github.com/facilityops/accesscontrol-sync/gateway"
)

// SyncMetrics holds the OpenTelemetry instruments for sync runs
type SyncMetrics struct {
	runDuration  metric.Float64Histogram
	devicesTotal metric.Int64Counter
	skippedTicks metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	runDuration, err := meter.Float64Histogram(
		"acsync_sync_duration_seconds",
		metric.WithDescription("Duration of sync runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	devicesTotal, err := meter.Int64Counter(
		"acsync_sync_devices_total",
		metric.WithDescription("Devices processed by sync runs, by result"),
		metric.WithUnit("{device}"),
	)
	if err != nil {
		return nil, err
	}

	skippedTicks, err := meter.Int64Counter(
		"acsync_sync_skipped_ticks_total",
		metric.WithDescription("Scheduled ticks skipped because a run was in progress"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		runDuration:  runDuration,
		devicesTotal: devicesTotal,
		skippedTicks: skippedTicks,
	}, nil
}

// RecordRun records one completed sync run
func (m *SyncMetrics) RecordRun(ctx context.Context, runType, outcome string, duration time.Duration, synced, failed int) {
	if m == nil {
		return
	}

	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("type", runType),
		attribute.String("outcome", outcome),
	))
	m.devicesTotal.Add(ctx, int64(synced), metric.WithAttributes(attribute.String("result", "synced")))
	m.devicesTotal.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("result", "failed")))
}

// RecordSkippedTick counts a scheduled tick dropped by the single-flight guard
func (m *SyncMetrics) RecordSkippedTick(ctx context.Context) {
	if m == nil {
		return
	}
	m.skippedTicks.Add(ctx, 1)
}

// DeviceMetrics holds instruments for discovery and device health
type DeviceMetrics struct {
	discoveryDuration metric.Float64Histogram
	devicesFailing    metric.Int64Gauge
}

// NewDeviceMetrics creates a new DeviceMetrics instance. A nil provider yields nil.
func NewDeviceMetrics(provider metric.MeterProvider) (*DeviceMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(DeviceMetricsMeterName)

	discoveryDuration, err := meter.Float64Histogram(
		"acsync_discovery_duration_seconds",
		metric.WithDescription("Duration of discovery passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	devicesFailing, err := meter.Int64Gauge(
		"acsync_devices_failing",
		metric.WithDescription("Devices with at least one consecutive failure"),
		metric.WithUnit("{device}"),
	)
	if err != nil {
		return nil, err
	}

	return &DeviceMetrics{
		discoveryDuration: discoveryDuration,
		devicesFailing:    devicesFailing,
	}, nil
}

// RecordDiscovery records one discovery pass
func (m *DeviceMetrics) RecordDiscovery(ctx context.Context, duration time.Duration, accessible, failed int) {
	if m == nil {
		return
	}
	m.discoveryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Int("accessible", accessible),
		attribute.Int("failed", failed),
	))
}

// RecordFailing records the number of devices currently failing
func (m *DeviceMetrics) RecordFailing(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.devicesFailing.Record(ctx, int64(count))
}

// CommandMetrics holds instruments for gateway commands
type CommandMetrics struct {
	commandsTotal   metric.Int64Counter
	commandDuration metric.Float64Histogram
}

// NewCommandMetrics creates a new CommandMetrics instance. A nil provider yields nil.
func NewCommandMetrics(provider metric.MeterProvider) (*CommandMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CommandMetricsMeterName)

	commandsTotal, err := meter.Int64Counter(
		"acsync_commands_total",
		metric.WithDescription("Commands handled by the gateway"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	commandDuration, err := meter.Float64Histogram(
		"acsync_command_duration_seconds",
		metric.WithDescription("Time from command receipt to response publish"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120),
	)
	if err != nil {
		return nil, err
	}

	return &CommandMetrics{
		commandsTotal:   commandsTotal,
		commandDuration: commandDuration,
	}, nil
}

// RecordCommand records one answered command
func (m *CommandMetrics) RecordCommand(ctx context.Context, command, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("status", status),
	)
	m.commandsTotal.Add(ctx, 1, attrs)
	m.commandDuration.Record(ctx, duration.Seconds(), attrs)
}
