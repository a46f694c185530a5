// Package discovery probes every enabled terminal and reports which ones answer.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/facilityops/accesscontrol-sync/internal/device"
	"github.com/facilityops/accesscontrol-sync/internal/health"
	"github.com/facilityops/accesscontrol-sync/internal/otel"
	"github.com/facilityops/accesscontrol-sync/internal/telemetry"
	"github.com/facilityops/accesscontrol-sync/internal/terminal"
	"github.com/facilityops/accesscontrol-sync/internal/versions"
)

const (
	// DefaultProbeTimeout bounds the probe of a single device
	DefaultProbeTimeout = 5 * time.Second
	// DefaultConcurrency caps simultaneous probes
	DefaultConcurrency = 8
)

// AccessibleDevice is a device that answered the probe
type AccessibleDevice struct {
	ID              string
	Name            string
	Address         string
	RecordCount     int
	TemplateCount   int
	FirmwareVersion string
	SerialNumber    string
	CheckedAt       time.Time
	// Warning is set when the device answered but needs attention, e.g. old firmware
	Warning string
}

// FailedDevice is a device that could not be probed
type FailedDevice struct {
	ID        string
	Name      string
	Address   string
	Error     string
	CheckedAt time.Time
}

// Report is the result of one discovery pass
type Report struct {
	AccessibleDevices []AccessibleDevice
	FailedDevices     []FailedDevice
	Duration          time.Duration
	Timestamp         time.Time
}

// Engine runs discovery passes
type Engine struct {
	directory    device.Directory
	dialer       terminal.Dialer
	health       *health.Registry
	probeTimeout time.Duration
	concurrency  int
	minFirmware  string
	metrics      *telemetry.DeviceMetrics
	tracer       trace.Tracer
	clock        clock.PassiveClock

	mu   sync.RWMutex
	last *Report
}

// Option configures an Engine
type Option func(*Engine)

// WithProbeTimeout sets the fallback per-device timeout
func WithProbeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.probeTimeout = d
		}
	}
}

// WithConcurrency caps simultaneous probes
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithMinFirmware flags devices running older firmware
func WithMinFirmware(version string) Option {
	return func(e *Engine) {
		e.minFirmware = version
	}
}

// WithMetrics records pass duration and failing device counts
func WithMetrics(m *telemetry.DeviceMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer enables spans
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithClock overrides the time source
func WithClock(c clock.PassiveClock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates a discovery engine
func New(directory device.Directory, dialer terminal.Dialer, registry *health.Registry, opts ...Option) *Engine {
	e := &Engine{
		directory:    directory,
		dialer:       dialer,
		health:       registry,
		probeTimeout: DefaultProbeTimeout,
		concurrency:  DefaultConcurrency,
		clock:        clock.RealClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover probes every enabled device and updates the health registry.
// Only a directory failure fails the call; per-device failures are part of the report.
func (e *Engine) Discover(ctx context.Context) (*Report, error) {
	ctx, span := otel.StartSpan(ctx, e.tracer, "discovery.Discover")
	defer span.End()

	start := e.clock.Now()

	all, err := e.directory.ListDevices(ctx)
	if err != nil {
		if !errors.Is(err, device.ErrDirectoryUnavailable) {
			err = fmt.Errorf("%w: %w", device.ErrDirectoryUnavailable, err)
		}
		otel.RecordError(span, err)
		slog.ErrorContext(ctx, "Discovery aborted, device directory unavailable", "error", err)
		return nil, err
	}
	devices := device.Enabled(all)

	slog.InfoContext(ctx, "Starting device discovery", "devices", len(devices), "disabled", len(all)-len(devices))

	type outcome struct {
		accessible *AccessibleDevice
		failed     *FailedDevice
	}
	outcomes := make([]outcome, len(devices))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, dev := range devices {
		g.Go(func() error {
			acc, fail := e.probe(ctx, dev)
			outcomes[i] = outcome{accessible: acc, failed: fail}
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		AccessibleDevices: []AccessibleDevice{},
		FailedDevices:     []FailedDevice{},
	}
	for _, o := range outcomes {
		if o.accessible != nil {
			report.AccessibleDevices = append(report.AccessibleDevices, *o.accessible)
		} else {
			report.FailedDevices = append(report.FailedDevices, *o.failed)
		}
	}
	end := e.clock.Now()
	report.Timestamp = end
	report.Duration = end.Sub(start)

	e.mu.Lock()
	e.last = report
	e.mu.Unlock()

	e.metrics.RecordDiscovery(ctx, report.Duration, len(report.AccessibleDevices), len(report.FailedDevices))
	e.metrics.RecordFailing(ctx, len(e.health.Failing()))
	span.SetAttributes(otel.AttrResultCount.Int(len(report.AccessibleDevices)))

	slog.InfoContext(ctx, "Device discovery completed",
		"accessible", len(report.AccessibleDevices),
		"failed", len(report.FailedDevices),
		"duration", report.Duration)

	return cloneReport(report), nil
}

// LastReport returns the most recent report, or nil before the first pass
func (e *Engine) LastReport() *Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return nil
	}
	return cloneReport(e.last)
}

func (e *Engine) probe(ctx context.Context, dev device.Device) (*AccessibleDevice, *FailedDevice) {
	ctx, span := otel.StartSpan(ctx, e.tracer, "discovery.probe", trace.WithAttributes(
		otel.AttrDeviceID.String(dev.ID),
		otel.AttrDeviceAddress.String(dev.Endpoint()),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, dev.ContactTimeout(e.probeTimeout))
	defer cancel()

	info, err := e.fetchInfo(ctx, dev)
	checkedAt := e.clock.Now()
	if err != nil {
		otel.RecordError(span, err)
		e.health.RecordFailure(dev.ID, err)
		slog.WarnContext(ctx, "Device probe failed", "device_id", dev.ID, "address", dev.Endpoint(), "error", err)
		return nil, &FailedDevice{
			ID:        dev.ID,
			Name:      dev.DisplayName(),
			Address:   dev.Endpoint(),
			Error:     err.Error(),
			CheckedAt: checkedAt,
		}
	}

	e.health.RecordSuccess(dev.ID, health.Metadata{
		FirmwareVersion: info.FirmwareVersion,
		SerialNumber:    info.SerialNumber,
		RecordCount:     info.UserCount,
		TemplateCount:   info.TemplateCount,
	})

	acc := &AccessibleDevice{
		ID:              dev.ID,
		Name:            dev.DisplayName(),
		Address:         dev.Endpoint(),
		RecordCount:     info.UserCount,
		TemplateCount:   info.TemplateCount,
		FirmwareVersion: info.FirmwareVersion,
		SerialNumber:    info.SerialNumber,
		CheckedAt:       checkedAt,
	}
	older, verr := versions.FirmwareOlderThan(info.FirmwareVersion, e.minFirmware)
	switch {
	case verr != nil:
		slog.DebugContext(ctx, "Could not compare firmware version", "device_id", dev.ID, "error", verr)
	case older:
		acc.Warning = fmt.Sprintf("firmware %q is older than the minimum %s", info.FirmwareVersion, e.minFirmware)
		slog.WarnContext(ctx, "Device firmware below minimum", "device_id", dev.ID,
			"firmware", info.FirmwareVersion, "minimum", e.minFirmware)
	}
	return acc, nil
}

func (e *Engine) fetchInfo(ctx context.Context, dev device.Device) (terminal.Info, error) {
	sess, err := e.dialer.Dial(ctx, dev)
	if err != nil {
		return terminal.Info{}, err
	}
	defer func() { _ = sess.Close() }()
	return sess.Info(ctx)
}

func cloneReport(r *Report) *Report {
	c := *r
	c.AccessibleDevices = append([]AccessibleDevice{}, r.AccessibleDevices...)
	c.FailedDevices = append([]FailedDevice{}, r.FailedDevices...)
	return &c
}
