package discovery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/facilityops/accesscontrol-sync/internal/config"
	"github.com/facilityops/accesscontrol-sync/internal/device"
	devicemocks "github.com/facilityops/accesscontrol-sync/internal/device/mocks"
	"github.com/facilityops/accesscontrol-sync/internal/discovery"
	"github.com/facilityops/accesscontrol-sync/internal/health"
	"github.com/facilityops/accesscontrol-sync/internal/records"
	"github.com/facilityops/accesscontrol-sync/internal/terminal"
	"github.com/facilityops/accesscontrol-sync/internal/terminal/mocks"
	"github.com/facilityops/accesscontrol-sync/internal/terminal/terminaltest"
)

func TestDiscoverThreeDevices(t *testing.T) {
	t.Parallel()

	a := terminaltest.New(terminaltest.WithUsers(
		records.User{UID: 1, Name: "Ana", Templates: []records.Template{{FingerIndex: 0, Data: []byte{1}}}},
		records.User{UID: 2, Name: "Ben"},
	))
	t.Cleanup(a.Close)
	c := terminaltest.New(terminaltest.WithFirmware("Ver 6.55 Jan 1 2015"))
	t.Cleanup(c.Close)
	b := terminaltest.New()
	t.Cleanup(b.Close)
	b.SetUnavailable(true)

	dir := device.NewStaticDirectory([]device.Device{a.Device("A"), b.Device("B"), c.Device("C")})
	registry := health.NewRegistry(3)
	dialer := terminal.NewHTTPDialer(terminal.WithInitialBackoff(time.Millisecond), terminal.WithMaxAttempts(1))

	engine := discovery.New(dir, dialer, registry, discovery.WithMinFirmware("6.60"))
	assert.Nil(t, engine.LastReport())

	report, err := engine.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, report.AccessibleDevices, 2)
	require.Len(t, report.FailedDevices, 1)
	assert.Equal(t, "A", report.AccessibleDevices[0].ID)
	assert.Equal(t, 2, report.AccessibleDevices[0].RecordCount)
	assert.Equal(t, 1, report.AccessibleDevices[0].TemplateCount)
	assert.Empty(t, report.AccessibleDevices[0].Warning)
	assert.Equal(t, "C", report.AccessibleDevices[1].ID)
	assert.Contains(t, report.AccessibleDevices[1].Warning, "older than the minimum")
	assert.Equal(t, "B", report.FailedDevices[0].ID)
	assert.Contains(t, report.FailedDevices[0].Error, "503")
	assert.False(t, report.Timestamp.IsZero())

	assert.Equal(t, health.StatusHealthy, registry.Status("A").Status)
	assert.Equal(t, health.StatusHealthy, registry.Status("C").Status)
	assert.Equal(t, 1, registry.Status("B").ConsecutiveFailures)
	assert.Equal(t, []string{"B"}, registry.Failing())
	assert.Equal(t, "Ver 6.55 Jan 1 2015", registry.Status("C").Metadata.FirmwareVersion)

	last := engine.LastReport()
	require.NotNil(t, last)
	assert.Equal(t, report.Timestamp, last.Timestamp)
}

func TestDiscoverSkipsDisabledDevices(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	session := mocks.NewMockSession(ctrl)

	enabled := device.Device{ID: "on", Address: "10.0.0.1", Enabled: true}
	disabled := device.Device{ID: "off", Address: "10.0.0.2", Enabled: false}

	dialer.EXPECT().Dial(gomock.Any(), enabled).Return(session, nil)
	session.EXPECT().Info(gomock.Any()).Return(terminal.Info{FirmwareVersion: "Ver 6.60", UserCount: 4}, nil)
	session.EXPECT().Close().Return(nil)

	registry := health.NewRegistry(3)
	engine := discovery.New(device.NewStaticDirectory([]device.Device{enabled, disabled}), dialer, registry)

	report, err := engine.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, report.AccessibleDevices, 1)
	assert.Empty(t, report.FailedDevices)
	assert.NotContains(t, registry.Snapshot(), "off")
}

func TestDiscoverProbeTimeoutAppliesToConfiguredDevices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.DeviceConfig
		maxWait time.Duration
	}{
		{
			name:    "no device timeout uses probe timeout",
			cfg:     config.DeviceConfig{ID: "a", IP: "10.0.0.1"},
			maxWait: 200 * time.Millisecond,
		},
		{
			name:    "device timeout wins",
			cfg:     config.DeviceConfig{ID: "b", IP: "10.0.0.2", Timeout: 7},
			maxWait: 7 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			dialer := mocks.NewMockDialer(ctrl)
			dev := device.FromConfig(tt.cfg)

			var remaining time.Duration
			dialer.EXPECT().Dial(gomock.Any(), dev).DoAndReturn(
				func(ctx context.Context, _ device.Device) (terminal.Session, error) {
					deadline, ok := ctx.Deadline()
					assert.True(t, ok)
					remaining = time.Until(deadline)
					return nil, errors.New("unreachable")
				})

			engine := discovery.New(device.NewStaticDirectory([]device.Device{dev}), dialer, health.NewRegistry(3),
				discovery.WithProbeTimeout(200*time.Millisecond))
			report, err := engine.Discover(context.Background())
			require.NoError(t, err)
			require.Len(t, report.FailedDevices, 1)

			assert.LessOrEqual(t, remaining, tt.maxWait)
			assert.Greater(t, remaining, tt.maxWait/2)
		})
	}
}

func TestDiscoverDirectoryUnavailable(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	dir := devicemocks.NewMockDirectory(ctrl)
	dir.EXPECT().ListDevices(gomock.Any()).Return(nil, errors.New("connection refused"))

	engine := discovery.New(dir, mocks.NewMockDialer(ctrl), health.NewRegistry(3))
	_, err := engine.Discover(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrDirectoryUnavailable)
	assert.Nil(t, engine.LastReport())
}

func TestDiscoverInfoFailureAfterDial(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	session := mocks.NewMockSession(ctrl)
	dev := device.Device{ID: "x", Address: "10.0.0.9", Enabled: true}

	dialer.EXPECT().Dial(gomock.Any(), dev).Return(session, nil)
	session.EXPECT().Info(gomock.Any()).Return(terminal.Info{}, errors.New("protocol error"))
	session.EXPECT().Close().Return(nil)

	registry := health.NewRegistry(3)
	report, err := discovery.New(device.NewStaticDirectory([]device.Device{dev}), dialer, registry).
		Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, report.FailedDevices, 1)
	assert.Equal(t, "protocol error", report.FailedDevices[0].Error)
	assert.Equal(t, health.StatusFailing, registry.Status("x").Status)
}

func TestDiscoverRespectsConcurrencyAndTimeout(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)

	var devices []device.Device
	for _, id := range []string{"a", "b", "c", "d"} {
		devices = append(devices, device.Device{ID: id, Address: "10.0.0.1", Enabled: true})
	}

	var (
		mu             sync.Mutex
		inFlight, peak int
	)
	dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Times(4).DoAndReturn(
		func(ctx context.Context, _ device.Device) (terminal.Session, error) {
			mu.Lock()
			inFlight++
			peak = max(peak, inFlight)
			mu.Unlock()

			<-ctx.Done()

			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil, ctx.Err()
		})

	registry := health.NewRegistry(3)
	engine := discovery.New(device.NewStaticDirectory(devices), dialer, registry,
		discovery.WithConcurrency(2),
		discovery.WithProbeTimeout(20*time.Millisecond),
	)

	report, err := engine.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.FailedDevices, 4)
	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, []string{"a", "b", "c", "d"}, registry.Failing())
}
