package coordinator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/facilityops/accesscontrol-sync/internal/device"
	devicemocks "github.com/facilityops/accesscontrol-sync/internal/device/mocks"
	"github.com/facilityops/accesscontrol-sync/internal/history"
	"github.com/facilityops/accesscontrol-sync/internal/status"
	"github.com/facilityops/accesscontrol-sync/internal/sync/coordinator"
	syncmocks "github.com/facilityops/accesscontrol-sync/internal/sync/mocks"
)

var fleet = []device.Device{
	{ID: "a", Address: "10.0.0.1", Enabled: true},
	{ID: "b", Address: "10.0.0.2", Enabled: false},
}

type harness struct {
	sched  *coordinator.Scheduler
	dir    *devicemocks.MockDirectory
	runner *syncmocks.MockRunner
	policy *status.PolicyTracker
	clock  *testingclock.FakeClock
}

func newHarness(t *testing.T, initial status.AutoSyncPolicy, opts ...coordinator.Option) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	policy, err := status.NewPolicyTracker(context.Background(), nil, initial)
	require.NoError(t, err)

	h := &harness{
		dir:    devicemocks.NewMockDirectory(ctrl),
		runner: syncmocks.NewMockRunner(ctrl),
		policy: policy,
		clock:  testingclock.NewFakeClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)),
	}
	opts = append([]coordinator.Option{coordinator.WithClock(h.clock)}, opts...)
	h.sched = coordinator.New(h.dir, h.runner, policy, opts...)
	require.NoError(t, h.sched.Start(context.Background()))
	t.Cleanup(h.sched.Stop)
	return h
}

// blockingRun makes the next Run of runType wait for release
func (h *harness) blockingRun(runType history.RunType, release <-chan struct{}) *gomock.Call {
	return h.runner.EXPECT().
		Run(gomock.Any(), []device.Device{fleet[0]}, runType).
		DoAndReturn(func(_ context.Context, devices []device.Device, rt history.RunType) (history.Record, error) {
			<-release
			return history.Record{ID: "run", Type: rt, DevicesAttempted: len(devices), DevicesSynced: len(devices),
				Outcome: history.OutcomeSuccess}, nil
		})
}

func wait(t *testing.T, handle *coordinator.Handle) history.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := handle.Wait(ctx)
	require.NoError(t, err)
	return rec
}

func TestManualSyncSingleFlight(t *testing.T) {
	t.Parallel()
	h := newHarness(t, status.AutoSyncPolicy{})

	release := make(chan struct{})
	h.dir.EXPECT().ListDevices(gomock.Any()).Return(fleet, nil).Times(2)
	h.blockingRun(history.RunTypeManual, release).Times(2)

	first, err := h.sched.ManualSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, coordinator.StateRunning, h.sched.State())

	for range 5 {
		_, err := h.sched.ManualSync(context.Background())
		require.ErrorIs(t, err, coordinator.ErrSyncInProgress)
	}

	close(release)
	rec := wait(t, first)
	assert.Equal(t, history.RunTypeManual, rec.Type)
	assert.Equal(t, 1, rec.DevicesAttempted)
	assert.Equal(t, coordinator.StateStopped, h.sched.State())

	second, err := h.sched.ManualSync(context.Background())
	require.NoError(t, err)
	wait(t, second)
}

func TestManualSyncDetachedFromCallerContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t, status.AutoSyncPolicy{})

	h.dir.EXPECT().ListDevices(gomock.Any()).Return(fleet, nil)
	h.runner.EXPECT().Run(gomock.Any(), gomock.Any(), history.RunTypeManual).
		DoAndReturn(func(ctx context.Context, _ []device.Device, _ history.RunType) (history.Record, error) {
			time.Sleep(20 * time.Millisecond)
			return history.Record{Outcome: history.OutcomeSuccess}, ctx.Err()
		})

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := h.sched.ManualSync(ctx)
	require.NoError(t, err)
	cancel()

	<-handle.Done()
	_, err = handle.Result()
	assert.NoError(t, err)
}

func TestManualSyncDirectoryUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, status.AutoSyncPolicy{})

	h.dir.EXPECT().ListDevices(gomock.Any()).
		Return(nil, errors.Join(device.ErrDirectoryUnavailable, errors.New("file missing")))

	_, err := h.sched.ManualSync(context.Background())
	require.ErrorIs(t, err, device.ErrDirectoryUnavailable)

	// the guard is released and no run happened
	release := make(chan struct{})
	close(release)
	h.dir.EXPECT().ListDevices(gomock.Any()).Return(fleet, nil)
	h.blockingRun(history.RunTypeManual, release)

	handle, err := h.sched.ManualSync(context.Background())
	require.NoError(t, err)
	wait(t, handle)
}

func TestRunErrorReachesHandle(t *testing.T) {
	t.Parallel()
	listened := make(chan history.Record, 1)
	h := newHarness(t, status.AutoSyncPolicy{}, coordinator.WithRunListener(
		func(_ context.Context, rec history.Record) { listened <- rec },
	))

	h.dir.EXPECT().ListDevices(gomock.Any()).Return(fleet, nil)
	h.runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(history.Record{}, errors.New("history store unavailable"))

	handle, err := h.sched.ManualSync(context.Background())
	require.NoError(t, err)

	_, err = handle.Wait(context.Background())
	require.ErrorContains(t, err, "history store unavailable")
	assert.Empty(t, listened)
}

func TestRunPanicIsRecorded(t *testing.T) {
	t.Parallel()

	log, err := history.NewLog(context.Background(), 5, nil)
	require.NoError(t, err)
	h := newHarness(t, status.AutoSyncPolicy{}, coordinator.WithHistory(log))

	h.dir.EXPECT().ListDevices(gomock.Any()).Return(fleet, nil)
	h.runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, []device.Device, history.RunType) (history.Record, error) {
			panic("nil session")
		})

	handle, err := h.sched.ManualSync(context.Background())
	require.NoError(t, err)

	rec, err := handle.Wait(context.Background())
	require.ErrorContains(t, err, "nil session")
	assert.Equal(t, history.OutcomeFailure, rec.Outcome)
	assert.Equal(t, history.RunTypeManual, rec.Type)
	assert.Equal(t, 1, rec.DevicesAttempted)
	assert.Zero(t, rec.DevicesSynced)
	assert.Contains(t, rec.Message, "nil session")

	require.Equal(t, 1, log.Len())
	assert.Equal(t, rec.ID, log.Recent(1)[0].ID)

	// the run slot is released
	h.dir.EXPECT().ListDevices(gomock.Any()).Return(fleet, nil)
	h.runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(history.Record{ID: "next", Type: history.RunTypeManual, Outcome: history.OutcomeSuccess}, nil)
	handle, err = h.sched.ManualSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "next", wait(t, handle).ID)
}

func TestScheduledTick(t *testing.T) {
	t.Parallel()
	listened := make(chan history.Record, 1)
	h := newHarness(t, status.AutoSyncPolicy{}, coordinator.WithRunListener(
		func(_ context.Context, rec history.Record) { listened <- rec },
	))

	release := make(chan struct{})
	close(release)
	h.dir.EXPECT().ListDevices(gomock.Any()).Return(fleet, nil)
	h.blockingRun(history.RunTypeScheduled, release)

	p, err := h.sched.StartAutoSync(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, p.Enabled)
	assert.Equal(t, 2, p.IntervalHours)
	assert.Equal(t, coordinator.StateIdle, h.sched.State())

	h.clock.Step(time.Hour)
	select {
	case <-listened:
		t.Fatal("tick fired before the interval elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	h.clock.Step(time.Hour)
	select {
	case rec := <-listened:
		assert.Equal(t, history.RunTypeScheduled, rec.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run did not complete")
	}
}

func TestTickSkippedWhileRunning(t *testing.T) {
	t.Parallel()
	h := newHarness(t, status.AutoSyncPolicy{})

	release := make(chan struct{})
	h.dir.EXPECT().ListDevices(gomock.Any()).Return(fleet, nil)
	h.blockingRun(history.RunTypeManual, release).Times(1)

	_, err := h.sched.StartAutoSync(context.Background(), 1)
	require.NoError(t, err)

	handle, err := h.sched.ManualSync(context.Background())
	require.NoError(t, err)

	h.clock.Step(time.Hour)
	require.Eventually(t, func() bool { return h.sched.SkippedTicks() == 1 }, 5*time.Second, 5*time.Millisecond)

	h.clock.Step(time.Hour)
	require.Eventually(t, func() bool { return h.sched.SkippedTicks() == 2 }, 5*time.Second, 5*time.Millisecond)

	close(release)
	wait(t, handle)
	assert.Equal(t, coordinator.StateIdle, h.sched.State())
}

func TestTickDirectoryUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, status.AutoSyncPolicy{Enabled: true, IntervalHours: 1})

	listed := make(chan struct{})
	h.dir.EXPECT().ListDevices(gomock.Any()).DoAndReturn(func(context.Context) ([]device.Device, error) {
		close(listed)
		return nil, device.ErrDirectoryUnavailable
	})

	h.clock.Step(time.Hour)
	<-listed
	require.Eventually(t, func() bool { return h.sched.State() == coordinator.StateIdle }, 5*time.Second, 5*time.Millisecond)
}

func TestStartAutoSyncRejectsInvalidInterval(t *testing.T) {
	t.Parallel()

	for _, hours := range []int{-1, 0, 25, 100} {
		h := newHarness(t, status.AutoSyncPolicy{})

		_, err := h.sched.StartAutoSync(context.Background(), hours)
		require.ErrorIs(t, err, status.ErrInvalidInterval)

		p := h.policy.Snapshot()
		assert.False(t, p.Enabled)
		assert.Equal(t, status.DefaultIntervalHours, p.IntervalHours)
		assert.Equal(t, coordinator.StateStopped, h.sched.State())
		assert.False(t, h.clock.HasWaiters())
	}
}

func TestStartAutoSyncKeepsTickerOnInvalidInterval(t *testing.T) {
	t.Parallel()
	h := newHarness(t, status.AutoSyncPolicy{})

	_, err := h.sched.StartAutoSync(context.Background(), 6)
	require.NoError(t, err)
	_, err = h.sched.StartAutoSync(context.Background(), 30)
	require.Error(t, err)

	p := h.policy.Snapshot()
	assert.True(t, p.Enabled)
	assert.Equal(t, 6, p.IntervalHours)
	assert.True(t, h.clock.HasWaiters())
}

func TestStopAutoSyncIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, status.AutoSyncPolicy{Enabled: true, IntervalHours: 3})
	assert.True(t, h.clock.HasWaiters())

	for range 3 {
		p := h.sched.StopAutoSync(context.Background())
		assert.False(t, p.Enabled)
		assert.Equal(t, coordinator.StateStopped, h.sched.State())
	}

	// the directory mock fails the test if a tick still starts a run
	h.clock.Step(24 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.sched.SkippedTicks())
}

func TestStopAutoSyncLeavesRunAlone(t *testing.T) {
	t.Parallel()
	h := newHarness(t, status.AutoSyncPolicy{Enabled: true, IntervalHours: 1})

	release := make(chan struct{})
	h.dir.EXPECT().ListDevices(gomock.Any()).Return(fleet, nil)
	h.blockingRun(history.RunTypeManual, release)

	handle, err := h.sched.ManualSync(context.Background())
	require.NoError(t, err)

	h.sched.StopAutoSync(context.Background())
	assert.Equal(t, coordinator.StateRunning, h.sched.State())

	close(release)
	rec := wait(t, handle)
	assert.Equal(t, history.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, coordinator.StateStopped, h.sched.State())
}

func TestStopWaitsForRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, status.AutoSyncPolicy{})

	release := make(chan struct{})
	h.dir.EXPECT().ListDevices(gomock.Any()).Return(fleet, nil)
	h.blockingRun(history.RunTypeManual, release)

	handle, err := h.sched.ManualSync(context.Background())
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		h.sched.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped
	wait(t, handle)

	_, err = h.sched.ManualSync(context.Background())
	require.ErrorIs(t, err, coordinator.ErrSchedulerStopped)
}
