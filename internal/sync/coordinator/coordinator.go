package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"

	"k8s.io/utils/clock"

	"github.com/facilityops/accesscontrol-sync/internal/device"
	"github.com/facilityops/accesscontrol-sync/internal/history"
	"github.com/facilityops/accesscontrol-sync/internal/status"
	pkgsync "github.com/facilityops/accesscontrol-sync/internal/sync"
	"github.com/facilityops/accesscontrol-sync/internal/telemetry"
)

var (
	// ErrSyncInProgress is returned when a run is requested while another is active
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrSchedulerStopped is returned once Stop has been called
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// State is the observable scheduler state
type State string

const (
	// StateIdle means auto-sync is enabled and no run is active
	StateIdle State = "idle"
	// StateRunning means a run is in flight
	StateRunning State = "running"
	// StateStopped means auto-sync is disabled and no run is active
	StateStopped State = "stopped"
)

// RunListener is called after every recorded run, manual or scheduled.
// Listeners run on the run's goroutine and must not block for long.
type RunListener func(ctx context.Context, rec history.Record)

// Scheduler triggers synchronization runs on a timer or on demand
type Scheduler struct {
	directory device.Directory
	runner    pkgsync.Runner
	policy    *status.PolicyTracker
	clock     clock.WithTicker
	metrics   *telemetry.SyncMetrics
	history   *history.Log
	listeners []RunListener

	mu       gosync.Mutex
	running  bool
	started  bool
	stopped  bool
	runCtx   context.Context
	ticker   clock.Ticker
	tickStop chan struct{}
	wg       gosync.WaitGroup

	skipped atomic.Int64
}

// New creates a scheduler. The policy tracker is shared with the runner,
// which records completed runs on it.
func New(directory device.Directory, runner pkgsync.Runner, policy *status.PolicyTracker, opts ...Option) *Scheduler {
	s := &Scheduler{
		directory: directory,
		runner:    runner,
		policy:    policy,
		clock:     clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddRunListener registers l for subsequent runs
func (s *Scheduler) AddRunListener(l RunListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Start arms the ticker if the policy is enabled. It does not block.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	s.runCtx = context.WithoutCancel(ctx)

	p := s.policy.Snapshot()
	slog.Info("Starting sync scheduler",
		"auto_sync_enabled", p.Enabled,
		"interval_hours", p.IntervalHours)
	if p.Enabled {
		s.startTickerLocked(p)
	}
	return nil
}

// Stop disarms the ticker and waits for the in-flight run
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.stopTickerLocked()
	s.mu.Unlock()

	slog.Info("Stopping sync scheduler, waiting for in-flight run")
	s.wg.Wait()
	slog.Info("Sync scheduler stopped")
}

// StartAutoSync enables the policy with the given interval and (re)arms the
// ticker. An invalid interval leaves policy and ticker untouched.
func (s *Scheduler) StartAutoSync(ctx context.Context, hours int) (status.AutoSyncPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return s.policy.Snapshot(), ErrSchedulerStopped
	}
	p, err := s.policy.Enable(ctx, hours)
	if err != nil {
		return p, err
	}

	if s.started {
		s.stopTickerLocked()
		s.startTickerLocked(p)
	}
	slog.InfoContext(ctx, "Auto-sync enabled", "interval_hours", p.IntervalHours)
	return p, nil
}

// StopAutoSync disables the policy and disarms the ticker. An active run is
// left to finish.
func (s *Scheduler) StopAutoSync(ctx context.Context) status.AutoSyncPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasEnabled := s.ticker != nil
	s.stopTickerLocked()
	p := s.policy.Disable(ctx)
	if wasEnabled {
		slog.InfoContext(ctx, "Auto-sync disabled")
	}
	return p
}

// State reports whether a run is active and whether auto-sync is enabled
func (s *Scheduler) State() State {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	switch {
	case running:
		return StateRunning
	case s.policy.Snapshot().Enabled:
		return StateIdle
	default:
		return StateStopped
	}
}

// SkippedTicks returns the number of ticks dropped because a run was active
func (s *Scheduler) SkippedTicks() int64 {
	return s.skipped.Load()
}

// ManualSync starts a run of every enabled device. The decision is made
// before returning: ErrSyncInProgress when a run is active, an error
// wrapping device.ErrDirectoryUnavailable when the device list cannot be
// read (nothing is recorded), or a handle for the started run.
func (s *Scheduler) ManualSync(ctx context.Context) (*Handle, error) {
	runCtx, err := s.acquire()
	if err != nil {
		return nil, err
	}

	devices, err := s.directory.ListDevices(ctx)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	h := newHandle()
	go func() {
		rec, err := s.execute(runCtx, device.Enabled(devices), history.RunTypeManual)
		h.complete(rec, err)
	}()
	return h, nil
}

// acquire takes the single-flight guard. On success the caller owns the run
// slot and must call release exactly once.
func (s *Scheduler) acquire() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrSchedulerStopped
	}
	if s.running {
		return nil, ErrSyncInProgress
	}
	s.running = true
	s.wg.Add(1)

	if s.runCtx == nil {
		return context.Background(), nil
	}
	return s.runCtx, nil
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.wg.Done()
}
