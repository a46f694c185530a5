package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/facilityops/accesscontrol-sync/internal/device"
	"github.com/facilityops/accesscontrol-sync/internal/history"
	"github.com/facilityops/accesscontrol-sync/internal/status"
)

// Handle tracks a started manual run
type Handle struct {
	done chan struct{}
	rec  history.Record
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Done is closed once the run has been recorded (or failed to be)
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the recorded run. Only valid after Done is closed.
func (h *Handle) Result() (history.Record, error) {
	return h.rec, h.err
}

// Wait blocks until the run finishes or ctx is done
func (h *Handle) Wait(ctx context.Context) (history.Record, error) {
	select {
	case <-h.done:
		return h.rec, h.err
	case <-ctx.Done():
		return history.Record{}, ctx.Err()
	}
}

func (h *Handle) complete(rec history.Record, err error) {
	h.rec = rec
	h.err = err
	close(h.done)
}

// startTickerLocked arms a ticker for p's interval. Caller holds s.mu.
func (s *Scheduler) startTickerLocked(p status.AutoSyncPolicy) {
	ctx := s.runCtx
	ticker := s.clock.NewTicker(p.Interval())
	stop := make(chan struct{})
	s.ticker = ticker
	s.tickStop = stop

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ticker.C():
				s.tick(ctx)
			case <-stop:
				return
			}
		}
	}()
	slog.Debug("Auto-sync ticker armed", "interval", p.Interval())
}

// stopTickerLocked disarms the current ticker, if any. Caller holds s.mu.
func (s *Scheduler) stopTickerLocked() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.tickStop)
	s.ticker = nil
	s.tickStop = nil
}

// tick starts a scheduled run unless one is already active
func (s *Scheduler) tick(ctx context.Context) {
	runCtx, err := s.acquire()
	switch {
	case errors.Is(err, ErrSyncInProgress):
		s.skipped.Add(1)
		s.metrics.RecordSkippedTick(ctx)
		slog.InfoContext(ctx, "Skipping scheduled sync, a run is already in progress")
		return
	case err != nil:
		return
	}

	devices, err := s.directory.ListDevices(runCtx)
	if err != nil {
		s.release()
		slog.Error("Scheduled sync aborted, device directory unavailable", "error", err)
		return
	}

	go func() {
		_, _ = s.execute(runCtx, device.Enabled(devices), history.RunTypeScheduled)
	}()
}

// execute runs the sync and releases the guard. The caller must hold the
// run slot obtained from acquire.
func (s *Scheduler) execute(ctx context.Context, devices []device.Device, runType history.RunType) (rec history.Record, err error) {
	defer s.release()
	start := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync run panicked: %v", r)
			slog.ErrorContext(ctx, "Sync run panicked", "type", runType, "panic", r)
			rec = s.recordAborted(ctx, devices, runType, start, err)
		}
	}()

	rec, err = s.runner.Run(ctx, devices, runType)
	if err != nil {
		slog.ErrorContext(ctx, "Sync run failed", "type", runType, "error", err)
		return rec, err
	}

	s.mu.Lock()
	listeners := make([]RunListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l(ctx, rec)
	}
	return rec, nil
}

// recordAborted appends a failure record for a run that never produced one
func (s *Scheduler) recordAborted(ctx context.Context, devices []device.Device, runType history.RunType,
	start time.Time, cause error) history.Record {
	if s.history == nil {
		return history.Record{}
	}
	end := s.clock.Now()
	if end.Before(start) {
		end = start
	}
	results := make([]history.DeviceResult, len(devices))
	for i, dev := range devices {
		results[i] = history.DeviceResult{DeviceID: dev.ID, Error: "run aborted"}
	}
	rec, err := s.history.Append(ctx, history.Record{
		Type:             runType,
		StartTime:        start,
		EndTime:          end,
		DevicesAttempted: len(devices),
		Outcome:          history.OutcomeFailure,
		Message:          fmt.Sprintf("Sync run aborted: %v", cause),
		DeviceResults:    results,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to record aborted sync run", "type", runType, "error", err)
		return history.Record{}
	}
	return rec
}
