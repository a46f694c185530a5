package coordinator

import (
	"k8s.io/utils/clock"

	"github.com/facilityops/accesscontrol-sync/internal/history"
	"github.com/facilityops/accesscontrol-sync/internal/telemetry"
)

// Option configures the Scheduler
type Option func(*Scheduler)

// WithClock sets the clock used for the auto-sync ticker
func WithClock(c clock.WithTicker) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithSyncMetrics sets the metrics used for skipped ticks
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// WithRunListener registers a listener at construction time
func WithRunListener(l RunListener) Option {
	return func(s *Scheduler) {
		s.listeners = append(s.listeners, l)
	}
}

// WithHistory sets the log that receives a failure record when a run aborts
// before the runner could record it
func WithHistory(log *history.Log) Option {
	return func(s *Scheduler) {
		s.history = log
	}
}
