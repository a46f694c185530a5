package status

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MinIntervalHours is the shortest accepted auto-sync interval
	MinIntervalHours = 1
	// MaxIntervalHours is the longest accepted auto-sync interval
	MaxIntervalHours = 24
	// DefaultIntervalHours applies when nothing else was configured
	DefaultIntervalHours = 24
)

// ErrInvalidInterval is returned for auto-sync intervals outside 1..24 hours
var ErrInvalidInterval = errors.New("interval_hours must be between 1 and 24")

// AutoSyncPolicy is the persisted auto-sync setting together with run bookkeeping
type AutoSyncPolicy struct {
	// Enabled reports whether scheduled runs are active
	Enabled bool `json:"enabled"`

	// IntervalHours is the time between scheduled runs
	IntervalHours int `json:"interval_hours"`

	// LastSyncTime is the end time of the most recent run of any type
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`

	// TotalSyncsPerformed counts completed runs; it never decreases
	TotalSyncsPerformed int64 `json:"total_syncs_performed"`
}

// Interval returns the interval as a duration
func (p AutoSyncPolicy) Interval() time.Duration {
	return time.Duration(p.IntervalHours) * time.Hour
}

// ValidateInterval checks that hours is within the accepted range
func ValidateInterval(hours int) error {
	if hours < MinIntervalHours || hours > MaxIntervalHours {
		return fmt.Errorf("%w, got %d", ErrInvalidInterval, hours)
	}
	return nil
}

func (p AutoSyncPolicy) clone() AutoSyncPolicy {
	if p.LastSyncTime != nil {
		t := *p.LastSyncTime
		p.LastSyncTime = &t
	}
	return p
}
