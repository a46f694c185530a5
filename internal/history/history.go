// Package history keeps a bounded log of synchronization runs.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSize is the number of runs kept when no size is configured
const DefaultSize = 50

// RunType says what triggered a run
type RunType string

const (
	// RunTypeManual is an operator-triggered run
	RunTypeManual RunType = "manual"
	// RunTypeScheduled is a run fired by the auto-sync timer
	RunTypeScheduled RunType = "scheduled"
)

// Outcome summarizes a run
type Outcome string

const (
	// OutcomeSuccess means every attempted device was synced
	OutcomeSuccess Outcome = "success"
	// OutcomePartialFailure means some but not all devices were synced
	OutcomePartialFailure Outcome = "partial_failure"
	// OutcomeFailure means no device was synced
	OutcomeFailure Outcome = "failure"
)

// OutcomeFor derives the outcome from device counts. An empty run is a failure.
func OutcomeFor(attempted, synced int) Outcome {
	switch {
	case attempted > 0 && synced == attempted:
		return OutcomeSuccess
	case synced > 0:
		return OutcomePartialFailure
	default:
		return OutcomeFailure
	}
}

// DeviceResult is the per-device part of a run
type DeviceResult struct {
	DeviceID string `json:"device_id"`
	Synced   bool   `json:"synced"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Deleted  int    `json:"deleted"`
	Error    string `json:"error,omitempty"`
}

// Record describes one completed run. Records are immutable once appended.
type Record struct {
	ID               string         `json:"id"`
	Type             RunType        `json:"type"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          time.Time      `json:"end_time"`
	DevicesAttempted int            `json:"devices_attempted"`
	DevicesSynced    int            `json:"devices_synced"`
	Outcome          Outcome        `json:"outcome"`
	Message          string         `json:"message,omitempty"`
	DeviceResults    []DeviceResult `json:"device_results,omitempty"`
}

// Validate checks the record's invariants
func (r *Record) Validate() error {
	var errs []error
	if r.Type != RunTypeManual && r.Type != RunTypeScheduled {
		errs = append(errs, fmt.Errorf("unknown run type %q", r.Type))
	}
	if r.EndTime.Before(r.StartTime) {
		errs = append(errs, errors.New("end time is before start time"))
	}
	if r.DevicesSynced < 0 || r.DevicesAttempted < 0 {
		errs = append(errs, errors.New("device counts must not be negative"))
	}
	if r.DevicesSynced > r.DevicesAttempted {
		errs = append(errs, fmt.Errorf("devices synced (%d) exceeds devices attempted (%d)",
			r.DevicesSynced, r.DevicesAttempted))
	}
	return errors.Join(errs...)
}

func (r Record) clone() Record {
	r.DeviceResults = slices.Clone(r.DeviceResults)
	return r
}

// Log is a fixed-size ring of run records. The oldest record is evicted first.
type Log struct {
	mu      sync.RWMutex
	records []Record // append order, oldest first
	size    int
	store   Store
}

// NewLog creates a log holding at most size records, restoring what store already holds.
// A nil store keeps the log in memory only.
func NewLog(ctx context.Context, size int, store Store) (*Log, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l := &Log{size: size, store: store, records: make([]Record, 0, size)}
	if store == nil {
		return l, nil
	}

	restored, err := store.Load(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("failed to restore sync history: %w", err)
	}
	// Load returns newest first
	for _, rec := range slices.Backward(restored) {
		l.records = append(l.records, rec)
	}
	if len(restored) > 0 {
		slog.Info("Restored sync history", "records", len(restored))
	}
	return l, nil
}

// Size returns the capacity of the ring
func (l *Log) Size() int {
	return l.size
}

// Append validates rec, assigns an id when missing, and adds it to the log.
// Persistence failures are logged; the in-memory log still holds the record.
func (l *Log) Append(ctx context.Context, rec Record) (Record, error) {
	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("invalid sync run record: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec = rec.clone()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.records) == l.size {
		copy(l.records, l.records[1:])
		l.records = l.records[:l.size-1]
	}
	l.records = append(l.records, rec)

	if l.store != nil {
		if err := l.store.Append(ctx, rec, l.size); err != nil {
			slog.ErrorContext(ctx, "Failed to persist sync run record", "run_id", rec.ID, "error", err)
		}
	}
	return rec.clone(), nil
}

// Recent returns up to n records, newest first by start time. n <= 0 returns all.
func (l *Log) Recent(n int) []Record {
	l.mu.RLock()
	out := make([]Record, 0, len(l.records))
	for _, rec := range slices.Backward(l.records) {
		out = append(out, rec.clone())
	}
	l.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Record) int {
		return b.StartTime.Compare(a.StartTime)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Len returns the number of records held
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
