// Package health tracks per-terminal contact outcomes and derives a
// reachability status from consecutive failures.
package health

import (
	"maps"
	"slices"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DefaultThreshold is the number of consecutive failures after which a device is unreachable
const DefaultThreshold = 3

// Status is the derived health of a device
type Status string

const (
	// StatusHealthy means the last contact succeeded
	StatusHealthy Status = "healthy"
	// StatusFailing means recent contacts failed but the threshold was not reached
	StatusFailing Status = "failing"
	// StatusUnreachable means the failure threshold was reached
	StatusUnreachable Status = "unreachable"
)

// Metadata is what a terminal reported on its last successful contact
type Metadata struct {
	FirmwareVersion string
	SerialNumber    string
	RecordCount     int
	TemplateCount   int
}

// DeviceHealth is a point-in-time copy of one device's health entry
type DeviceHealth struct {
	DeviceID            string
	Status              Status
	ConsecutiveFailures int
	LastCheckedAt       time.Time
	LastSuccessAt       *time.Time
	LastError           string
	Metadata            *Metadata
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the time source
func WithClock(c clock.PassiveClock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// Registry holds health entries for every device that has been contacted.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*DeviceHealth
	threshold int
	clock     clock.PassiveClock
}

// NewRegistry creates a registry. A threshold below 1 selects DefaultThreshold.
func NewRegistry(threshold int, opts ...Option) *Registry {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	r := &Registry{
		entries:   make(map[string]*DeviceHealth),
		threshold: threshold,
		clock:     clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Threshold returns the failure count at which a device becomes unreachable
func (r *Registry) Threshold() int {
	return r.threshold
}

// RecordSuccess marks a successful contact and stores the reported metadata
func (r *Registry) RecordSuccess(deviceID string, md Metadata) DeviceHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(deviceID)
	now := r.touch(e)
	e.ConsecutiveFailures = 0
	e.LastError = ""
	e.LastSuccessAt = &now
	e.Metadata = &md
	return r.copyOf(e)
}

// RecordFailure counts one failed contact
func (r *Registry) RecordFailure(deviceID string, err error) DeviceHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(deviceID)
	r.touch(e)
	e.ConsecutiveFailures++
	if err != nil {
		e.LastError = err.Error()
	} else {
		e.LastError = "unknown error"
	}
	return r.copyOf(e)
}

// ResetFailures clears the failure state of one device.
// LastCheckedAt is left alone since no contact happened.
func (r *Registry) ResetFailures(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[deviceID]; ok {
		e.ConsecutiveFailures = 0
		e.LastError = ""
	}
}

// ResetAll clears the failure state of every device and returns the ids that were failing, sorted
func (r *Registry) ResetAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reset []string
	for id, e := range r.entries {
		if e.ConsecutiveFailures > 0 {
			reset = append(reset, id)
		}
		e.ConsecutiveFailures = 0
		e.LastError = ""
	}
	slices.Sort(reset)
	return reset
}

// Status returns the entry for a device. Unknown devices are healthy with no failures.
func (r *Registry) Status(deviceID string) DeviceHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[deviceID]
	if !ok {
		return DeviceHealth{DeviceID: deviceID, Status: StatusHealthy}
	}
	return r.copyOf(e)
}

// Snapshot returns copies of all entries keyed by device id
func (r *Registry) Snapshot() map[string]DeviceHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]DeviceHealth, len(r.entries))
	for id, e := range r.entries {
		out[id] = r.copyOf(e)
	}
	return out
}

// Failing returns the sorted ids of devices with at least one consecutive failure
func (r *Registry) Failing() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	failing := make([]string, 0, len(r.entries))
	for _, id := range slices.Sorted(maps.Keys(r.entries)) {
		if r.entries[id].ConsecutiveFailures > 0 {
			failing = append(failing, id)
		}
	}
	return failing
}

func (r *Registry) entry(deviceID string) *DeviceHealth {
	e, ok := r.entries[deviceID]
	if !ok {
		e = &DeviceHealth{DeviceID: deviceID}
		r.entries[deviceID] = e
	}
	return e
}

// touch advances LastCheckedAt, never moving it backwards
func (r *Registry) touch(e *DeviceHealth) time.Time {
	now := r.clock.Now()
	if now.Before(e.LastCheckedAt) {
		now = e.LastCheckedAt
	}
	e.LastCheckedAt = now
	return now
}

func (r *Registry) copyOf(e *DeviceHealth) DeviceHealth {
	c := *e
	c.Status = r.derive(e.ConsecutiveFailures)
	if e.LastSuccessAt != nil {
		t := *e.LastSuccessAt
		c.LastSuccessAt = &t
	}
	if e.Metadata != nil {
		md := *e.Metadata
		c.Metadata = &md
	}
	return c
}

func (r *Registry) derive(failures int) Status {
	switch {
	case failures == 0:
		return StatusHealthy
	case failures < r.threshold:
		return StatusFailing
	default:
		return StatusUnreachable
	}
}
