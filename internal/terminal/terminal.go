// Package terminal talks to access terminals through their HTTP JSON bridge.
package terminal

import (
	"context"
	"fmt"

	"github.com/facilityops/accesscontrol-sync/internal/device"
	"github.com/facilityops/accesscontrol-sync/internal/records"
)

//go:generate mockgen -destination=mocks/mock_terminal.go -package=mocks -source=terminal.go Dialer,Session

// Info is what a terminal reports about itself
type Info struct {
	FirmwareVersion string `json:"firmware_version"`
	SerialNumber    string `json:"serial_number"`
	UserCount       int    `json:"user_count"`
	TemplateCount   int    `json:"template_count"`
}

// Dialer opens sessions to terminals
type Dialer interface {
	// Dial connects to the device, retrying transient failures.
	// Errors are *ContactError.
	Dial(ctx context.Context, dev device.Device) (Session, error)
}

// Session is an open connection to one terminal
type Session interface {
	// Info returns firmware, serial and record counts
	Info(ctx context.Context) (Info, error)
	// ListUsers returns every user stored on the terminal, with templates
	ListUsers(ctx context.Context) ([]records.User, error)
	// PutUser creates or replaces a user and its templates
	PutUser(ctx context.Context, user records.User) error
	// DeleteUser removes a user by uid
	DeleteUser(ctx context.Context, uid int) error
	// Close releases the session
	Close() error
}

// ContactError is a failure to reach or talk to a terminal
type ContactError struct {
	DeviceID string
	Address  string
	Op       string
	Attempts int
	Err      error
}

func (e *ContactError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("device %s (%s): %s failed after %d attempts: %v", e.DeviceID, e.Address, e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("device %s (%s): %s failed: %v", e.DeviceID, e.Address, e.Op, e.Err)
}

func (e *ContactError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx answer from a terminal bridge
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// Temporary reports whether retrying may help
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
}
