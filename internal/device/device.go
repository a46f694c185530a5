// Package device defines access terminals and the directories that list them.
package device

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/facilityops/accesscontrol-sync/internal/config"
)

//go:generate mockgen -destination=mocks/mock_directory.go -package=mocks -source=device.go Directory

// ErrDirectoryUnavailable is returned when the device list cannot be read at all.
var ErrDirectoryUnavailable = errors.New("device directory unavailable")

const (
	// DefaultPort is the factory port of the terminals
	DefaultPort = 4370
	// DefaultTimeout is the per-contact timeout when a device does not set one
	DefaultTimeout = 5 * time.Second
)

// Device is one access terminal known to the engine
type Device struct {
	ID       string        `json:"id"`
	Name     string        `json:"name,omitempty"`
	Address  string        `json:"ip"`
	Port     int           `json:"port"`
	Password string        `json:"-"`
	Timeout  time.Duration `json:"-"`
	Enabled  bool          `json:"enabled"`
}

// Endpoint returns host:port for the terminal
func (d Device) Endpoint() string {
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(d.Address, strconv.Itoa(port))
}

// ContactTimeout returns the device's own timeout, or fallback when unset
func (d Device) ContactTimeout(fallback time.Duration) time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}

// DisplayName returns the name, falling back to the id
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Directory lists the terminals the engine manages
type Directory interface {
	// ListDevices returns every known device, enabled or not.
	// Errors wrap ErrDirectoryUnavailable.
	ListDevices(ctx context.Context) ([]Device, error)
}

// FromConfig converts a configured device into a Device.
// Timeout stays zero when the device sets none, so callers apply their own fallback.
func FromConfig(c config.DeviceConfig) Device {
	dev := Device{
		ID:       c.ID,
		Name:     c.Name,
		Address:  c.IP,
		Port:     c.GetPort(),
		Password: c.Password,
		Enabled:  c.IsEnabled(),
	}
	if c.Timeout > 0 {
		dev.Timeout = c.GetTimeout()
	}
	return dev
}

// Enabled filters out disabled devices, keeping order
func Enabled(devices []Device) []Device {
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// StaticDirectory serves a fixed device list from configuration
type StaticDirectory struct {
	devices []Device
}

// NewStaticDirectory creates a directory over the given devices
func NewStaticDirectory(devices []Device) *StaticDirectory {
	cp := make([]Device, len(devices))
	copy(cp, devices)
	return &StaticDirectory{devices: cp}
}

// ListDevices returns a copy of the configured devices
func (s *StaticDirectory) ListDevices(_ context.Context) ([]Device, error) {
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out, nil
}
