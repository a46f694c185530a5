package device

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/facilityops/accesscontrol-sync/internal/config"
)

// deviceFile is the on-disk layout shared with the dashboard middleware
type deviceFile struct {
	Devices  []config.DeviceConfig `json:"devices"`
	Settings map[string]any        `json:"settings,omitempty"`
}

// FileDirectory reads devices from a JSON file on every call so edits are
// picked up without a restart. Comments and trailing commas are accepted.
type FileDirectory struct {
	path string
}

// NewFileDirectory creates a directory backed by the file at path
func NewFileDirectory(path string) *FileDirectory {
	return &FileDirectory{path: filepath.Clean(path)}
}

// ListDevices parses the device file
func (f *FileDirectory) ListDevices(_ context.Context) ([]Device, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrDirectoryUnavailable, f.path, err)
	}

	standard, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid device file %s: %w", ErrDirectoryUnavailable, f.path, err)
	}

	var parsed deviceFile
	if err := json.Unmarshal(standard, &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %w", ErrDirectoryUnavailable, f.path, err)
	}

	devices := make([]Device, 0, len(parsed.Devices))
	seen := make(map[string]bool, len(parsed.Devices))
	for i, d := range parsed.Devices {
		if d.ID == "" || d.IP == "" {
			return nil, fmt.Errorf("%w: device[%d] in %s needs id and ip", ErrDirectoryUnavailable, i, f.path)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("%w: duplicate device id '%s' in %s", ErrDirectoryUnavailable, d.ID, f.path)
		}
		seen[d.ID] = true
		devices = append(devices, FromConfig(d))
	}
	return devices, nil
}
