package sync

import "fmt"

// Phases of a device sync, reported in DeviceError
const (
	PhaseLoadRecords = "load-records"
	PhaseConnect     = "connect"
	PhaseInspect     = "inspect"
	PhaseListUsers   = "list-users"
	PhaseApply       = "apply"
)

// DeviceError is a failure to sync one device
type DeviceError struct {
	DeviceID string
	Phase    string
	Err      error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("sync device %s: %s: %v", e.DeviceID, e.Phase, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
