package protocol

import (
	"sort"
	"time"

	"github.com/facilityops/accesscontrol-sync/internal/discovery"
	"github.com/facilityops/accesscontrol-sync/internal/health"
	"github.com/facilityops/accesscontrol-sync/internal/history"
	"github.com/facilityops/accesscontrol-sync/internal/status"
)

// SyncStatusData is the data of a getSyncStatus response
type SyncStatusData struct {
	AutoSyncEnabled     bool                          `json:"auto_sync_enabled"`
	SyncIntervalHours   int                           `json:"sync_interval_hours"`
	LastSyncTime        *time.Time                    `json:"last_sync_time"`
	TotalSyncsPerformed int64                         `json:"total_syncs_performed"`
	SyncInProgress      bool                          `json:"sync_in_progress"`
	FailedDevicesCount  int                           `json:"failed_devices_count"`
	FailedDevices       []string                      `json:"failed_devices"`
	DeviceHealthStatus  map[string]DeviceHealthStatus `json:"device_health_status"`
	RecentSyncHistory   []SyncHistoryEntry            `json:"recent_sync_history"`
}

// DeviceHealthStatus is one entry of device_health_status
type DeviceHealthStatus struct {
	Status              health.Status `json:"status"`
	LastCheck           *time.Time    `json:"last_check"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
}

// SyncHistoryEntry is one entry of recent_sync_history
type SyncHistoryEntry struct {
	ID           string          `json:"id"`
	Type         history.RunType `json:"type"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	DevicesCount int             `json:"devices_count"`
	Result       SyncResult      `json:"result"`
	Message      string          `json:"message,omitempty"`
}

// SyncResult summarizes a run's outcome
type SyncResult struct {
	Status        history.Outcome `json:"status"`
	DevicesSynced int             `json:"devices_synced"`
}

// NewSyncStatusData assembles the getSyncStatus payload. recent is expected
// newest first.
func NewSyncStatusData(
	policy status.AutoSyncPolicy,
	snapshot map[string]health.DeviceHealth,
	failing []string,
	recent []history.Record,
	inProgress bool,
) SyncStatusData {
	data := SyncStatusData{
		AutoSyncEnabled:     policy.Enabled,
		SyncIntervalHours:   policy.IntervalHours,
		LastSyncTime:        policy.LastSyncTime,
		TotalSyncsPerformed: policy.TotalSyncsPerformed,
		SyncInProgress:      inProgress,
		FailedDevicesCount:  len(failing),
		FailedDevices:       failing,
		DeviceHealthStatus:  make(map[string]DeviceHealthStatus, len(snapshot)),
		RecentSyncHistory:   make([]SyncHistoryEntry, 0, len(recent)),
	}
	if data.FailedDevices == nil {
		data.FailedDevices = []string{}
	}

	for id, h := range snapshot {
		entry := DeviceHealthStatus{
			Status:              h.Status,
			ConsecutiveFailures: h.ConsecutiveFailures,
			LastError:           h.LastError,
		}
		if !h.LastCheckedAt.IsZero() {
			t := h.LastCheckedAt.UTC()
			entry.LastCheck = &t
		}
		data.DeviceHealthStatus[id] = entry
	}

	for _, rec := range recent {
		data.RecentSyncHistory = append(data.RecentSyncHistory, historyEntry(rec))
	}
	return data
}

func historyEntry(rec history.Record) SyncHistoryEntry {
	return SyncHistoryEntry{
		ID:           rec.ID,
		Type:         rec.Type,
		StartTime:    rec.StartTime.UTC(),
		EndTime:      rec.EndTime.UTC(),
		DevicesCount: rec.DevicesAttempted,
		Result: SyncResult{
			Status:        rec.Outcome,
			DevicesSynced: rec.DevicesSynced,
		},
		Message: rec.Message,
	}
}

// DiscoveryData is the data of a discoverDevices response
type DiscoveryData struct {
	AccessibleDevices []AccessibleDevice `json:"accessible_devices"`
	FailedDevices     []FailedDevice     `json:"failed_devices"`
	// DiscoveryDuration is in seconds
	DiscoveryDuration float64   `json:"discovery_duration"`
	Timestamp         time.Time `json:"timestamp"`
}

// AccessibleDevice is a terminal that answered discovery
type AccessibleDevice struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	IP              string    `json:"ip"`
	RecordCount     int       `json:"record_count"`
	TemplateCount   int       `json:"template_count"`
	FirmwareVersion string    `json:"firmware_version"`
	SerialNumber    string    `json:"serial_number,omitempty"`
	Warning         string    `json:"warning,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// FailedDevice is a terminal that did not answer discovery
type FailedDevice struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IP        string    `json:"ip"`
	Error     string    `json:"error"`
	CheckedAt time.Time `json:"checked_at"`
}

// NewDiscoveryData converts a discovery report
func NewDiscoveryData(r *discovery.Report) DiscoveryData {
	data := DiscoveryData{
		AccessibleDevices: make([]AccessibleDevice, 0, len(r.AccessibleDevices)),
		FailedDevices:     make([]FailedDevice, 0, len(r.FailedDevices)),
		DiscoveryDuration: r.Duration.Seconds(),
		Timestamp:         r.Timestamp.UTC(),
	}
	for _, d := range r.AccessibleDevices {
		data.AccessibleDevices = append(data.AccessibleDevices, AccessibleDevice{
			ID:              d.ID,
			Name:            d.Name,
			IP:              d.Address,
			RecordCount:     d.RecordCount,
			TemplateCount:   d.TemplateCount,
			FirmwareVersion: d.FirmwareVersion,
			SerialNumber:    d.SerialNumber,
			Warning:         d.Warning,
			CheckedAt:       d.CheckedAt.UTC(),
		})
	}
	for _, d := range r.FailedDevices {
		data.FailedDevices = append(data.FailedDevices, FailedDevice{
			ID:        d.ID,
			Name:      d.Name,
			IP:        d.Address,
			Error:     d.Error,
			CheckedAt: d.CheckedAt.UTC(),
		})
	}
	return data
}

// ResetData is the data of a resetFailedDevices response
type ResetData struct {
	ResetDevices []string `json:"reset_devices"`
	ResetCount   int      `json:"reset_count"`
}

// NewResetData sorts ids for stable output
func NewResetData(ids []string) ResetData {
	out := append([]string{}, ids...)
	sort.Strings(out)
	return ResetData{ResetDevices: out, ResetCount: len(out)}
}

// AutoSyncData is the data of startAutoSync and stopAutoSync responses
type AutoSyncData struct {
	AutoSyncEnabled   bool `json:"auto_sync_enabled"`
	SyncIntervalHours int  `json:"sync_interval_hours"`
}

// NewAutoSyncData converts a policy
func NewAutoSyncData(p status.AutoSyncPolicy) AutoSyncData {
	return AutoSyncData{AutoSyncEnabled: p.Enabled, SyncIntervalHours: p.IntervalHours}
}

// RunData is the data of a manualSync response and a scheduled_sync_completed event
type RunData struct {
	SyncHistoryEntry
	DeviceResults []history.DeviceResult `json:"device_results"`
}

// NewRunData converts a history record
func NewRunData(rec history.Record) RunData {
	results := rec.DeviceResults
	if results == nil {
		results = []history.DeviceResult{}
	}
	return RunData{SyncHistoryEntry: historyEntry(rec), DeviceResults: results}
}
