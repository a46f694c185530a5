package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilityops/accesscontrol-sync/internal/discovery"
	"github.com/facilityops/accesscontrol-sync/internal/health"
	"github.com/facilityops/accesscontrol-sync/internal/history"
	"github.com/facilityops/accesscontrol-sync/internal/status"
)

func intPtr(i int) *int { return &i }

func TestDecode(t *testing.T) {
	t.Parallel()

	d, err := NewDecoder()
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		want    Request
		wantErr string
	}{
		{
			name:    "bare command",
			payload: `{"command":"getSyncStatus"}`,
			want:    Request{Command: CommandGetSyncStatus},
		},
		{
			name:    "request id echoed",
			payload: `{"command":"manualSync","request_id":"r-1"}`,
			want:    Request{Command: CommandManualSync, RequestID: "r-1"},
		},
		{
			name:    "top level interval",
			payload: `{"command":"startAutoSync","interval_hours":6}`,
			want:    Request{Command: CommandStartAutoSync, IntervalHours: intPtr(6)},
		},
		{
			name:    "nested interval",
			payload: `{"command":"startAutoSync","data":{"interval_hours":12}}`,
			want:    Request{Command: CommandStartAutoSync, IntervalHours: intPtr(12)},
		},
		{
			name:    "top level wins",
			payload: `{"command":"startAutoSync","interval_hours":2,"data":{"interval_hours":12}}`,
			want:    Request{Command: CommandStartAutoSync, IntervalHours: intPtr(2)},
		},
		{
			name:    "unknown command passes validation",
			payload: `{"command":"reboot","extra":true}`,
			want:    Request{Command: "reboot"},
		},
		{
			name:    "malformed json",
			payload: `{"command":`,
			wantErr: "malformed JSON",
		},
		{
			name:    "missing command",
			payload: `{"request_id":"r-2"}`,
			want:    Request{RequestID: "r-2"},
			wantErr: "invalid command envelope",
		},
		{
			name:    "command not a string",
			payload: `{"command":42}`,
			wantErr: "invalid command envelope",
		},
		{
			name:    "interval not an integer",
			payload: `{"command":"startAutoSync","request_id":"r-3","interval_hours":"six"}`,
			want:    Request{Command: CommandStartAutoSync, RequestID: "r-3"},
			wantErr: "invalid command envelope",
		},
		{
			name:    "not an object",
			payload: `["getSyncStatus"]`,
			wantErr: "invalid command envelope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := d.Decode([]byte(tt.payload))
			if tt.wantErr != "" {
				require.ErrorIs(t, err, ErrInvalidEnvelope)
				assert.Contains(t, err.Error(), tt.wantErr)
				if tt.want.RequestID != "" {
					assert.Equal(t, tt.want.RequestID, got.RequestID)
					assert.Equal(t, tt.want.Command, got.Command)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResponseJSON(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	req := Request{Command: CommandManualSync, RequestID: "abc"}

	raw, err := json.Marshal(Failure(req, ErrorTypeSyncInProgress, "Sync already in progress", now))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"status": "error",
		"command": "manualSync",
		"request_id": "abc",
		"message": "Sync already in progress",
		"error_type": "SyncInProgress",
		"timestamp": "2024-05-01T09:00:00Z"
	}`, string(raw))

	raw, err = json.Marshal(Success(Request{Command: CommandStopAutoSync}, "Auto-sync stopped",
		NewAutoSyncData(status.AutoSyncPolicy{IntervalHours: 24}), now))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"status": "success",
		"command": "stopAutoSync",
		"message": "Auto-sync stopped",
		"data": {"auto_sync_enabled": false, "sync_interval_hours": 24},
		"timestamp": "2024-05-01T09:00:00Z"
	}`, string(raw))
}

func TestNewSyncStatusData(t *testing.T) {
	t.Parallel()

	checked := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	last := checked.Add(-time.Hour)
	data := NewSyncStatusData(
		status.AutoSyncPolicy{Enabled: true, IntervalHours: 6, LastSyncTime: &last, TotalSyncsPerformed: 4},
		map[string]health.DeviceHealth{
			"A": {DeviceID: "A", Status: health.StatusHealthy, LastCheckedAt: checked},
			"B": {DeviceID: "B", Status: health.StatusFailing, ConsecutiveFailures: 2, LastError: "timeout", LastCheckedAt: checked},
			"C": {DeviceID: "C", Status: health.StatusHealthy},
		},
		[]string{"B"},
		[]history.Record{{
			ID: "r2", Type: history.RunTypeScheduled, StartTime: last, EndTime: last.Add(time.Minute),
			DevicesAttempted: 2, DevicesSynced: 1, Outcome: history.OutcomePartialFailure,
		}},
		false,
	)

	assert.True(t, data.AutoSyncEnabled)
	assert.Equal(t, 6, data.SyncIntervalHours)
	assert.Equal(t, int64(4), data.TotalSyncsPerformed)
	assert.Equal(t, 1, data.FailedDevicesCount)
	assert.Equal(t, []string{"B"}, data.FailedDevices)
	assert.Equal(t, 2, data.DeviceHealthStatus["B"].ConsecutiveFailures)
	assert.Equal(t, "timeout", data.DeviceHealthStatus["B"].LastError)
	assert.Nil(t, data.DeviceHealthStatus["C"].LastCheck)
	require.Len(t, data.RecentSyncHistory, 1)
	assert.Equal(t, SyncResult{Status: history.OutcomePartialFailure, DevicesSynced: 1}, data.RecentSyncHistory[0].Result)
	assert.Equal(t, 2, data.RecentSyncHistory[0].DevicesCount)

	empty := NewSyncStatusData(status.AutoSyncPolicy{}, nil, nil, nil, false)
	raw, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"failed_devices":[]`)
	assert.Contains(t, string(raw), `"recent_sync_history":[]`)
	assert.Contains(t, string(raw), `"last_sync_time":null`)
}

func TestNewDiscoveryData(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	data := NewDiscoveryData(&discovery.Report{
		AccessibleDevices: []discovery.AccessibleDevice{
			{ID: "A", Name: "Lobby", Address: "10.0.0.1", RecordCount: 12, TemplateCount: 30, FirmwareVersion: "Ver 6.60"},
		},
		FailedDevices: []discovery.FailedDevice{
			{ID: "B", Name: "Dock", Address: "10.0.0.2", Error: "connection refused"},
		},
		Duration:  1500 * time.Millisecond,
		Timestamp: ts,
	})

	assert.InDelta(t, 1.5, data.DiscoveryDuration, 1e-9)
	require.Len(t, data.AccessibleDevices, 1)
	assert.Equal(t, "10.0.0.1", data.AccessibleDevices[0].IP)
	assert.Equal(t, 30, data.AccessibleDevices[0].TemplateCount)
	require.Len(t, data.FailedDevices, 1)
	assert.Equal(t, "connection refused", data.FailedDevices[0].Error)
}

func TestNewResetData(t *testing.T) {
	t.Parallel()

	in := []string{"c", "a"}
	data := NewResetData(in)
	assert.Equal(t, []string{"a", "c"}, data.ResetDevices)
	assert.Equal(t, 2, data.ResetCount)
	assert.Equal(t, []string{"c", "a"}, in)

	raw, err := json.Marshal(NewResetData(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"reset_devices":[],"reset_count":0}`, string(raw))
}

func TestNewRunData(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(NewRunData(history.Record{ID: "r1", Type: history.RunTypeManual, Outcome: history.OutcomeFailure}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"device_results":[]`)
	assert.Contains(t, string(raw), `"id":"r1"`)
	assert.Contains(t, string(raw), `"result":{"status":"failure","devices_synced":0}`)
}
