package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilityops/accesscontrol-sync/internal/config"
	"github.com/facilityops/accesscontrol-sync/internal/device"
	"github.com/facilityops/accesscontrol-sync/internal/records"
	"github.com/facilityops/accesscontrol-sync/internal/terminal/terminaltest"
	"github.com/facilityops/accesscontrol-sync/internal/transport"
	"github.com/facilityops/accesscontrol-sync/internal/transport/memory"
)

// createTestAppConfig creates a minimal valid in-memory configuration
func createTestAppConfig() *config.Config {
	return &config.Config{
		Transport: config.TransportConfig{Type: config.TransportTypeMemory},
		Directory: config.DirectoryConfig{Type: config.StorageTypeStatic},
		Records:   config.RecordsConfig{Type: config.StorageTypeMemory},
		History:   config.HistoryConfig{Storage: config.StorageTypeMemory},
	}
}

type testApp struct {
	app       *SyncApp
	bus       *memory.Bus
	responses chan map[string]any
	terminal  *terminaltest.Terminal
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	term := terminaltest.New(terminaltest.WithUsers(records.User{UID: 9, Name: "Stale"}))
	t.Cleanup(term.Close)

	bus := memory.New()
	app, err := NewSyncApp(context.Background(),
		WithConfig(createTestAppConfig()),
		WithAddress("127.0.0.1:0"),
		WithTransport(bus),
		WithDirectory(device.NewStaticDirectory([]device.Device{term.Device("door-1")})),
		WithRecordsStore(records.NewMemoryStore(records.User{UID: 1, Name: "Ana"})),
	)
	require.NoError(t, err)

	ta := &testApp{app: app, bus: bus, responses: make(chan map[string]any, 8), terminal: term}
	require.NoError(t, bus.Subscribe(context.Background(), config.DefaultResponseTopic,
		func(_ context.Context, msg transport.Message) {
			var resp map[string]any
			if json.Unmarshal(msg.Payload, &resp) == nil {
				ta.responses <- resp
			}
		}))
	return ta
}

func (ta *testApp) send(t *testing.T, payload string) map[string]any {
	t.Helper()
	require.NoError(t, ta.bus.Publish(context.Background(), config.DefaultCommandTopic, []byte(payload)))
	select {
	case resp := <-ta.responses:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatalf("no response to %s", payload)
		return nil
	}
}

func TestSyncApp_StartBackgroundAndStop(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	require.NoError(t, ta.app.StartBackground())

	resp := ta.send(t, `{"command":"manualSync","request_id":"r1"}`)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "r1", resp["request_id"])

	users := ta.terminal.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "Ana", users[0].Name)
	assert.Equal(t, 1, ta.app.Components().History.Len())

	resp = ta.send(t, `{"command":"getSyncStatus"}`)
	assert.Equal(t, "success", resp["status"])

	require.NoError(t, ta.app.Stop(5*time.Second))
	assert.False(t, ta.bus.IsConnected())
}

func TestSyncApp_Readiness(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)
	handler := ta.app.GetHTTPServer().Handler

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	require.NoError(t, ta.app.StartBackground())
	t.Cleanup(func() { _ = ta.app.Stop(time.Second) })

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSyncApp_StartServesHTTP(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t)

	errChan := make(chan error, 1)
	go func() {
		errChan <- ta.app.Start()
	}()

	require.Eventually(t, ta.bus.IsConnected, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, ta.app.Stop(5*time.Second))

	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}
