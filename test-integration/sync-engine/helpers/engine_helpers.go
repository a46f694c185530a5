// Package helpers drives a sync engine instance from integration tests.
package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/onsi/gomega"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/facilityops/accesscontrol-sync/internal/app"
	"github.com/facilityops/accesscontrol-sync/internal/config"
	"github.com/facilityops/accesscontrol-sync/internal/records"
	"github.com/facilityops/accesscontrol-sync/internal/terminal/terminaltest"
	"github.com/facilityops/accesscontrol-sync/internal/transport"
	"github.com/facilityops/accesscontrol-sync/internal/transport/memory"
)

// Response is a command response as seen by the dashboard
type Response struct {
	Status    string          `json:"status"`
	Command   string          `json:"command"`
	RequestID string          `json:"request_id"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// Event is an unsolicited status-topic message
type Event struct {
	EventType string          `json:"event_type"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

// EngineTestHelper manages one engine instance and the dashboard side of the bus
type EngineTestHelper struct {
	ctx        context.Context
	configPath string
	bus        *memory.Bus
	clock      *testingclock.FakeClock
	app        *app.SyncApp
	responses  chan Response
	events     chan Event
}

// NewEngineTestHelper creates a helper for the configuration at configPath
func NewEngineTestHelper(ctx context.Context, configPath string) *EngineTestHelper {
	return &EngineTestHelper{
		ctx:        ctx,
		configPath: configPath,
		bus:        memory.New(),
		clock:      testingclock.NewFakeClock(time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)),
		responses:  make(chan Response, 32),
		events:     make(chan Event, 8),
	}
}

// Start loads the configuration, builds the app and starts it without the HTTP listener
func (h *EngineTestHelper) Start() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(h.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	h.app, err = app.NewSyncApp(h.ctx,
		app.WithConfig(cfg),
		app.WithTransport(h.bus),
		app.WithClock(h.clock),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}

	topics := cfg.Transport.GetTopics()
	if err := h.bus.Subscribe(h.ctx, topics.Response, func(_ context.Context, msg transport.Message) {
		var r Response
		if json.Unmarshal(msg.Payload, &r) == nil {
			h.responses <- r
		}
	}); err != nil {
		return err
	}
	if err := h.bus.Subscribe(h.ctx, topics.Status, func(_ context.Context, msg transport.Message) {
		var e Event
		if json.Unmarshal(msg.Payload, &e) == nil {
			h.events <- e
		}
	}); err != nil {
		return err
	}

	return h.app.StartBackground()
}

// Stop stops the engine
func (h *EngineTestHelper) Stop() error {
	if h.app == nil {
		return nil
	}
	return h.app.Stop(5 * time.Second)
}

// App returns the running app
func (h *EngineTestHelper) App() *app.SyncApp {
	return h.app
}

// Clock returns the fake clock driving the scheduler
func (h *EngineTestHelper) Clock() *testingclock.FakeClock {
	return h.clock
}

// Send publishes a command and waits for the response carrying its request id
func (h *EngineTestHelper) Send(command string, fields map[string]any) Response {
	requestID := uuid.NewString()
	payload := map[string]any{"command": command, "request_id": requestID}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return h.SendRaw(data, requestID)
}

// SendRaw publishes payload as-is and waits for the response with requestID
func (h *EngineTestHelper) SendRaw(payload []byte, requestID string) Response {
	gomega.Expect(h.bus.Publish(h.ctx, config.DefaultCommandTopic, payload)).To(gomega.Succeed())

	deadline := time.After(10 * time.Second)
	for {
		select {
		case r := <-h.responses:
			if r.RequestID == requestID {
				return r
			}
		case <-deadline:
			gomega.Expect(fmt.Errorf("no response for request %q", requestID)).NotTo(gomega.HaveOccurred())
			return Response{}
		}
	}
}

// Events returns the status-topic events channel
func (h *EngineTestHelper) Events() <-chan Event {
	return h.events
}

// OpsGet performs a GET against the ops router without opening a listener
func (h *EngineTestHelper) OpsGet(path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.app.GetHTTPServer().Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

// WriteUsersFile writes the central user export
func WriteUsersFile(dir string, users ...records.User) string {
	path := filepath.Join(dir, "users.json")
	data, err := json.MarshalIndent(map[string]any{"users": users}, "", "  ")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gomega.Expect(os.WriteFile(path, data, 0o600)).To(gomega.Succeed())
	return path
}

// WriteDevicesFile writes a device directory file with comments, the way operators keep it
func WriteDevicesFile(dir string, terminals map[string]*terminaltest.Terminal, order ...string) string {
	var b strings.Builder
	b.WriteString("{\n  // managed by facilities\n  \"devices\": [\n")
	for _, id := range order {
		d := terminals[id].Device(id)
		fmt.Fprintf(&b, "    {\"id\": %q, \"name\": %q, \"ip\": %q, \"port\": %d, \"timeout\": 2},\n", id, d.Name, d.Address, d.Port)
	}
	b.WriteString("  ],\n}\n")

	path := filepath.Join(dir, "devices.json")
	gomega.Expect(os.WriteFile(path, []byte(b.String()), 0o600)).To(gomega.Succeed())
	return path
}

// WriteConfigYAML writes an engine configuration using the memory transport
func WriteConfigYAML(dir, devicesPath, usersPath string) string {
	content := fmt.Sprintf(`dataDir: %s
transport:
  type: memory
directory:
  type: file
  path: %s
records:
  type: file
  path: %s
history:
  storage: file
  size: 20
sync:
  failureThreshold: 2
  deviceTimeout: 3s
  probeTimeout: 2s
terminal:
  maxAttempts: 1
`, filepath.Join(dir, "data"), devicesPath, usersPath)

	path := filepath.Join(dir, "config.yaml")
	gomega.Expect(os.WriteFile(path, []byte(content), 0o600)).To(gomega.Succeed())
	return path
}
