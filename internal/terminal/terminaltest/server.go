// Package terminaltest provides an in-process terminal bridge for tests.
package terminaltest

import (
	"encoding/json"
	"maps"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/facilityops/accesscontrol-sync/internal/device"
	"github.com/facilityops/accesscontrol-sync/internal/records"
	"github.com/facilityops/accesscontrol-sync/internal/terminal"
)

// Terminal is a fake terminal bridge backed by httptest.Server
type Terminal struct {
	*httptest.Server

	mu          sync.Mutex
	users       map[int]records.User
	info        terminal.Info
	password    string
	unavailable bool
	failNext    int
	delay       time.Duration
	requests    int
	writes      int
}

// Option configures a Terminal
type Option func(*Terminal)

// WithUsers seeds the terminal
func WithUsers(users ...records.User) Option {
	return func(t *Terminal) {
		for _, u := range users {
			t.users[u.UID] = u.Normalize()
		}
	}
}

// WithFirmware sets the reported firmware string
func WithFirmware(version string) Option {
	return func(t *Terminal) {
		t.info.FirmwareVersion = version
	}
}

// WithPassword requires the communication key on every request
func WithPassword(password string) Option {
	return func(t *Terminal) {
		t.password = password
	}
}

// New starts a fake terminal
func New(opts ...Option) *Terminal {
	t := &Terminal{
		users: make(map[int]records.User),
		info:  terminal.Info{FirmwareVersion: "Ver 6.60 Apr 28 2017", SerialNumber: "TEST0001"},
	}
	for _, opt := range opts {
		opt(t)
	}

	r := chi.NewRouter()
	r.Use(t.gate)
	r.Get("/api/info", t.handleInfo)
	r.Get("/api/users", t.handleListUsers)
	r.Put("/api/users/{uid}", t.handlePutUser)
	r.Delete("/api/users/{uid}", t.handleDeleteUser)

	t.Server = httptest.NewServer(r)
	return t
}

// Device returns a device entry pointing at this terminal
func (t *Terminal) Device(id string) device.Device {
	host, portStr, _ := net.SplitHostPort(t.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return device.Device{
		ID:       id,
		Name:     "Terminal " + id,
		Address:  host,
		Port:     port,
		Password: t.password,
		Timeout:  2 * time.Second,
		Enabled:  true,
	}
}

// SetUnavailable makes every request fail with 503
func (t *Terminal) SetUnavailable(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unavailable = v
}

// FailNext makes the next n requests fail with 503
func (t *Terminal) FailNext(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = n
}

// SetDelay holds every request for d before answering
func (t *Terminal) SetDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delay = d
}

// Users returns the stored users ordered by uid
func (t *Terminal) Users() []records.User {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]records.User, 0, len(t.users))
	for _, uid := range slices.Sorted(maps.Keys(t.users)) {
		out = append(out, t.users[uid])
	}
	return out
}

// Requests returns the number of requests received
func (t *Terminal) Requests() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests
}

// Writes returns the number of put and delete calls that were applied
func (t *Terminal) Writes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes
}

func (t *Terminal) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.mu.Lock()
		t.requests++
		delay := t.delay
		fail := t.unavailable || t.failNext > 0
		if t.failNext > 0 {
			t.failNext--
		}
		password := t.password
		t.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if fail {
			http.Error(w, "terminal busy", http.StatusServiceUnavailable)
			return
		}
		if password != "" && r.Header.Get(terminal.PasswordHeader) != password {
			http.Error(w, "bad communication key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Terminal) handleInfo(w http.ResponseWriter, _ *http.Request) {
	t.mu.Lock()
	info := t.info
	info.UserCount = len(t.users)
	for _, u := range t.users {
		info.TemplateCount += len(u.Templates)
	}
	t.mu.Unlock()
	writeJSON(w, info)
}

func (t *Terminal) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"users": t.Users()})
}

func (t *Terminal) handlePutUser(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.Atoi(chi.URLParam(r, "uid"))
	if err != nil {
		http.Error(w, "bad uid", http.StatusBadRequest)
		return
	}
	var u records.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil || u.UID != uid {
		http.Error(w, "bad user", http.StatusBadRequest)
		return
	}
	t.mu.Lock()
	t.users[uid] = u.Normalize()
	t.writes++
	t.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (t *Terminal) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.Atoi(chi.URLParam(r, "uid"))
	if err != nil {
		http.Error(w, "bad uid", http.StatusBadRequest)
		return
	}
	t.mu.Lock()
	delete(t.users, uid)
	t.writes++
	t.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
