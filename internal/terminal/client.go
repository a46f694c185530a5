package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/facilityops/accesscontrol-sync/internal/device"
	"github.com/facilityops/accesscontrol-sync/internal/records"
)

const (
	// UserAgent is sent with every request
	UserAgent = "accesscontrol-sync/1.0"

	// PasswordHeader carries the terminal communication key
	PasswordHeader = "X-Device-Password"

	// maxResponseSize caps how much of a response body is read
	maxResponseSize = 32 * 1024 * 1024

	defaultMaxAttempts       = 3
	defaultInitialBackoff    = time.Second
	defaultMaxAttemptTimeout = 15 * time.Second
)

// HTTPDialer dials terminals over HTTP with exponential-backoff retries.
// Attempt n runs with a timeout of n times the device timeout, capped at the
// max attempt timeout.
type HTTPDialer struct {
	client            *http.Client
	scheme            string
	maxAttempts       int
	initialBackoff    time.Duration
	maxAttemptTimeout time.Duration
}

// DialerOption configures an HTTPDialer
type DialerOption func(*HTTPDialer)

// WithScheme sets http or https
func WithScheme(scheme string) DialerOption {
	return func(d *HTTPDialer) {
		if scheme != "" {
			d.scheme = scheme
		}
	}
}

// WithMaxAttempts sets how many connect attempts are made
func WithMaxAttempts(n int) DialerOption {
	return func(d *HTTPDialer) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithInitialBackoff sets the wait before the second attempt; it doubles after that
func WithInitialBackoff(b time.Duration) DialerOption {
	return func(d *HTTPDialer) {
		if b > 0 {
			d.initialBackoff = b
		}
	}
}

// WithMaxAttemptTimeout caps a single attempt
func WithMaxAttemptTimeout(t time.Duration) DialerOption {
	return func(d *HTTPDialer) {
		if t > 0 {
			d.maxAttemptTimeout = t
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) DialerOption {
	return func(d *HTTPDialer) {
		if c != nil {
			d.client = c
		}
	}
}

// NewHTTPDialer creates a dialer
func NewHTTPDialer(opts ...DialerOption) *HTTPDialer {
	d := &HTTPDialer{
		client:            &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		scheme:            "http",
		maxAttempts:       defaultMaxAttempts,
		initialBackoff:    defaultInitialBackoff,
		maxAttemptTimeout: defaultMaxAttemptTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial probes the terminal's info endpoint until it answers or attempts run out
func (d *HTTPDialer) Dial(ctx context.Context, dev device.Device) (Session, error) {
	s := &httpSession{
		client:   d.client,
		base:     &url.URL{Scheme: d.scheme, Host: dev.Endpoint()},
		password: dev.Password,
		timeout:  dev.ContactTimeout(0),
		deviceID: dev.ID,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 4 * d.initialBackoff

	var attempt atomic.Int32
	_, err := backoff.Retry(ctx, func() (Info, error) {
		n := int(attempt.Add(1))
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout(dev, n))
		defer cancel()

		var info Info
		err := s.send(attemptCtx, http.MethodGet, "/api/info", nil, &info)
		if err == nil {
			return info, nil
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Temporary() {
			return Info{}, backoff.Permanent(err)
		}
		return Info{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.maxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.DebugContext(ctx, "Terminal connect attempt failed, retrying",
				"device_id", dev.ID, "address", dev.Endpoint(), "retry_in", wait, "error", err)
		}),
	)
	if err != nil {
		return nil, &ContactError{
			DeviceID: dev.ID,
			Address:  dev.Endpoint(),
			Op:       "connect",
			Attempts: int(attempt.Load()),
			Err:      err,
		}
	}

	return s, nil
}

func (d *HTTPDialer) attemptTimeout(dev device.Device, attempt int) time.Duration {
	t := dev.ContactTimeout(0) * time.Duration(attempt)
	if t > d.maxAttemptTimeout {
		return d.maxAttemptTimeout
	}
	return t
}

type httpSession struct {
	client   *http.Client
	base     *url.URL
	password string
	timeout  time.Duration
	deviceID string
	closed   atomic.Bool
}

type usersPayload struct {
	Users []records.User `json:"users"`
}

// Info returns fresh terminal info
func (s *httpSession) Info(ctx context.Context) (Info, error) {
	if err := s.usable(); err != nil {
		return Info{}, err
	}
	info, err := s.fetchInfo(ctx)
	if err != nil {
		return Info{}, s.contactError("info", err)
	}
	return info, nil
}

func (s *httpSession) ListUsers(ctx context.Context) ([]records.User, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	var payload usersPayload
	if err := s.do(ctx, http.MethodGet, "/api/users", nil, &payload); err != nil {
		return nil, s.contactError("list users", err)
	}
	return payload.Users, nil
}

func (s *httpSession) PutUser(ctx context.Context, user records.User) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.do(ctx, http.MethodPut, "/api/users/"+strconv.Itoa(user.UID), user, nil); err != nil {
		return s.contactError(fmt.Sprintf("put user %d", user.UID), err)
	}
	return nil
}

func (s *httpSession) DeleteUser(ctx context.Context, uid int) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.do(ctx, http.MethodDelete, "/api/users/"+strconv.Itoa(uid), nil, nil); err != nil {
		return s.contactError(fmt.Sprintf("delete user %d", uid), err)
	}
	return nil
}

func (s *httpSession) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *httpSession) usable() error {
	if s.closed.Load() {
		return s.contactError("use", errors.New("session closed"))
	}
	return nil
}

func (s *httpSession) fetchInfo(ctx context.Context) (Info, error) {
	var info Info
	err := s.do(ctx, http.MethodGet, "/api/info", nil, &info)
	return info, err
}

func (s *httpSession) contactError(op string, err error) error {
	return &ContactError{DeviceID: s.deviceID, Address: s.base.Host, Op: op, Attempts: 1, Err: err}
}

// do sends one request bounded by the session timeout
func (s *httpSession) do(ctx context.Context, method, path string, body, out any) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.send(ctx, method, path, body, out)
}

// send performs the request and decodes a JSON answer into out
func (s *httpSession) send(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := s.base.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.password != "" {
		req.Header.Set(PasswordHeader, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, URL: target, Message: string(bytes.TrimSpace(data))}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", target, err)
	}
	return nil
}
