package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"k8s.io/utils/clock"

	"github.com/facilityops/accesscontrol-sync/internal/api"
	"github.com/facilityops/accesscontrol-sync/internal/config"
	"github.com/facilityops/accesscontrol-sync/internal/db"
	"github.com/facilityops/accesscontrol-sync/internal/device"
	"github.com/facilityops/accesscontrol-sync/internal/discovery"
	"github.com/facilityops/accesscontrol-sync/internal/gateway"
	"github.com/facilityops/accesscontrol-sync/internal/health"
	"github.com/facilityops/accesscontrol-sync/internal/history"
	"github.com/facilityops/accesscontrol-sync/internal/records"
	"github.com/facilityops/accesscontrol-sync/internal/status"
	pkgsync "github.com/facilityops/accesscontrol-sync/internal/sync"
	"github.com/facilityops/accesscontrol-sync/internal/sync/coordinator"
	"github.com/facilityops/accesscontrol-sync/internal/telemetry"
	"github.com/facilityops/accesscontrol-sync/internal/terminal"
	"github.com/facilityops/accesscontrol-sync/internal/transport"
	"github.com/facilityops/accesscontrol-sync/internal/transport/memory"
	"github.com/facilityops/accesscontrol-sync/internal/transport/mqtt"
	"github.com/facilityops/accesscontrol-sync/internal/transport/redis"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	tracerName = "github.com/facilityops/accesscontrol-sync"
)

// SyncAppOptions is a function that configures the sync app builder
type SyncAppOptions func(*syncAppConfig) error

// syncAppConfig collects everything needed to build a SyncApp.
// Overrides are for tests; production builds everything from config.
type syncAppConfig struct {
	config *config.Config

	transport transport.PubSub
	dialer    terminal.Dialer
	directory device.Directory
	records   records.Store
	clock     clock.WithTicker
	telemetry *telemetry.Telemetry

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...SyncAppOptions) (*syncAppConfig, error) {
	cfg := &syncAppConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
		clock:          clock.RealClock{},
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Ops.GetAddress()
	}
	return cfg, nil
}

// NewSyncApp builds the full component graph from configuration
func NewSyncApp(ctx context.Context, opts ...SyncAppOptions) (*SyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	c := &AppComponents{}
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			c.cleanup(ctx)
		}
	}()

	if err := buildTelemetry(ctx, cfg, c); err != nil {
		return nil, fmt.Errorf("failed to build telemetry: %w", err)
	}
	if err := buildStorage(ctx, cfg, c); err != nil {
		return nil, fmt.Errorf("failed to build storage: %w", err)
	}
	if err := buildSyncComponents(cfg, c); err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}
	if err := buildGateway(cfg, c); err != nil {
		return nil, fmt.Errorf("failed to build command gateway: %w", err)
	}

	httpServer := buildHTTPServer(cfg, c)

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	return &SyncApp{
		config:     cfg.config,
		components: c,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the ops HTTP server address
func WithAddress(addr string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		parts := strings.SplitN(addr, ":", 2)
		if len(parts) != 2 || parts[1] == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		host, port := parts[0], parts[1]
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithTransport injects the pub/sub transport instead of building one from config
func WithTransport(t transport.PubSub) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.transport = t
		return nil
	}
}

// WithDialer injects the terminal dialer
func WithDialer(d terminal.Dialer) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.dialer = d
		return nil
	}
}

// WithDirectory injects the device directory
func WithDirectory(d device.Directory) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.directory = d
		return nil
	}
}

// WithRecordsStore injects the central user store
func WithRecordsStore(s records.Store) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.records = s
		return nil
	}
}

// WithClock sets the clock driving the auto-sync ticker
func WithClock(c clock.WithTicker) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}

// WithTelemetry injects an already initialized telemetry setup.
// The app shuts it down on Stop.
func WithTelemetry(t *telemetry.Telemetry) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

func buildTelemetry(ctx context.Context, b *syncAppConfig, c *AppComponents) error {
	if b.telemetry != nil {
		c.Telemetry = b.telemetry
		return nil
	}
	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(b.config.Telemetry))
	if err != nil {
		return err
	}
	c.Telemetry = tel
	return nil
}

// buildStorage opens the database when needed and creates every store
func buildStorage(ctx context.Context, b *syncAppConfig, c *AppComponents) error {
	slog.Info("Initializing storage")

	var pool *pgxpool.Pool
	if b.config.Database != nil && needsDatabase(b) {
		var err error
		pool, err = db.NewPool(ctx, b.config.Database)
		if err != nil {
			return err
		}
		c.Database = pool
	}

	c.Directory = b.directory
	if c.Directory == nil {
		dir, err := device.NewDirectory(b.config, pool)
		if err != nil {
			return err
		}
		c.Directory = dir
	}

	c.Records = b.records
	if c.Records == nil {
		store, err := records.NewStore(b.config, pool)
		if err != nil {
			return err
		}
		c.Records = store
	}

	historyStore, err := history.NewStore(b.config, pool)
	if err != nil {
		return err
	}
	c.History, err = history.NewLog(ctx, b.config.History.GetSize(), historyStore)
	if err != nil {
		return err
	}

	initial := status.AutoSyncPolicy{}
	if a := b.config.Sync.AutoSync; a != nil {
		initial.Enabled = a.Enabled
		initial.IntervalHours = a.IntervalHours
	}
	c.Policy, err = status.NewPolicyTracker(ctx, policyPersistence(b.config, pool), initial)
	if err != nil {
		return err
	}

	slog.Info("Storage initialized",
		"directory", b.config.Directory.Type,
		"records", b.config.Records.Type,
		"history", b.config.History.GetStorage(),
		"database", pool != nil)
	return nil
}

// needsDatabase reports whether a store that is not overridden uses PostgreSQL
func needsDatabase(b *syncAppConfig) bool {
	cfg := b.config
	return (b.directory == nil && cfg.Directory.Type == config.StorageTypeDatabase) ||
		(b.records == nil && cfg.Records.Type == config.StorageTypeDatabase) ||
		cfg.History.GetStorage() == config.StorageTypeDatabase
}

// policyPersistence keeps the auto-sync policy next to the run history
func policyPersistence(cfg *config.Config, pool *pgxpool.Pool) status.PolicyPersistence {
	switch cfg.History.GetStorage() {
	case config.StorageTypeDatabase:
		if pool != nil {
			return status.NewDBPolicyPersistence(pool)
		}
		return nil
	case config.StorageTypeFile:
		return status.NewFilePolicyPersistence(cfg.GetDataDir())
	default:
		return nil
	}
}

func buildSyncComponents(b *syncAppConfig, c *AppComponents) error {
	slog.Info("Initializing sync components")
	cfg := b.config
	mp := c.Telemetry.MeterProvider()
	tracer := c.Telemetry.Tracer(tracerName)

	syncMetrics, err := telemetry.NewSyncMetrics(mp)
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}
	deviceMetrics, err := telemetry.NewDeviceMetrics(mp)
	if err != nil {
		return fmt.Errorf("failed to create device metrics: %w", err)
	}

	c.Health = health.NewRegistry(cfg.Sync.GetFailureThreshold(), health.WithClock(b.clock))

	dialer := b.dialer
	if dialer == nil {
		dialer = terminal.NewHTTPDialer(
			terminal.WithScheme(cfg.Terminal.GetScheme()),
			terminal.WithMaxAttempts(cfg.Terminal.GetMaxAttempts()),
			terminal.WithInitialBackoff(cfg.Terminal.GetInitialBackoff()),
			terminal.WithMaxAttemptTimeout(cfg.Terminal.GetMaxAttemptTimeout()),
		)
	}

	c.Discovery = discovery.New(c.Directory, dialer, c.Health,
		discovery.WithProbeTimeout(cfg.Sync.GetProbeTimeout()),
		discovery.WithConcurrency(cfg.Sync.GetConcurrency()),
		discovery.WithMinFirmware(cfg.Discovery.MinFirmwareVersion),
		discovery.WithMetrics(deviceMetrics),
		discovery.WithTracer(tracer),
		discovery.WithClock(b.clock),
	)

	c.Executor = pkgsync.NewExecutor(c.Records, dialer, c.Health, c.History, c.Policy,
		pkgsync.WithConcurrency(cfg.Sync.GetConcurrency()),
		pkgsync.WithDeviceTimeout(cfg.Sync.GetDeviceTimeout()),
		pkgsync.WithMetrics(syncMetrics, deviceMetrics),
		pkgsync.WithTracer(tracer),
		pkgsync.WithClock(b.clock),
	)

	c.Scheduler = coordinator.New(c.Directory, c.Executor, c.Policy,
		coordinator.WithClock(b.clock),
		coordinator.WithSyncMetrics(syncMetrics),
		coordinator.WithHistory(c.History),
	)

	slog.Info("Sync components initialized successfully",
		"failure_threshold", cfg.Sync.GetFailureThreshold(),
		"concurrency", cfg.Sync.GetConcurrency())
	return nil
}

func buildGateway(b *syncAppConfig, c *AppComponents) error {
	c.Transport = b.transport
	if c.Transport == nil {
		t, err := newTransport(&b.config.Transport)
		if err != nil {
			return err
		}
		c.Transport = t
	}

	commandMetrics, err := telemetry.NewCommandMetrics(c.Telemetry.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create command metrics: %w", err)
	}

	c.Gateway, err = gateway.New(c.Transport, c.Scheduler, c.Discovery, c.Health, c.History, c.Policy,
		gateway.WithTopics(b.config.Transport.GetTopics()),
		gateway.WithMetrics(commandMetrics),
		gateway.WithTracer(c.Telemetry.Tracer(tracerName)),
		gateway.WithClock(b.clock),
	)
	return err
}

// newTransport creates the configured pub/sub client
func newTransport(cfg *config.TransportConfig) (transport.PubSub, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "accesscontrol-sync-" + uuid.NewString()[:8]
	}

	switch cfg.Type {
	case config.TransportTypeMQTT:
		mqtt.InstallLogger()
		return mqtt.New(mqtt.Options{
			BrokerURL:      cfg.BrokerURL,
			ClientID:       clientID,
			Username:       cfg.Username,
			Password:       cfg.Password,
			QoS:            byte(cfg.QoS),
			ConnectTimeout: cfg.GetConnectTimeout(),
		}), nil
	case config.TransportTypeRedis:
		redis.InstallLogger()
		return redis.New(redis.Options{
			Address:        cfg.Address,
			Username:       cfg.Username,
			Password:       cfg.Password,
			DB:             cfg.RedisDB,
			ConnectTimeout: cfg.GetConnectTimeout(),
		}), nil
	case config.TransportTypeMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported transport type %q", cfg.Type)
	}
}

// buildHTTPServer builds the ops HTTP server
func buildHTTPServer(b *syncAppConfig, c *AppComponents) *http.Server {
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	serverOpts := []api.ServerOption{api.WithMiddlewares(b.middlewares...)}
	if h := c.Telemetry.MetricsHandler(); h != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(h))
	}
	router := api.NewServer(api.ReadinessFunc(c.checkReadiness), serverOpts...)

	slog.Info("HTTP server configured", "address", b.address)
	return &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}
}

func (c *AppComponents) checkReadiness(_ context.Context) error {
	if !c.Transport.IsConnected() {
		return transport.ErrNotConnected
	}
	return nil
}

// cleanup releases what NewSyncApp opened when a later step fails
func (c *AppComponents) cleanup(ctx context.Context) {
	if c.Database != nil {
		c.Database.Close()
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Shutdown(ctx); err != nil {
			slog.Warn("Failed to shut down telemetry", "error", err)
		}
	}
}
