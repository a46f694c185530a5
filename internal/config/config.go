// Package config provides configuration loading and management for the access-control sync engine.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/facilityops/accesscontrol-sync/internal/telemetry"
)

// EnvPrefix is the prefix for environment variables that override file configuration
const EnvPrefix = "ACSYNC"

const (
	// TransportTypeMQTT selects the MQTT broker transport
	TransportTypeMQTT = "mqtt"
	// TransportTypeRedis selects Redis pub/sub as transport
	TransportTypeRedis = "redis"
	// TransportTypeMemory selects the in-process bus (tests, local runs)
	TransportTypeMemory = "memory"
)

const (
	// StorageTypeStatic keeps the data inline in the configuration file
	StorageTypeStatic = "static"
	// StorageTypeFile keeps the data in a local file
	StorageTypeFile = "file"
	// StorageTypeDatabase keeps the data in PostgreSQL
	StorageTypeDatabase = "database"
	// StorageTypeMemory keeps the data in process memory only
	StorageTypeMemory = "memory"
)

// Default topic names used by the dashboard
const (
	DefaultCommandTopic  = "accessControl/user/command"
	DefaultResponseTopic = "accessControl/user/response"
	DefaultStatusTopic   = "accessControl/system/status"
)

const (
	defaultFailureThreshold  = 3
	defaultProbeTimeout      = 5 * time.Second
	defaultDeviceSyncTimeout = 2 * time.Minute
	defaultConcurrency       = 8
	defaultHistorySize       = 50
	defaultDevicePort        = 4370
	defaultDeviceTimeout     = 5
	defaultTerminalAttempts  = 3
	defaultInitialBackoff    = time.Second
	defaultMaxAttemptTimeout = 15 * time.Second
	defaultConnectTimeout    = 10 * time.Second
	defaultOpsAddress        = ":8080"
	defaultDataDir           = "./data"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path      string
	envLookup *viper.Viper
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks before the locality check; EvalSymlinks also cleans the path.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// WithEnv uses the given viper instance to resolve environment overrides.
// Tests use it to inject values without touching the process environment.
func WithEnv(v *viper.Viper) Option {
	return func(cfg *loaderConfig) error {
		cfg.envLookup = v
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// DataDir is where file-backed stores keep their data
	DataDir string `yaml:"dataDir,omitempty"`

	Transport TransportConfig `yaml:"transport"`
	Directory DirectoryConfig `yaml:"directory"`
	Records   RecordsConfig   `yaml:"records"`
	Sync      SyncConfig      `yaml:"sync"`
	Discovery DiscoveryConfig `yaml:"discovery,omitempty"`
	History   HistoryConfig   `yaml:"history,omitempty"`
	Terminal  TerminalConfig  `yaml:"terminal,omitempty"`
	Ops       OpsConfig       `yaml:"ops,omitempty"`

	// Database is required when any store uses the database type
	Database *DatabaseConfig `yaml:"database,omitempty"`

	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// TransportConfig defines the pub/sub connection used by the command gateway
type TransportConfig struct {
	// Type is one of mqtt, redis or memory
	Type string `yaml:"type"`

	// BrokerURL is the MQTT broker URL (tcp://host:1883, ssl://host:8883)
	BrokerURL string `yaml:"brokerUrl,omitempty"`

	// Address is the Redis host:port
	Address string `yaml:"address,omitempty"`

	// RedisDB selects the Redis logical database
	RedisDB int `yaml:"redisDb,omitempty"`

	ClientID string `yaml:"clientId,omitempty"`
	Username string `yaml:"username,omitempty"`

	// Password is normally supplied through ACSYNC_TRANSPORT_PASSWORD
	Password string `yaml:"password,omitempty"`

	// QoS is the MQTT quality of service for publish and subscribe (0, 1 or 2)
	QoS int `yaml:"qos,omitempty"`

	// ConnectTimeout bounds the initial connection (e.g. "10s")
	ConnectTimeout string `yaml:"connectTimeout,omitempty"`

	Topics TopicsConfig `yaml:"topics,omitempty"`
}

// TopicsConfig overrides the default topic names
type TopicsConfig struct {
	Command  string `yaml:"command,omitempty"`
	Response string `yaml:"response,omitempty"`
	Status   string `yaml:"status,omitempty"`
}

// DirectoryConfig defines where the device directory comes from
type DirectoryConfig struct {
	// Type is one of static, file or database
	Type string `yaml:"type"`

	// Path points at a JSON device file when Type is file
	Path string `yaml:"path,omitempty"`

	// Devices lists terminals inline when Type is static
	Devices []DeviceConfig `yaml:"devices,omitempty"`
}

// DeviceConfig describes one access terminal
type DeviceConfig struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	IP       string `yaml:"ip" json:"ip"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	// Timeout is the per-contact timeout in seconds
	Timeout int   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// RecordsConfig defines the central user/record store
type RecordsConfig struct {
	// Type is one of file, database or memory
	Type string `yaml:"type"`
	Path string `yaml:"path,omitempty"`
}

// SyncConfig tunes the executor and scheduler
type SyncConfig struct {
	FailureThreshold int `yaml:"failureThreshold,omitempty"`

	// ProbeTimeout is the default per-device timeout for discovery probes (e.g. "5s")
	ProbeTimeout string `yaml:"probeTimeout,omitempty"`

	// DeviceTimeout bounds reconciling a single device during a sync run (e.g. "2m")
	DeviceTimeout string `yaml:"deviceTimeout,omitempty"`

	// Concurrency caps simultaneous in-flight device operations
	Concurrency int `yaml:"concurrency,omitempty"`

	// AutoSync is the policy applied when nothing has been persisted yet
	AutoSync *AutoSyncConfig `yaml:"autoSync,omitempty"`
}

// AutoSyncConfig is the initial auto-sync policy
type AutoSyncConfig struct {
	Enabled       bool `yaml:"enabled"`
	IntervalHours int  `yaml:"intervalHours,omitempty"`
}

// DiscoveryConfig tunes the discovery engine
type DiscoveryConfig struct {
	// MinFirmwareVersion flags terminals running older firmware
	MinFirmwareVersion string `yaml:"minFirmwareVersion,omitempty"`
}

// HistoryConfig defines the run history log
type HistoryConfig struct {
	Size int `yaml:"size,omitempty"`

	// Storage is one of file, database or memory
	Storage string `yaml:"storage,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// TerminalConfig tunes how terminals are contacted
type TerminalConfig struct {
	// Scheme is http or https
	Scheme string `yaml:"scheme,omitempty"`

	MaxAttempts       int    `yaml:"maxAttempts,omitempty"`
	InitialBackoff    string `yaml:"initialBackoff,omitempty"`
	MaxAttemptTimeout string `yaml:"maxAttemptTimeout,omitempty"`
}

// OpsConfig defines the operational HTTP endpoint (health, metrics)
type OpsConfig struct {
	Address string `yaml:"address,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections in the pool
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`

	password string
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. ACSYNC_DATABASE_PASSWORD environment variable (resolved at load time)
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(d.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if d.password != "" {
		return d.password, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s_DATABASE_PASSWORD environment variable",
		EnvPrefix,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	env := loaderCfg.envLookup
	if env == nil {
		env = NewEnv()
	}
	config.applyEnv(env)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// NewEnv returns a viper instance bound to ACSYNC_* environment variables
func NewEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnv overlays secrets and addresses that are usually injected by the runtime
func (c *Config) applyEnv(v *viper.Viper) {
	overlay := func(key string, dst *string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}

	overlay("transport.broker_url", &c.Transport.BrokerURL)
	overlay("transport.address", &c.Transport.Address)
	overlay("transport.username", &c.Transport.Username)
	overlay("transport.password", &c.Transport.Password)
	overlay("ops.address", &c.Ops.Address)

	if c.Database != nil {
		overlay("database.password", &c.Database.password)
		overlay("database.host", &c.Database.Host)
	}
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	switch c.Transport.Type {
	case TransportTypeMQTT:
		if c.Transport.BrokerURL == "" {
			errs = append(errs, fmt.Errorf("transport.brokerUrl is required for mqtt transport"))
		}
		if c.Transport.QoS < 0 || c.Transport.QoS > 2 {
			errs = append(errs, fmt.Errorf("transport.qos must be 0, 1 or 2, got %d", c.Transport.QoS))
		}
	case TransportTypeRedis:
		if c.Transport.Address == "" {
			errs = append(errs, fmt.Errorf("transport.address is required for redis transport"))
		}
	case TransportTypeMemory:
	default:
		errs = append(errs, fmt.Errorf("transport.type must be one of mqtt, redis, memory, got %q", c.Transport.Type))
	}
	if c.Transport.ConnectTimeout != "" {
		if _, err := time.ParseDuration(c.Transport.ConnectTimeout); err != nil {
			errs = append(errs, fmt.Errorf("transport.connectTimeout: %w", err))
		}
	}

	errs = append(errs, c.validateDirectory()...)

	switch c.Records.Type {
	case StorageTypeFile:
		if c.Records.Path == "" {
			errs = append(errs, fmt.Errorf("records.path is required for file records"))
		}
	case StorageTypeDatabase, StorageTypeMemory:
	default:
		errs = append(errs, fmt.Errorf("records.type must be one of file, database, memory, got %q", c.Records.Type))
	}

	switch c.History.Storage {
	case "", StorageTypeFile, StorageTypeDatabase, StorageTypeMemory:
	default:
		errs = append(errs, fmt.Errorf("history.storage must be one of file, database, memory, got %q", c.History.Storage))
	}
	if c.History.Size < 0 {
		errs = append(errs, fmt.Errorf("history.size must not be negative"))
	}

	errs = append(errs, c.validateSync()...)
	errs = append(errs, c.validateTerminal()...)

	if c.usesDatabase() && c.Database == nil {
		errs = append(errs, fmt.Errorf("database section is required when a store uses the database type"))
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

func (c *Config) validateDirectory() []error {
	var errs []error
	switch c.Directory.Type {
	case StorageTypeStatic:
		seen := make(map[string]bool, len(c.Directory.Devices))
		for i, d := range c.Directory.Devices {
			if d.ID == "" {
				errs = append(errs, fmt.Errorf("directory.devices[%d]: id is required", i))
				continue
			}
			if seen[d.ID] {
				errs = append(errs, fmt.Errorf("directory.devices[%d]: duplicate device id '%s'", i, d.ID))
			}
			seen[d.ID] = true
			if d.IP == "" {
				errs = append(errs, fmt.Errorf("directory.devices[%d] (%s): ip is required", i, d.ID))
			}
			if d.Port < 0 || d.Port > 65535 {
				errs = append(errs, fmt.Errorf("directory.devices[%d] (%s): invalid port %d", i, d.ID, d.Port))
			}
		}
	case StorageTypeFile:
		if c.Directory.Path == "" {
			errs = append(errs, fmt.Errorf("directory.path is required for file directory"))
		}
	case StorageTypeDatabase:
	default:
		errs = append(errs, fmt.Errorf("directory.type must be one of static, file, database, got %q", c.Directory.Type))
	}
	return errs
}

func (c *Config) validateSync() []error {
	var errs []error
	if c.Sync.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("sync.failureThreshold must not be negative"))
	}
	if c.Sync.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("sync.concurrency must not be negative"))
	}
	if c.Sync.ProbeTimeout != "" {
		if d, err := time.ParseDuration(c.Sync.ProbeTimeout); err != nil {
			errs = append(errs, fmt.Errorf("sync.probeTimeout: %w", err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("sync.probeTimeout must be positive"))
		}
	}
	if c.Sync.DeviceTimeout != "" {
		if _, err := time.ParseDuration(c.Sync.DeviceTimeout); err != nil {
			errs = append(errs, fmt.Errorf("sync.deviceTimeout: %w", err))
		}
	}
	if a := c.Sync.AutoSync; a != nil && a.Enabled && (a.IntervalHours < 1 || a.IntervalHours > 24) {
		errs = append(errs, fmt.Errorf("sync.autoSync.intervalHours must be between 1 and 24, got %d", a.IntervalHours))
	}
	return errs
}

func (c *Config) validateTerminal() []error {
	var errs []error
	switch c.Terminal.Scheme {
	case "", "http", "https":
	default:
		errs = append(errs, fmt.Errorf("terminal.scheme must be http or https, got %q", c.Terminal.Scheme))
	}
	for name, value := range map[string]string{
		"initialBackoff":    c.Terminal.InitialBackoff,
		"maxAttemptTimeout": c.Terminal.MaxAttemptTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("terminal.%s: %w", name, err))
		}
	}
	return errs
}

func (c *Config) usesDatabase() bool {
	return c.Directory.Type == StorageTypeDatabase ||
		c.Records.Type == StorageTypeDatabase ||
		c.History.Storage == StorageTypeDatabase
}

// GetDataDir returns the data directory, defaulting to ./data
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return defaultDataDir
	}
	return c.DataDir
}

// GetFailureThreshold returns the consecutive failure count at which a device becomes unreachable
func (c *SyncConfig) GetFailureThreshold() int {
	if c.FailureThreshold == 0 {
		return defaultFailureThreshold
	}
	return c.FailureThreshold
}

// GetProbeTimeout returns the per-device timeout
func (c *SyncConfig) GetProbeTimeout() time.Duration {
	d, err := time.ParseDuration(c.ProbeTimeout)
	if err != nil || d <= 0 {
		return defaultProbeTimeout
	}
	return d
}

// GetDeviceTimeout returns the time allowed for reconciling one device
func (c *SyncConfig) GetDeviceTimeout() time.Duration {
	return parseDurationOr(c.DeviceTimeout, defaultDeviceSyncTimeout)
}

// GetConcurrency returns the cap on simultaneous device operations
func (c *SyncConfig) GetConcurrency() int {
	if c.Concurrency == 0 {
		return defaultConcurrency
	}
	return c.Concurrency
}

// GetSize returns the number of runs kept in the history ring
func (c *HistoryConfig) GetSize() int {
	if c.Size == 0 {
		return defaultHistorySize
	}
	return c.Size
}

// GetStorage returns the history storage type, defaulting to memory
func (c *HistoryConfig) GetStorage() string {
	if c.Storage == "" {
		return StorageTypeMemory
	}
	return c.Storage
}

// GetMaxAttempts returns how many times a terminal connect is tried
func (c *TerminalConfig) GetMaxAttempts() int {
	if c.MaxAttempts <= 0 {
		return defaultTerminalAttempts
	}
	return c.MaxAttempts
}

// GetInitialBackoff returns the wait before the second connect attempt
func (c *TerminalConfig) GetInitialBackoff() time.Duration {
	return parseDurationOr(c.InitialBackoff, defaultInitialBackoff)
}

// GetMaxAttemptTimeout returns the cap on a single connect attempt
func (c *TerminalConfig) GetMaxAttemptTimeout() time.Duration {
	return parseDurationOr(c.MaxAttemptTimeout, defaultMaxAttemptTimeout)
}

// GetScheme returns the URL scheme used to reach terminals
func (c *TerminalConfig) GetScheme() string {
	if c.Scheme == "" {
		return "http"
	}
	return c.Scheme
}

// GetConnectTimeout returns the transport connect timeout
func (c *TransportConfig) GetConnectTimeout() time.Duration {
	return parseDurationOr(c.ConnectTimeout, defaultConnectTimeout)
}

// GetTopics returns the topic names with defaults filled in
func (c *TransportConfig) GetTopics() TopicsConfig {
	t := c.Topics
	if t.Command == "" {
		t.Command = DefaultCommandTopic
	}
	if t.Response == "" {
		t.Response = DefaultResponseTopic
	}
	if t.Status == "" {
		t.Status = DefaultStatusTopic
	}
	return t
}

// GetAddress returns the ops HTTP listen address
func (c *OpsConfig) GetAddress() string {
	if c.Address == "" {
		return defaultOpsAddress
	}
	return c.Address
}

// GetPort returns the terminal port, defaulting to 4370
func (d *DeviceConfig) GetPort() int {
	if d.Port == 0 {
		return defaultDevicePort
	}
	return d.Port
}

// GetTimeout returns the per-contact timeout for this device
func (d *DeviceConfig) GetTimeout() time.Duration {
	if d.Timeout <= 0 {
		return defaultDeviceTimeout * time.Second
	}
	return time.Duration(d.Timeout) * time.Second
}

// IsEnabled reports whether the device takes part in discovery and sync
func (d *DeviceConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
