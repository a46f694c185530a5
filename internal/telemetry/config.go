// Package telemetry provides OpenTelemetry instrumentation for the access-control sync engine.
// It supports configurable tracing over OTLP and metrics over OTLP or a Prometheus pull endpoint.
package telemetry

import (
	"errors"
	"fmt"
)

const (
	// DefaultServiceName is the default service name for telemetry
	DefaultServiceName = "accesscontrol-sync"

	// DefaultEndpoint is the default OTLP endpoint for telemetry
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the default trace sampling rate (5%)
	DefaultSampling = 0.05
)

const (
	// MetricsExporterOTLP pushes metrics to the OTLP endpoint
	MetricsExporterOTLP = "otlp"

	// MetricsExporterPrometheus exposes metrics for scraping on the ops server
	MetricsExporterPrometheus = "prometheus"
)

// Config represents the root telemetry configuration
type Config struct {
	// Enabled controls whether telemetry is enabled globally
	// When false, no telemetry providers are initialized
	Enabled bool `yaml:"enabled"`

	// ServiceName defaults to "accesscontrol-sync"
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion defaults to the application version
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector endpoint, "host:port" over HTTP
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure allows HTTP connections instead of HTTPS
	// Should only be true for development/testing environments
	Insecure bool `yaml:"insecure,omitempty"`

	// Tracing contains tracing-specific configuration
	Tracing *TracingConfig `yaml:"tracing,omitempty"`

	// Metrics contains metrics-specific configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig defines tracing-specific configuration
type TracingConfig struct {
	// Enabled controls whether tracing is enabled
	// When false, tracing is disabled even if telemetry is enabled globally
	Enabled bool `yaml:"enabled"`

	// Sampling controls the trace sampling rate (0.0 to 1.0)
	// 1.0 means sample all traces, 0.5 means sample 50%, etc.
	// Defaults to 1.0 if not specified
	Sampling float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig defines metrics-specific configuration
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	// When false, metrics are disabled even if telemetry is enabled globally
	Enabled bool `yaml:"enabled"`

	// Exporter is "otlp" (default) or "prometheus"
	Exporter string `yaml:"exporter,omitempty"`
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the OTLP endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetSampling returns the sampling ratio.
// 0 is read as unset because YAML cannot tell the two apart.
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == 0.0 {
		return DefaultSampling
	}
	return c.Sampling
}

// GetExporter returns the metrics exporter name
func (c *MetricsConfig) GetExporter() string {
	if c == nil || c.Exporter == "" {
		return MetricsExporterOTLP
	}
	return c.Exporter
}

// Validate validates the telemetry configuration
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error

	if c.Tracing != nil && c.Tracing.Enabled {
		if c.Tracing.Sampling < 0 || c.Tracing.Sampling > 1.0 {
			errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %f", c.Tracing.Sampling))
		}
	}

	if c.Metrics != nil && c.Metrics.Enabled {
		switch c.Metrics.GetExporter() {
		case MetricsExporterOTLP, MetricsExporterPrometheus:
		default:
			errs = append(errs, fmt.Errorf("metrics: exporter must be otlp or prometheus, got %q", c.Metrics.Exporter))
		}
	}

	return errors.Join(errs...)
}
