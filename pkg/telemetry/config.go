// ABOUTME: Configuration structures for telemetry setup including exporters, sampling, and validation
// ABOUTME: Supports environment variable overrides and provides sensible defaults for all telemetry options

package telemetry

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for telemetry providers and exporters.
type Config struct {
	// ServiceName identifies the service in telemetry data
	ServiceName string `json:"service_name" yaml:"service_name"`

	// ServiceVersion identifies the service version in telemetry data
	ServiceVersion string `json:"service_version" yaml:"service_version"`

	// Enabled controls whether telemetry is active
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Exporters specifies which exporters to use (otlp, stdout, prometheus)
	Exporters []string `json:"exporters" yaml:"exporters"`

	// SampleRate controls trace sampling (0.0 to 1.0)
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`

	// OTLPEndpoint specifies the OTLP collector endpoint (host:port)
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`

	// PrometheusAddr is the address serving /metrics when the prometheus exporter is enabled
	PrometheusAddr string `json:"prometheus_addr" yaml:"prometheus_addr"`

	// MetricInterval controls how often metrics are pushed to the exporters
	MetricInterval time.Duration `json:"metric_interval" yaml:"metric_interval"`

	// ExportTimeout controls how long to wait for exports
	ExportTimeout time.Duration `json:"export_timeout" yaml:"export_timeout"`

	// BatchTimeout controls how long to wait before exporting a batch
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`

	// MaxQueueSize controls the maximum queue size for pending exports
	MaxQueueSize int `json:"max_queue_size" yaml:"max_queue_size"`

	// MaxExportBatchSize controls the maximum batch size for exports
	MaxExportBatchSize int `json:"max_export_batch_size" yaml:"max_export_batch_size"`

	// Output receives stdout exporter data. Defaults to os.Stdout.
	Output io.Writer `json:"-" yaml:"-"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:        "chainlog",
		ServiceVersion:     "development",
		Enabled:            true,
		Exporters:          []string{"stdout"},
		SampleRate:         1.0,
		OTLPEndpoint:       "localhost:4317",
		PrometheusAddr:     "localhost:9464",
		MetricInterval:     60 * time.Second,
		ExportTimeout:      30 * time.Second,
		BatchTimeout:       5 * time.Second,
		MaxQueueSize:       2048,
		MaxExportBatchSize: 512,
	}
}

// LoadFromEnv loads configuration from environment variables, overriding defaults.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv("CHAINLOG_TELEMETRY_SERVICE_NAME"); val != "" {
		c.ServiceName = val
	}

	if val := os.Getenv("CHAINLOG_TELEMETRY_SERVICE_VERSION"); val != "" {
		c.ServiceVersion = val
	}

	if val := os.Getenv("CHAINLOG_TELEMETRY_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Enabled = enabled
		}
	}

	if val := os.Getenv("CHAINLOG_TELEMETRY_EXPORTERS"); val != "" {
		c.Exporters = strings.Split(val, ",")
		for i := range c.Exporters {
			c.Exporters[i] = strings.TrimSpace(c.Exporters[i])
		}
	}

	if val := os.Getenv("CHAINLOG_TELEMETRY_SAMPLE_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.SampleRate = rate
		}
	}

	if val := os.Getenv("CHAINLOG_TELEMETRY_OTLP_ENDPOINT"); val != "" {
		c.OTLPEndpoint = val
	}

	if val := os.Getenv("CHAINLOG_TELEMETRY_PROMETHEUS_ADDR"); val != "" {
		c.PrometheusAddr = val
	}

	if val := os.Getenv("CHAINLOG_TELEMETRY_METRIC_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			c.MetricInterval = interval
		}
	}

	if val := os.Getenv("CHAINLOG_TELEMETRY_EXPORT_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			c.ExportTimeout = timeout
		}
	}

	if val := os.Getenv("CHAINLOG_TELEMETRY_BATCH_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			c.BatchTimeout = timeout
		}
	}

	if val := os.Getenv("CHAINLOG_TELEMETRY_MAX_QUEUE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.MaxQueueSize = size
		}
	}

	if val := os.Getenv("CHAINLOG_TELEMETRY_MAX_EXPORT_BATCH_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.MaxExportBatchSize = size
		}
	}
}

// Validate checks the configuration for invalid values and returns an error if found.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name cannot be empty")
	}

	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version cannot be empty")
	}

	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0, got %f", c.SampleRate)
	}

	if c.MetricInterval <= 0 {
		return fmt.Errorf("metric_interval must be positive, got %s", c.MetricInterval)
	}

	if c.ExportTimeout <= 0 {
		return fmt.Errorf("export_timeout must be positive, got %s", c.ExportTimeout)
	}

	if c.BatchTimeout <= 0 {
		return fmt.Errorf("batch_timeout must be positive, got %s", c.BatchTimeout)
	}

	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be positive, got %d", c.MaxQueueSize)
	}

	if c.MaxExportBatchSize <= 0 {
		return fmt.Errorf("max_export_batch_size must be positive, got %d", c.MaxExportBatchSize)
	}

	if c.MaxExportBatchSize > c.MaxQueueSize {
		return fmt.Errorf("max_export_batch_size (%d) cannot exceed max_queue_size (%d)", c.MaxExportBatchSize, c.MaxQueueSize)
	}

	validExporters := map[string]bool{
		"otlp":       true,
		"stdout":     true,
		"prometheus": true,
	}

	for _, exporter := range c.Exporters {
		if !validExporters[exporter] {
			return fmt.Errorf("invalid exporter: %s, valid options are: otlp, stdout, prometheus", exporter)
		}
	}

	if c.HasExporter("otlp") && c.OTLPEndpoint == "" {
		return fmt.Errorf("otlp_endpoint cannot be empty when the otlp exporter is enabled")
	}

	if c.HasExporter("prometheus") && c.PrometheusAddr == "" {
		return fmt.Errorf("prometheus_addr cannot be empty when the prometheus exporter is enabled")
	}

	return nil
}

// HasExporter returns true if the specified exporter is configured.
func (c *Config) HasExporter(name string) bool {
	for _, exporter := range c.Exporters {
		if exporter == name {
			return true
		}
	}
	return false
}

func (c *Config) output() io.Writer {
	if c.Output != nil {
		return c.Output
	}
	return os.Stdout
}
