package telemetry

import (
	"fmt"
	"io"
	"time"
)

// Config contains the telemetry configuration of one pickup process.
type Config struct {
	// ServiceName is the name of the service for telemetry identification.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Logging contains logging configuration.
	Logging LoggingConfig

	// Tracing contains tracing configuration.
	Tracing TracingConfig

	// Metrics contains metrics configuration.
	Metrics MetricsConfig

	// Events contains run event configuration.
	Events EventsConfig
}

// LoggingConfig configures the console and file log sinks.
type LoggingConfig struct {
	// Debug lowers the console threshold from info to debug.
	Debug bool

	// Quiet suppresses console records below warn.
	Quiet bool

	// NoColor disables ANSI colors on the console.
	NoColor bool

	// File receives every record at debug level; empty disables it.
	File string

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int

	// Stdout and Stderr override the console streams; nil means os.Stdout
	// and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Exporter is one of none, stdout or otlp.
	Exporter string

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string

	// File receives stdout exporter output; empty means standard output.
	File string

	// Insecure disables TLS for the exporter connection.
	Insecure bool

	// ExportTimeout bounds span export.
	ExportTimeout time.Duration
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Namespace is the metrics namespace prefix.
	Namespace string

	// Textfile is rewritten after each run for the node exporter's
	// textfile collector; empty disables it.
	Textfile string

	// DurationBuckets are the latency buckets in seconds.
	DurationBuckets []float64
}

// EventsConfig configures run lifecycle events.
type EventsConfig struct {
	// File receives events as JSON lines; empty keeps them in process.
	File string
}

// DefaultConfig returns the telemetry configuration used by the CLI.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "pickup",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			MaxSizeMB:  1,
			MaxBackups: 5,
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Namespace: "pickup",
			DurationBuckets: []float64{
				1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200, 14400,
			},
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("otlp trace exporter requires an endpoint")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}

	if c.Logging.File != "" && c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("log file max size must be positive, got: %d", c.Logging.MaxSizeMB)
	}

	return nil
}
