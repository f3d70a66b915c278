package config

import (
	"github.com/pickup-backup/pickup/pkg/engine"
)

// ExpectedVersion is the configuration format this build understands.
var ExpectedVersion = engine.APIVersion{Major: 2, Minor: 2}

// assumedVersion is used when CONFIG_VERSION is absent.
var assumedVersion = engine.APIVersion{Major: 1, Minor: 0}

// Config is the run configuration.
type Config struct {
	// Version is the raw CONFIG_VERSION pair.
	Version []int `koanf:"CONFIG_VERSION" yaml:"CONFIG_VERSION,flow" validate:"omitempty,len=2"`

	// StagingArea is the parent of the per-run staging directory.
	StagingArea string `koanf:"STAGING_AREA" yaml:"STAGING_AREA,omitempty"`

	Generators []engine.ProfileConfig `koanf:"GENERATORS" yaml:"GENERATORS" validate:"dive"`
	Targets    []engine.ProfileConfig `koanf:"TARGETS" yaml:"TARGETS" validate:"dive"`

	// FirstTargetIsStaging uses the first target's folder as staging root.
	FirstTargetIsStaging bool `koanf:"FIRST_TARGET_IS_STAGING" yaml:"FIRST_TARGET_IS_STAGING"`

	// LogFile receives every record at debug level, rotated by size.
	LogFile string `koanf:"LOG_FILE" yaml:"LOG_FILE,omitempty"`

	// HistoryDB is the SQLite run history; empty disables it.
	HistoryDB string `koanf:"HISTORY_DB" yaml:"HISTORY_DB,omitempty"`

	// MetricsTextfile is rewritten after every run in the prometheus text format.
	MetricsTextfile string `koanf:"METRICS_TEXTFILE" yaml:"METRICS_TEXTFILE,omitempty"`

	// EventsFile receives run lifecycle events as JSON lines; empty disables it.
	EventsFile string `koanf:"EVENTS_FILE" yaml:"EVENTS_FILE,omitempty"`

	Tracing TracingConfig `koanf:"TRACING" yaml:"TRACING"`

	// Path is the file the configuration was read from.
	Path string `koanf:"-" yaml:"-"`
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	// Exporter is one of none, stdout or otlp.
	Exporter string `koanf:"exporter" yaml:"exporter" validate:"omitempty,oneof=none stdout otlp"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `koanf:"endpoint" yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`

	// File receives stdout exporter output; empty means standard output.
	File string `koanf:"file" yaml:"file,omitempty"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `koanf:"insecure" yaml:"insecure,omitempty"`
}

// ConfigVersion returns the declared version, or (1,0) when none was given.
func (c *Config) ConfigVersion() engine.APIVersion {
	if len(c.Version) != 2 {
		return assumedVersion
	}
	return engine.APIVersion{Major: c.Version[0], Minor: c.Version[1]}
}

// ToRunSpec projects the configuration onto what the orchestrator needs.
func (c *Config) ToRunSpec() engine.RunSpec {
	return engine.RunSpec{
		StagingArea:          c.StagingArea,
		Generators:           c.Generators,
		Targets:              c.Targets,
		FirstTargetIsStaging: c.FirstTargetIsStaging,
	}
}
