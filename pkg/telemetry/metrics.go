package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for backup runs. pickup is a one-shot
// process, so metrics are exported by writing a textfile after each run
// rather than by serving HTTP.
type Metrics struct {
	config MetricsConfig

	// Plugin metrics
	pluginRuns     *prometheus.CounterVec
	pluginDuration *prometheus.HistogramVec

	// Run metrics
	runsCompleted  *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastRunSeconds *prometheus.GaugeVec

	// Retention metrics
	prunedBackups *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		pluginRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_runs_total",
				Help:      "Total number of plugin runs by outcome",
			},
			[]string{"kind", "profile", "status"},
		),
		pluginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plugin_run_duration_seconds",
				Help:      "Duration of plugin runs in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "profile"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs by status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of whole runs in seconds",
				Buckets:   buckets,
			},
		),
		lastRunSeconds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished, by status",
			},
			[]string{"status"},
		),
		prunedBackups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_deleted_total",
				Help:      "Total number of expired backups deleted by targets",
			},
			[]string{"profile", "result"},
		),
	}

	registry.MustRegister(
		m.pluginRuns,
		m.pluginDuration,
		m.runsCompleted,
		m.runDuration,
		m.lastRunSeconds,
		m.prunedBackups,
	)

	return m
}

// RecordPluginRun records the outcome of one plugin.
func (m *Metrics) RecordPluginRun(kind, profile, status string, duration time.Duration) {
	m.pluginRuns.WithLabelValues(kind, profile, status).Inc()
	m.pluginDuration.WithLabelValues(kind, profile).Observe(duration.Seconds())
}

// RecordRunCompleted records a finished run.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
	m.lastRunSeconds.WithLabelValues(status).SetToCurrentTime()
}

// RecordPruned records deleted and failed retention candidates of a target.
func (m *Metrics) RecordPruned(profile string, deleted, failed int) {
	m.prunedBackups.WithLabelValues(profile, "deleted").Add(float64(deleted))
	m.prunedBackups.WithLabelValues(profile, "failed").Add(float64(failed))
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics to the configured textfile. It is a no-op
// when no textfile is configured.
func (m *Metrics) WriteTextfile() error {
	if m.config.Textfile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.Textfile), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.config.Textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
