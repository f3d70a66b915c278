package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, cfg LoggingConfig) (*Logger, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cfg.Stdout = &stdout
	cfg.Stderr = &stderr
	cfg.NoColor = true
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, &stdout, &stderr
}

func TestLoggerSplitsByLevel(t *testing.T) {
	l, stdout, stderr := newTestLogger(t, LoggingConfig{})
	z := l.Zerolog()

	z.Debug().Msg("debug-record")
	z.Info().Msg("info-record")
	z.Warn().Msg("warn-record")
	z.Error().Msg("error-record")

	assert.NotContains(t, stdout.String(), "debug-record")
	assert.Contains(t, stdout.String(), "info-record")
	assert.NotContains(t, stdout.String(), "warn-record")

	assert.NotContains(t, stderr.String(), "info-record")
	assert.Contains(t, stderr.String(), "warn-record")
	assert.Contains(t, stderr.String(), "error-record")
}

func TestLoggerDebugAndQuiet(t *testing.T) {
	l, stdout, _ := newTestLogger(t, LoggingConfig{Debug: true})
	zl := l.Zerolog()
	zl.Debug().Msg("debug-record")
	assert.Contains(t, stdout.String(), "debug-record")

	l, stdout, stderr := newTestLogger(t, LoggingConfig{Quiet: true})
	zl = l.Zerolog()
	zl.Info().Msg("info-record")
	zl.Error().Msg("error-record")
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "error-record")
}

func TestLoggerFileReceivesDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pickup.log")
	l, stdout, _ := newTestLogger(t, LoggingConfig{File: path, MaxSizeMB: 1, MaxBackups: 5})

	cl := l.NewComponentLogger("test")
	cl.Debug().Msg("to-file-only")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to-file-only")
	assert.Contains(t, string(data), `"component":"test"`)
	assert.NotContains(t, stdout.String(), "to-file-only")
}

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics(MetricsConfig{Namespace: "pickup"})

	m.RecordPluginRun("generator", "mysql", "succeeded", 3*time.Second)
	m.RecordPluginRun("generator", "mysql", "failed", time.Second)
	m.RecordPluginRun("target", "ftp", "succeeded", time.Second)
	m.RecordRunCompleted("partial", 10*time.Second)
	m.RecordPruned("ftp", 3, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.pluginRuns.WithLabelValues("generator", "mysql", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsCompleted.WithLabelValues("partial")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.prunedBackups.WithLabelValues("ftp", "deleted")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.pluginRuns))
}

func TestMetricsTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textfile", "pickup.prom")
	m := NewMetrics(MetricsConfig{Namespace: "pickup", Textfile: path})
	m.RecordRunCompleted("completed", time.Minute)

	require.NoError(t, m.WriteTextfile())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `pickup_runs_completed_total{status="completed"} 1`)
	assert.True(t, strings.Contains(string(data), "pickup_run_duration_seconds_bucket"))

	assert.NoError(t, NewMetrics(MetricsConfig{}).WriteTextfile(), "no textfile configured")
}

func TestEventPublishing(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{})
	require.NoError(t, err)

	var all, failures []Event
	ep.Subscribe(func(e Event) { all = append(all, e) }, nil)
	ep.Subscribe(func(e Event) { failures = append(failures, e) }, FilterByLevel(EventLevelError))
	ep.AddFilter(FilterByRunID("run-1"))

	require.NoError(t, ep.PublishRunStarted("run-1"))
	require.NoError(t, ep.PublishPluginStarted("run-1", "generator", "Shop DB", "mysql"))
	require.NoError(t, ep.PublishPluginFailed("run-1", "generator", "Shop DB", "mysql", "failed", "mysqldump exited 2"))
	require.NoError(t, ep.PublishPluginCompleted("run-1", "target", "Daily", "dailyfolder", time.Second))
	require.NoError(t, ep.PublishRunCompleted("run-1", "partial", time.Minute))
	require.NoError(t, ep.PublishRunStarted("run-2"))

	require.Len(t, all, 5)
	assert.Equal(t, EventTypeRunStarted, all[0].Type)
	assert.NotEmpty(t, all[0].ID)
	assert.False(t, all[0].Timestamp.IsZero())
	assert.Equal(t, EventLevelWarning, all[4].Level)
	assert.Equal(t, "partial", all[4].Data["status"])

	require.Len(t, failures, 1)
	assert.Equal(t, EventTypePluginFailed, failures[0].Type)
	assert.Equal(t, "mysql", failures[0].Profile)
	assert.Equal(t, "mysqldump exited 2", failures[0].Data["reason"])

	require.NoError(t, ep.Shutdown(context.Background()))
	assert.Error(t, ep.PublishRunStarted("run-1"), "publishing after shutdown")
}

func TestEventFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "pickup.jsonl")
	ep, err := NewEventPublisher(EventsConfig{File: path})
	require.NoError(t, err)
	ep.AddFilter(FilterByType(EventTypeRunStarted, EventTypeRunFailed))

	require.NoError(t, ep.PublishRunStarted("run-1"))
	require.NoError(t, ep.PublishPluginStarted("run-1", "target", "Daily", "dailyfolder"))
	require.NoError(t, ep.PublishRunFailed("run-1", "lock held"))
	require.NoError(t, ep.Shutdown(context.Background()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var types []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		assert.Equal(t, "run-1", e.RunID)
		types = append(types, e.Type)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{EventTypeRunStarted, EventTypeRunFailed}, types)
}

func TestTracerStdoutToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.json")
	tr, err := NewTracer(TracingConfig{Exporter: "stdout", File: path}, "pickup", "test")
	require.NoError(t, err)
	require.True(t, tr.Enabled())

	ctx, span := tr.StartSpan(context.Background(), "pickup.test")
	assert.NotEmpty(t, TraceID(ctx))
	span.End()
	require.NoError(t, tr.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pickup.test")
}

func TestTracerNone(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Exporter: "none"}, "pickup", "test")
	require.NoError(t, err)
	assert.False(t, tr.Enabled())
	assert.NoError(t, tr.Shutdown(context.Background()))

	_, err = NewTracer(TracingConfig{Exporter: "jaeger"}, "pickup", "test")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Tracing.Exporter = "otlp"
	assert.Error(t, cfg.Validate())
	cfg.Tracing.Endpoint = "localhost:4317"
	assert.NoError(t, cfg.Validate())

	cfg.Tracing.Exporter = "zipkin"
	assert.Error(t, cfg.Validate())
}
