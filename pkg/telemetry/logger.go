package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger owns the process-wide zerolog logger and its sinks.
//
// Records below warn go to stdout (unless quiet), warn and above go to
// stderr, and everything from debug upwards goes to the rotating log file.
type Logger struct {
	zlog   zerolog.Logger
	file   *lumberjack.Logger
	config LoggingConfig
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	stdout, stderr := cfg.Stdout, cfg.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	consoleMin := zerolog.InfoLevel
	if cfg.Debug {
		consoleMin = zerolog.DebugLevel
	}

	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, levelRangeWriter{
			w:   console(stdout, cfg.NoColor),
			min: consoleMin,
			max: zerolog.InfoLevel,
		})
	}
	writers = append(writers, levelRangeWriter{
		w:   console(stderr, cfg.NoColor),
		min: zerolog.WarnLevel,
		max: zerolog.PanicLevel,
	})

	var file *lumberjack.Logger
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		writers = append(writers, levelRangeWriter{
			w:   file,
			min: zerolog.DebugLevel,
			max: zerolog.PanicLevel,
		})
	}

	zlog := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()

	return &Logger{zlog: zlog, file: file, config: cfg}, nil
}

func console(out io.Writer, noColor bool) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// SetGlobal installs the logger as the zerolog global logger.
func (l *Logger) SetGlobal() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = l.zlog
}

// NewComponentLogger creates a child logger for a specific component.
func (l *Logger) NewComponentLogger(component string) zerolog.Logger {
	return l.zlog.With().Str("component", component).Logger()
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// levelRangeWriter forwards records whose level lies in [min, max].
type levelRangeWriter struct {
	w   io.Writer
	min zerolog.Level
	max zerolog.Level
}

func (l levelRangeWriter) Write(p []byte) (int, error) {
	return l.w.Write(p)
}

func (l levelRangeWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < l.min || level > l.max {
		return len(p), nil
	}
	return l.w.Write(p)
}
