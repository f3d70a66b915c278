package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pickup-backup/pickup/pkg/config"
	"github.com/pickup-backup/pickup/pkg/engine"
	"github.com/pickup-backup/pickup/pkg/providers"
	"github.com/pickup-backup/pickup/pkg/retention"
	"github.com/pickup-backup/pickup/pkg/stores"
	"github.com/pickup-backup/pickup/pkg/telemetry"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all generators and targets once",
		Long: `Run performs one backup run:

  1. acquire the lock file (a second concurrent run exits with status 9)
  2. create the staging area
  3. run every generator into its own staging folder
  4. run every target against the staging area
  5. remove the staging area and release the lock

A failing plugin is logged and skipped; the run still completes with status 0.`,
		Example: `  # Run with ./config.yaml
  pickup run

  # Run a specific config without root privileges
  pickup run -c /etc/pickup/config.toml -p /tmp/pickup.pid`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBackup(cmd, opts)
		},
	}
	return cmd
}

func runBackup(cmd *cobra.Command, opts *globalOptions) error {
	ctx := cmd.Context()
	if err := consoleLogger(cmd, opts); err != nil {
		return engine.NewFatalError("could not set up logging", err)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(cmd, opts, cfg))
	if err != nil {
		return engine.NewFatalError("could not set up telemetry", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown incomplete")
		}
	}()
	log.Info().Str("config", cfg.Path).Msg("configuration loaded")

	orchOpts := []engine.Option{
		engine.WithMetrics(tel.Metrics),
		engine.WithEvents(tel.Events),
		engine.WithLogger(tel.Logger.NewComponentLogger("orchestrator")),
	}
	if cfg.HistoryDB != "" {
		store, err := stores.Open(ctx, cfg.HistoryDB)
		if err != nil {
			// History is a convenience; the backup itself must still run.
			log.Error().Err(err).Str("db", cfg.HistoryDB).Msg("run history unavailable")
		} else {
			defer store.Close()
			orchOpts = append(orchOpts, engine.WithRecorder(store))
		}
	}

	ctx = retention.WithObserver(ctx, tel.Metrics)
	orch := engine.NewOrchestrator(providers.NewBuiltinRegistry(), opts.pidFile, orchOpts...)
	report, err := orch.Run(ctx, cfg.ToRunSpec())
	if err != nil {
		return err
	}

	for _, o := range report.Failed() {
		log.Warn().
			Str("kind", string(o.Kind)).
			Str("name", o.Name).
			Str("status", string(o.Status)).
			Str("error", o.ErrorMessage()).
			Msg("plugin did not complete")
	}
	return nil
}

func telemetryConfig(cmd *cobra.Command, opts *globalOptions, cfg *config.Config) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = opts.version
	tc.Logging = loggingConfig(cmd, opts)
	tc.Logging.File = cfg.LogFile
	tc.Tracing.Exporter = cfg.Tracing.Exporter
	tc.Tracing.Endpoint = cfg.Tracing.Endpoint
	tc.Tracing.File = cfg.Tracing.File
	tc.Tracing.Insecure = cfg.Tracing.Insecure
	tc.Metrics.Textfile = cfg.MetricsTextfile
	tc.Events.File = cfg.EventsFile
	return tc
}
