package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pickup-backup/pickup/pkg/engine"
	"github.com/pickup-backup/pickup/pkg/lock"
	"github.com/pickup-backup/pickup/pkg/telemetry"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	pidFile    string
	debug      bool
	quiet      bool
	version    string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps the error returned by Execute to the process exit status:
// 0 on success (even if plugins failed), 9 for fatal startup conditions and
// 1 for everything else, such as usage errors.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case engine.IsFatal(err):
		return engine.ExitCodeFatal
	default:
		return 1
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{version: version}

	runCmd := newRunCommand(opts)
	rootCmd := &cobra.Command{
		Use:   "pickup",
		Short: "pickup - plugin-driven backup orchestrator",
		Long: `pickup pulls data from generators (databases, folders, commands, remote
hosts) into a temporary staging area, pushes the staging area to one or more
targets (local dated folders, FTP, SFTP) and cleans up.

Running pickup without a subcommand is the same as "pickup run".`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		Args:          cobra.NoArgs,
		RunE:          runCmd.RunE,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config", "config file (extension optional)")
	rootCmd.PersistentFlags().StringVarP(&opts.pidFile, "pid-file", "p", lock.DefaultPath(), "lock file guarding against concurrent runs")
	rootCmd.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "show debug messages on the console")
	rootCmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "only show warnings and errors on the console")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newPluginsCommand())
	rootCmd.AddCommand(newHistoryCommand(opts))

	return rootCmd
}

// consoleLogger installs a console-only logger until the configuration,
// which names the log file, has been read.
func consoleLogger(cmd *cobra.Command, opts *globalOptions) error {
	logger, err := telemetry.NewLogger(loggingConfig(cmd, opts))
	if err != nil {
		return err
	}
	logger.SetGlobal()
	return nil
}

func loggingConfig(cmd *cobra.Command, opts *globalOptions) telemetry.LoggingConfig {
	cfg := telemetry.DefaultConfig().Logging
	cfg.Debug = opts.debug
	cfg.Quiet = opts.quiet
	cfg.Stdout = cmd.OutOrStdout()
	cfg.Stderr = cmd.ErrOrStderr()
	cfg.NoColor = !isTerminal(cfg.Stdout)
	return cfg
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
