package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pickup-backup/pickup/pkg/config"
	"github.com/pickup-backup/pickup/pkg/engine"
	"github.com/pickup-backup/pickup/pkg/stores"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var (
		dbPath string
		limit  int
		runID  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from the run history database",
		Long: `History lists the runs recorded in HISTORY_DB, newest first. With --run the
outcome of every plugin of that run is shown.`,
		Example: `  # Last 20 runs
  pickup history

  # Plugin outcomes of one run
  pickup history --run 6f1c9d1e-...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				if err := consoleLogger(cmd, opts); err != nil {
					return err
				}
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				dbPath = cfg.HistoryDB
			}
			if dbPath == "" {
				return errors.New("no history database: set HISTORY_DB in the config or pass --db")
			}

			store, err := stores.Open(cmd.Context(), dbPath)
			if err != nil {
				return engine.NewFatalError("could not open run history", err).WithResource(dbPath)
			}
			defer store.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			if runID != "" {
				results, err := store.GetPluginResults(cmd.Context(), runID)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "#\tKIND\tNAME\tPROFILE\tSTATUS\tDURATION\tERROR")
				for _, r := range results {
					msg := ""
					if r.Error != nil {
						msg = *r.Error
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
						r.Seq, r.Kind, r.Name, r.Profile, r.Status, r.Duration.Round(time.Millisecond), msg)
				}
				return w.Flush()
			}

			runs, err := store.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tSTATUS\tSTATE")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Second), r.Status, r.State)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "history database (default: HISTORY_DB from the config)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().StringVar(&runID, "run", "", "show the plugin outcomes of this run")

	return cmd
}
