package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/capsule-rt/capsule/internal/capsuleerr"
	"github.com/capsule-rt/capsule/internal/config"
)

var (
	flagListRunsJSON  bool
	flagListRunsLimit int
)

var listRunsCmd = &cobra.Command{
	Use:   "list-runs",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRuns()
	},
}

func init() {
	listRunsCmd.Flags().BoolVar(&flagListRunsJSON, "json", false, "emit machine-readable JSON instead of console output")
	listRunsCmd.Flags().IntVar(&flagListRunsLimit, "limit", 50, "maximum number of runs to list")
	rootCmd.AddCommand(listRunsCmd)
}

func listRuns() error {
	cfg, err := config.LoadConfig(&config.RunConfig{DBPath: flagDBPath})
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "invalid configuration", err))
	}

	store, err := openStore(cfg)
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "open audit store", err))
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), flagListRunsLimit)
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "list runs", err))
	}

	if flagListRunsJSON {
		enc := json.NewEncoder(cmdOut())
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	tw := tabwriter.NewWriter(cmdOut(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN_ID\tMODE\tSTATUS\tSTEPS\tDENIED\tFAILED\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.RunID, r.Mode, r.Status, r.TotalSteps, r.DeniedSteps, r.FailedSteps, r.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
	return tw.Flush()
}
