package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capsule-rt/capsule/internal/capsuleerr"
	"github.com/capsule-rt/capsule/internal/config"
)

var flagShowRunJSON bool

var showRunCmd = &cobra.Command{
	Use:   "show-run <run_id>",
	Short: "Show one run's summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showRun(args[0])
	},
}

func init() {
	showRunCmd.Flags().BoolVar(&flagShowRunJSON, "json", false, "emit machine-readable JSON instead of console output")
	rootCmd.AddCommand(showRunCmd)
}

func showRun(runID string) error {
	cfg, err := config.LoadConfig(&config.RunConfig{DBPath: flagDBPath})
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "invalid configuration", err))
	}

	store, err := openStore(cfg)
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "open audit store", err))
	}
	defer store.Close()

	run, err := store.GetRun(context.Background(), runID)
	if err != nil {
		return exitErr(5, capsuleerr.Wrap(capsuleerr.StorageError, fmt.Sprintf("run %s not found", runID), err))
	}
	if run == nil {
		return exitErr(5, capsuleerr.New(capsuleerr.StorageError, fmt.Sprintf("run %s not found", runID)))
	}

	if flagShowRunJSON {
		enc := json.NewEncoder(cmdOut())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	fmt.Fprintf(cmdOut(), "run %s\n", run.RunID)
	fmt.Fprintf(cmdOut(), "  mode:       %s\n", run.Mode)
	fmt.Fprintf(cmdOut(), "  status:     %s\n", run.Status)
	fmt.Fprintf(cmdOut(), "  created:    %s\n", run.CreatedAt.Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(cmdOut(), "  steps:      %d total, %d completed, %d denied, %d failed\n",
		run.TotalSteps, run.CompletedSteps, run.DeniedSteps, run.FailedSteps)
	fmt.Fprintf(cmdOut(), "  plan_hash:  %s\n", run.PlanHash)
	fmt.Fprintf(cmdOut(), "  policy_hash: %s\n", run.PolicyHash)
	return nil
}
