package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capsule-rt/capsule/internal/capsuleerr"
	"github.com/capsule-rt/capsule/internal/config"
	"github.com/capsule-rt/capsule/internal/orchestrator"
)

var (
	flagReplayJSON   bool
	flagReplayVerify bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <run_id>",
	Short: "Re-execute a completed run from its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return replayRun(args[0])
	},
}

func init() {
	replayCmd.Flags().BoolVar(&flagReplayJSON, "json", false, "emit machine-readable JSON instead of console output")
	replayCmd.Flags().BoolVar(&flagReplayVerify, "verify", false, "also run VerifyRun against the origin run's stored hashes")
	rootCmd.AddCommand(replayCmd)
}

func replayRun(originRunID string) error {
	cfg, err := config.LoadConfig(&config.RunConfig{DBPath: flagDBPath})
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "invalid configuration", err))
	}

	store, err := openStore(cfg)
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "open audit store", err))
	}
	defer store.Close()

	ctx := context.Background()

	if flagReplayVerify {
		verify, err := store.VerifyRun(ctx, originRunID)
		if err != nil {
			return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "verify origin run", err))
		}
		if !verify.OK {
			return exitErr(4, capsuleerr.New(capsuleerr.ReplayError, fmt.Sprintf("origin run %s failed hash verification: %v", originRunID, verify.Mismatches)))
		}
	}

	engine := orchestrator.NewReplayEngine(store)
	engine.Metrics = buildMetrics()

	result, err := engine.Replay(ctx, originRunID)
	if err != nil {
		if result != nil && len(result.Mismatches) > 0 {
			return exitErr(4, capsuleerr.Wrap(capsuleerr.ReplayError, "replay hash mismatch", err))
		}
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "replay failed", err))
	}

	if flagReplayJSON {
		enc := json.NewEncoder(cmdOut())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(cmdOut(), "replay %s (origin %s): %d completed, %d denied, %d failed\n",
		result.RunID, result.OriginRunID, result.CompletedSteps, result.DeniedSteps, result.FailedSteps)
	if result.PlanHashMismatch {
		fmt.Fprintln(cmdOut(), "warning: origin plan_json no longer hashes to its recorded plan_hash")
	}
	return nil
}
