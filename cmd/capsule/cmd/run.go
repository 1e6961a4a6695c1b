package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capsule-rt/capsule/internal/capsuleerr"
	"github.com/capsule-rt/capsule/internal/config"
	"github.com/capsule-rt/capsule/internal/domain/plan"
	"github.com/capsule-rt/capsule/internal/orchestrator"
)

var (
	flagRunPolicy     string
	flagRunJSON       bool
	flagRunNoFailFast bool
)

var runCmd = &cobra.Command{
	Use:   "run <plan>",
	Short: "Run a plan file against a policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(args[0])
	},
}

func init() {
	runCmd.Flags().StringVar(&flagRunPolicy, "policy", "", "policy YAML file (required)")
	runCmd.Flags().BoolVar(&flagRunJSON, "json", false, "emit machine-readable JSON instead of console output")
	runCmd.Flags().BoolVar(&flagRunNoFailFast, "no-fail-fast", false, "continue past denied or errored steps instead of halting")
	_ = runCmd.MarkFlagRequired("policy")
	rootCmd.AddCommand(runCmd)
}

func runPlan(planPath string) error {
	cfg, err := config.LoadConfig(&config.RunConfig{
		DBPath:     flagDBPath,
		PolicyPath: flagRunPolicy,
		JSON:       flagRunJSON,
		FailFast:   !flagRunNoFailFast,
	})
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.PlanValidationError, "invalid configuration", err))
	}

	p, err := plan.LoadFile(planPath)
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.PlanValidationError, "could not load plan", err))
	}

	result, runErr := executePlan(cfg, p)
	if runErr != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "run failed", runErr))
	}

	if cfg.JSON {
		enc := json.NewEncoder(cmdOut())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "encode result", err))
		}
	} else {
		fmt.Fprintf(cmdOut(), "run %s: %s (%d/%d completed, %d denied, %d failed)\n",
			result.RunID, result.Status, result.CompletedSteps, result.TotalSteps, result.DeniedSteps, result.FailedSteps)
	}

	if result.FailedSteps > 0 {
		return exitErr(2, fmt.Errorf("run %s completed with %d failed step(s)", result.RunID, result.FailedSteps))
	}
	return nil
}

// executePlan loads the policy, builds the shared orchestrator
// dependencies, and drives the Plan Orchestrator to completion.
func executePlan(cfg *config.RunConfig, p *plan.Plan) (*orchestrator.RunResult, error) {
	logger := newLogger(cfg.LogLevel, flagVerbose)

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	_ = store.RecordEvent(context.Background(), "config_load", fmt.Sprintf("db=%s policy=%s", cfg.DBPath, cfg.PolicyPath))

	engine, err := buildEngine()
	if err != nil {
		return nil, err
	}

	workingDir, err := workingDirOrDefault()
	if err != nil {
		return nil, err
	}

	pol, err := loadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	_ = store.RecordEvent(context.Background(), "policy_load", fmt.Sprintf("path=%s boundary=%s", cfg.PolicyPath, pol.Boundary))

	registry := buildRegistry(engine, pol, workingDir)

	orch := orchestrator.NewPlanOrchestrator(store, engine, registry, logger)
	orch.Metrics = buildMetrics()

	return orch.Run(context.Background(), p, pol, workingDir, cfg.FailFast)
}
