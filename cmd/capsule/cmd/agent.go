package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capsule-rt/capsule/internal/capsuleerr"
	"github.com/capsule-rt/capsule/internal/config"
	"github.com/capsule-rt/capsule/internal/orchestrator"
	"github.com/capsule-rt/capsule/internal/planner/stub"
)

var (
	flagAgentPolicy        string
	flagAgentPlanner       string
	flagAgentModel         string
	flagAgentMaxIterations int
	flagAgentJSON          bool
	flagAgentPretty        bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Drive an agent loop against a task and a policy",
}

var agentRunCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run an agent session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(args[0])
	},
}

func init() {
	agentRunCmd.Flags().StringVar(&flagAgentPolicy, "policy", "", "policy YAML file (required)")
	agentRunCmd.Flags().StringVar(&flagAgentPlanner, "planner", "stub", "planner implementation to use (currently only \"stub\")")
	agentRunCmd.Flags().StringVar(&flagAgentModel, "model", "", "model name passed through to the planner, uninterpreted by Capsule")
	agentRunCmd.Flags().IntVar(&flagAgentMaxIterations, "max-iterations", 0, "agent loop iteration cap (default 25)")
	agentRunCmd.Flags().BoolVar(&flagAgentJSON, "json", false, "emit machine-readable JSON instead of console output")
	agentRunCmd.Flags().BoolVar(&flagAgentPretty, "pretty", false, "pretty-print JSON output")
	_ = agentRunCmd.MarkFlagRequired("policy")

	agentCmd.AddCommand(agentRunCmd)
	rootCmd.AddCommand(agentCmd)
}

func runAgent(task string) error {
	cfg, err := config.LoadConfig(&config.RunConfig{
		DBPath:     flagDBPath,
		PolicyPath: flagAgentPolicy,
		JSON:       flagAgentJSON,
		Agent: config.AgentRunConfig{
			Planner:       flagAgentPlanner,
			Model:         flagAgentModel,
			MaxIterations: flagAgentMaxIterations,
		},
	})
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.PlanValidationError, "invalid configuration", err))
	}

	planner, err := buildPlanner(cfg.Agent.Planner)
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.PlanValidationError, "build planner", err))
	}

	result, err := executeAgent(cfg, task, planner)
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "agent run failed", err))
	}

	if cfg.JSON {
		enc := json.NewEncoder(cmdOut())
		if flagAgentPretty {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(result); err != nil {
			return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "encode result", err))
		}
	} else {
		fmt.Fprintf(cmdOut(), "agent run %s: %s (%d iterations, %d completed, %d denied, %d failed)\n",
			result.RunID, result.Status, result.Iterations, result.CompletedSteps, result.DeniedSteps, result.FailedSteps)
		if result.FinalOutput != "" {
			fmt.Fprintf(cmdOut(), "final output: %s\n", result.FinalOutput)
		}
	}

	if result.FailedSteps > 0 {
		return exitErr(2, fmt.Errorf("agent run %s completed with %d failed step(s)", result.RunID, result.FailedSteps))
	}
	return nil
}

// buildPlanner resolves the --planner flag to a concrete orchestrator.Planner.
// "stub" is the only built-in: it parses the task string as a single fixed
// tool call, useful for exercising the agent loop without a live model.
// Capsule's planner contract is transport-agnostic (spec §4.4/§9); a real
// LLM-backed planner is a separate binary implementing the same interface,
// not something this CLI wires directly.
func buildPlanner(name string) (orchestrator.Planner, error) {
	switch name {
	case "", "stub":
		return stub.New(), nil
	default:
		return nil, fmt.Errorf("unknown planner %q (only \"stub\" is built in)", name)
	}
}

func executeAgent(cfg *config.RunConfig, task string, planner orchestrator.Planner) (*orchestrator.AgentResult, error) {
	logger := newLogger(cfg.LogLevel, flagVerbose)

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	_ = store.RecordEvent(context.Background(), "config_load", fmt.Sprintf("db=%s policy=%s planner=%s", cfg.DBPath, cfg.PolicyPath, cfg.Agent.Planner))

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

	agentCfg := orchestrator.AgentConfig{MaxIterations: cfg.Agent.MaxIterations}
	orch := orchestrator.NewAgentOrchestrator(store, engine, registry, planner, logger, agentCfg)
	orch.Metrics = buildMetrics()

	return orch.Run(context.Background(), task, pol, workingDir)
}
