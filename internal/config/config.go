// Package config provides configuration types for the Capsule CLI.
//
// Capsule has no server process and no multi-tenant surface; the config
// layer exists only to resolve CLI flags, environment overrides, and a
// small set of defaults for where Capsule reads its plan/policy files and
// writes its audit database. Plan and Policy documents themselves are
// loaded separately (internal/domain/plan, internal/domain/policy) — this
// package governs the CLI's own ambient settings, not the deny-by-default
// rules a run is evaluated against.
package config

// RunConfig is the CLI's resolved configuration for a single invocation:
// flag values, environment overrides, and defaults merged together.
type RunConfig struct {
	// DBPath is the SQLite audit database file. Defaults to
	// "./capsule.db" in the current directory.
	DBPath string `yaml:"db_path" mapstructure:"db_path" validate:"required"`

	// PolicyPath is the YAML policy file passed to --policy. Required for
	// "run" and "agent run"; unused by replay/report/list-runs/show-run.
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path"`

	// LogLevel sets the minimum slog level. Valid values: "debug", "info",
	// "warn", "error". Defaults to "info"; --verbose forces "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// JSON switches CLI output to machine-readable JSON instead of
	// console rendering, per spec §6's --json flag on every subcommand.
	JSON bool `yaml:"json" mapstructure:"json"`

	// FailFast controls whether the Plan Orchestrator halts after the
	// first non-success step. Defaults to true; --no-fail-fast clears it.
	FailFast bool `yaml:"fail_fast" mapstructure:"fail_fast"`

	// Agent-mode settings, unused by "run"/"replay"/"report".
	Agent AgentRunConfig `yaml:"agent" mapstructure:"agent"`
}

// AgentRunConfig configures an "agent run" invocation.
type AgentRunConfig struct {
	// Planner names the Planner implementation to use; "stub" is the only
	// built-in, and an empty value selects it. Required when Model is set.
	Planner string `yaml:"planner" mapstructure:"planner" validate:"required_with=Model"`

	// Model is passed through to the Planner implementation; Capsule
	// itself does not interpret it.
	Model string `yaml:"model" mapstructure:"model"`

	// MaxIterations bounds the agent loop. Defaults to 25.
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations" validate:"omitempty,min=1"`
}

// SetDefaults applies sensible default values to the configuration. Must
// run before Validate so required fields are satisfied.
func (c *RunConfig) SetDefaults() {
	if c.DBPath == "" {
		c.DBPath = "./capsule.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 25
	}
}
