package config

import "testing"

func TestRunConfig_Validate_RejectsMissingDBPath(t *testing.T) {
	t.Parallel()

	cfg := RunConfig{LogLevel: "info"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty db_path")
	}
}

func TestRunConfig_Validate_RejectsBadLogLevel(t *testing.T) {
	t.Parallel()

	cfg := RunConfig{DBPath: "./capsule.db", LogLevel: "verbose"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid log_level")
	}
}

func TestRunConfig_Validate_OK(t *testing.T) {
	t.Parallel()

	cfg := RunConfig{DBPath: "./capsule.db", LogLevel: "info"}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestRunConfig_Validate_RejectsModelWithoutPlanner(t *testing.T) {
	t.Parallel()

	cfg := RunConfig{DBPath: "./capsule.db", LogLevel: "info"}
	cfg.Agent.Model = "gpt-test"
	cfg.SetDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for agent.model set without agent.planner")
	}
}

func TestRunConfig_Validate_AllowsPlannerWithModel(t *testing.T) {
	t.Parallel()

	cfg := RunConfig{DBPath: "./capsule.db", LogLevel: "info"}
	cfg.Agent.Planner = "stub"
	cfg.Agent.Model = "gpt-test"
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}
