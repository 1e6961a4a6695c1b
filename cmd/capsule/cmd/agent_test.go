package cmd

import "testing"

func TestAgentCmdRegistered(t *testing.T) {
	found := false
	for _, c := range rootCmd.Commands() {
		if c.Name() == "agent" {
			found = true
		}
	}
	if !found {
		t.Fatal("agent command not registered with rootCmd")
	}

	runFound := false
	for _, c := range agentCmd.Commands() {
		if c.Name() == "run" {
			runFound = true
		}
	}
	if !runFound {
		t.Error("agent run subcommand not registered under agentCmd")
	}
}

func TestAgentRunFlagDefaults(t *testing.T) {
	flag := agentRunCmd.Flags().Lookup("planner")
	if flag == nil {
		t.Fatal("planner flag not registered on agent run")
	}
	if flag.DefValue != "stub" {
		t.Errorf("planner default = %q, want %q", flag.DefValue, "stub")
	}
}

func TestBuildPlannerStub(t *testing.T) {
	for _, name := range []string{"", "stub"} {
		if _, err := buildPlanner(name); err != nil {
			t.Errorf("buildPlanner(%q) error: %v", name, err)
		}
	}
}

func TestBuildPlannerUnknown(t *testing.T) {
	if _, err := buildPlanner("gpt-5"); err == nil {
		t.Error("buildPlanner(unknown) should return an error")
	}
}
