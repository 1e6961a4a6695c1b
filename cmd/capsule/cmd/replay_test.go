package cmd

import "testing"

func TestReplayCmdRegistered(t *testing.T) {
	for _, c := range rootCmd.Commands() {
		if c.Name() == "replay" {
			return
		}
	}
	t.Error("replay command not registered with rootCmd")
}

func TestReplayCmdFlagDefaults(t *testing.T) {
	verify := replayCmd.Flags().Lookup("verify")
	if verify == nil {
		t.Fatal("verify flag not registered on replayCmd")
	}
	if verify.DefValue != "false" {
		t.Errorf("verify default = %q, want %q", verify.DefValue, "false")
	}
}

func TestReplayRunUnknownOriginFailsVerify(t *testing.T) {
	dbPath := t.TempDir() + "/capsule.db"
	populateStoreAt(t, dbPath)

	oldDB, oldVerify := flagDBPath, flagReplayVerify
	flagDBPath, flagReplayVerify = dbPath, true
	defer func() { flagDBPath, flagReplayVerify = oldDB, oldVerify }()

	err := replayRun("no-such-run")
	if err == nil {
		t.Fatal("replayRun(unknown origin, --verify) should return an error")
	}
	if exitCodeFor(err) != 3 {
		t.Errorf("exit code = %d, want 3 (VerifyRun itself errors on an unknown run id)", exitCodeFor(err))
	}
}
