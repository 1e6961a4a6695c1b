package cmd

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestReportCmdRegistered(t *testing.T) {
	found := false
	for _, c := range rootCmd.Commands() {
		if c.Name() == "report" {
			found = true
		}
	}
	if !found {
		t.Error("report command not registered with rootCmd")
	}
}

func TestRenderReportRejectsBadFormat(t *testing.T) {
	old := flagReportFormat
	flagReportFormat = "xml"
	defer func() { flagReportFormat = old }()

	err := renderReport("whatever")
	if err == nil {
		t.Fatal("renderReport with bad --format should return an error")
	}
	if exitCodeFor(err) != 3 {
		t.Errorf("exit code = %d, want 3", exitCodeFor(err))
	}
}

func TestRenderReportConsole(t *testing.T) {
	dbPath := t.TempDir() + "/capsule.db"
	runID := populateStoreAt(t, dbPath)

	oldDB, oldFormat := flagDBPath, flagReportFormat
	flagDBPath, flagReportFormat = dbPath, "console"
	defer func() { flagDBPath, flagReportFormat = oldDB, oldFormat }()

	out := captureOut(t, func() {
		if err := renderReport(runID); err != nil {
			t.Fatalf("renderReport(console) error: %v", err)
		}
	})
	if !strings.Contains(out, runID) {
		t.Errorf("console report missing run id: %s", out)
	}
	if !strings.Contains(out, "fs.read") {
		t.Errorf("console report missing fs.read step: %s", out)
	}
	if !strings.Contains(out, "example.com is not allowlisted") {
		t.Errorf("console report missing denial reason: %s", out)
	}
}

func TestRenderReportJSONIsValid(t *testing.T) {
	dbPath := t.TempDir() + "/capsule.db"
	runID := populateStoreAt(t, dbPath)

	oldDB, oldFormat := flagDBPath, flagReportFormat
	flagDBPath, flagReportFormat = dbPath, "json"
	defer func() { flagDBPath, flagReportFormat = oldDB, oldFormat }()

	out := captureOut(t, func() {
		if err := renderReport(runID); err != nil {
			t.Fatalf("renderReport(json) error: %v", err)
		}
	})

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("report JSON output did not parse: %v\noutput: %s", err, out)
	}
	if decoded["run_id"] != runID {
		t.Errorf("run_id = %v, want %v", decoded["run_id"], runID)
	}
}
