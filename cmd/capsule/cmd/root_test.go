package cmd

import (
	"errors"
	"log/slog"
	"testing"
)

func TestExitErrNilReturnsNil(t *testing.T) {
	if err := exitErr(2, nil); err != nil {
		t.Fatalf("exitErr(code, nil) = %v, want nil", err)
	}
}

func TestExitCodeForWrappedError(t *testing.T) {
	cause := errors.New("denied")
	err := exitErr(4, cause)

	if got := exitCodeFor(err); got != 4 {
		t.Errorf("exitCodeFor() = %d, want 4", got)
	}
	if err.Error() != "denied" {
		t.Errorf("Error() = %q, want %q", err.Error(), "denied")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestExitCodeForPlainErrorDefaultsToOne(t *testing.T) {
	if got := exitCodeFor(errors.New("boom")); got != 1 {
		t.Errorf("exitCodeFor(plain error) = %d, want 1", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLogLevel(tc.in); got != tc.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewLoggerVerboseForcesDebug(t *testing.T) {
	logger := newLogger("error", true)
	if !logger.Enabled(nil, slog.LevelDebug) {
		t.Error("newLogger with verbose=true should enable debug logging regardless of logLevel")
	}
}

func TestRootCmdRegistersAllSubcommands(t *testing.T) {
	want := []string{"run", "replay", "report", "list-runs", "show-run", "agent", "version"}
	got := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		got[c.Name()] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("rootCmd missing subcommand %q", name)
		}
	}
}
