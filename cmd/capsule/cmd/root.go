// Package cmd provides the CLI commands for Capsule.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capsule-rt/capsule/internal/config"
)

var (
	flagDBPath  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "capsule",
	Short: "Capsule - a local-first runtime for policy-governed tool calls",
	Long: `Capsule executes file, network, and subprocess tool calls proposed by a
plan or an agent loop against a deny-by-default policy, recording every
call and result to a tamper-evident audit log.

Configuration:
  Flags take precedence; CAPSULE_* environment variables fill in anything
  left unset (e.g. CAPSULE_DB_PATH is used when --db is not given).

Commands:
  run         Run a plan file against a policy
  agent run   Drive an agent loop against a task and a policy
  replay      Re-execute a completed run from its audit trail
  report      Render a run's steps and decisions
  list-runs   List recorded runs
  show-run    Show one run's summary
  version     Print version information`,
}

// exitError carries the process exit code a subcommand wants for a
// specific failure, per spec §6's per-command exit code table. A plain
// error returned from a RunE exits 1 (cobra usage/flag errors included).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// exitErr wraps err so Execute exits with code instead of the default 1.
func exitErr(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	cobra.OnInitialize(config.InitViper)
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "audit database file (default: ./capsule.db)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
}

// parseLogLevel converts a string log level to slog.Level. Returns
// slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the process logger to stderr, forcing debug under
// --verbose regardless of the configured log level.
func newLogger(logLevel string, verbose bool) *slog.Logger {
	level := parseLogLevel(logLevel)
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
