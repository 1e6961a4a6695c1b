package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capsule-rt/capsule/internal/capsuleerr"
	"github.com/capsule-rt/capsule/internal/config"
	"github.com/capsule-rt/capsule/internal/report"
)

var flagReportFormat string

var reportCmd = &cobra.Command{
	Use:   "report <run_id>",
	Short: "Render a run's steps and decisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderReport(args[0])
	},
}

func init() {
	reportCmd.Flags().StringVar(&flagReportFormat, "format", "console", "output format: console or json")
	rootCmd.AddCommand(reportCmd)
}

func renderReport(runID string) error {
	if flagReportFormat != "console" && flagReportFormat != "json" {
		return exitErr(3, capsuleerr.New(capsuleerr.PlanValidationError, fmt.Sprintf("--format must be console or json, got %q", flagReportFormat)))
	}

	cfg, err := config.LoadConfig(&config.RunConfig{DBPath: flagDBPath})
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "invalid configuration", err))
	}

	store, err := openStore(cfg)
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "open audit store", err))
	}
	defer store.Close()

	r, err := report.Build(context.Background(), store, runID)
	if err != nil {
		return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "build report", err))
	}

	if flagReportFormat == "json" {
		data, err := r.JSON()
		if err != nil {
			return exitErr(3, capsuleerr.Wrap(capsuleerr.StorageError, "render JSON report", err))
		}
		_, err = cmdOut().Write(append(data, '\n'))
		return err
	}

	return r.WriteConsole(cmdOut())
}
