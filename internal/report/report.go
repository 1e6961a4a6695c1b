// Package report assembles a human- or machine-readable summary of one
// run from the audit store: its steps, their policy decisions, and their
// results.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/capsule-rt/capsule/internal/canonical"
	"github.com/capsule-rt/capsule/internal/domain/audit"
)

// StepReport is one step's call joined with its result.
type StepReport struct {
	StepIndex  int            `json:"step_index"`
	ToolName   string         `json:"tool_name"`
	Args       map[string]any `json:"args"`
	Status     string         `json:"status"`
	Allowed    bool           `json:"allowed"`
	RuleHit    string         `json:"rule_hit,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	HelpText   string         `json:"help_text,omitempty"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	InputHash  string         `json:"input_hash"`
	OutputHash string         `json:"output_hash,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// ProposalReport is one agent-mode planner iteration.
type ProposalReport struct {
	Iteration    int    `json:"iteration"`
	ProposalType string `json:"proposal_type"`
	ToolName     string `json:"tool_name,omitempty"`
	Reasoning    string `json:"reasoning,omitempty"`
}

// Report is the full assembled view of one run.
type Report struct {
	RunID          string           `json:"run_id"`
	Mode           audit.Mode       `json:"mode"`
	Status         string           `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	TotalSteps     int              `json:"total_steps"`
	CompletedSteps int              `json:"completed_steps"`
	DeniedSteps    int              `json:"denied_steps"`
	FailedSteps    int              `json:"failed_steps"`
	PlanHash       string           `json:"plan_hash"`
	PolicyHash     string           `json:"policy_hash"`
	Steps          []StepReport     `json:"steps"`
	Proposals      []ProposalReport `json:"proposals,omitempty"`
}

// Build loads runID from store and assembles its Report. Calls are joined
// to results by call_id; a call missing a result (should not happen for a
// completed run) is reported with status "missing_result" rather than
// dropped, so gaps are visible instead of silently shrinking the report.
func Build(ctx context.Context, store audit.Store, runID string) (*Report, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("report: load run %s: %w", runID, err)
	}
	calls, err := store.CallsForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("report: load calls: %w", err)
	}
	results, err := store.ResultsForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("report: load results: %w", err)
	}

	sort.Slice(calls, func(i, j int) bool { return calls[i].StepIndex < calls[j].StepIndex })

	steps := make([]StepReport, 0, len(calls))
	for _, call := range calls {
		sr := StepReport{
			StepIndex: call.StepIndex,
			ToolName:  call.ToolName,
			Args:      call.Args,
		}
		result, ok := results[call.CallID]
		if !ok {
			sr.Status = "missing_result"
			steps = append(steps, sr)
			continue
		}
		sr.Status = result.Status
		sr.Allowed = result.Decision.Allowed
		sr.RuleHit = result.Decision.RuleHit
		sr.Reason = result.Decision.Reason
		sr.HelpText = result.Decision.HelpText
		sr.Output = result.Output
		sr.Error = result.Error
		sr.InputHash = result.InputHash
		sr.OutputHash = result.OutputHash
		sr.DurationMs = result.EndedAt.Sub(result.StartedAt).Milliseconds()
		steps = append(steps, sr)
	}

	var proposalReports []ProposalReport
	if run.Mode == audit.ModeAgent {
		proposals, err := store.ProposalsForRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("report: load proposals: %w", err)
		}
		for _, p := range proposals {
			proposalReports = append(proposalReports, ProposalReport{
				Iteration:    p.Iteration,
				ProposalType: string(p.ProposalType),
				ToolName:     p.ToolName,
				Reasoning:    p.Reasoning,
			})
		}
	}

	return &Report{
		RunID:          run.RunID,
		Mode:           run.Mode,
		Status:         string(run.Status),
		CreatedAt:      run.CreatedAt,
		TotalSteps:     run.TotalSteps,
		CompletedSteps: run.CompletedSteps,
		DeniedSteps:    run.DeniedSteps,
		FailedSteps:    run.FailedSteps,
		PlanHash:       run.PlanHash,
		PolicyHash:     run.PolicyHash,
		Steps:          steps,
		Proposals:      proposalReports,
	}, nil
}

// JSON renders r as canonical JSON, matching the hashing format used
// elsewhere so a report's bytes are themselves reproducible.
func (r *Report) JSON() ([]byte, error) {
	return canonical.Marshal(r)
}

// WriteConsole renders a human-readable summary to w: a run header
// followed by one tabwriter row per step.
func (r *Report) WriteConsole(w io.Writer) error {
	fmt.Fprintf(w, "run %s  mode=%s  status=%s\n", r.RunID, r.Mode, r.Status)
	fmt.Fprintf(w, "steps: %d total, %d completed, %d denied, %d failed\n\n",
		r.TotalSteps, r.CompletedSteps, r.DeniedSteps, r.FailedSteps)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tTOOL\tSTATUS\tDECISION\tREASON\tDURATION")
	for _, s := range r.Steps {
		decision := "allow"
		if !s.Allowed {
			decision = "deny"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%dms\n",
			s.StepIndex, s.ToolName, s.Status, decision, reasonOrHelp(s), s.DurationMs)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Proposals) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nplanner proposals:")
	ptw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(ptw, "ITER\tTYPE\tTOOL\tREASONING")
	for _, p := range r.Proposals {
		fmt.Fprintf(ptw, "%d\t%s\t%s\t%s\n", p.Iteration, p.ProposalType, p.ToolName, p.Reasoning)
	}
	return ptw.Flush()
}

func reasonOrHelp(s StepReport) string {
	if s.Reason != "" {
		return s.Reason
	}
	return s.HelpText
}
