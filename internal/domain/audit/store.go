package audit

import (
	"context"
	"time"

	"github.com/capsule-rt/capsule/internal/domain/policy"
)

// Store is the append-only audit/replay store. Access is a single
// process-wide write lock with concurrent snapshot reads: callers from the
// Plan/Agent Orchestrator and the Replay Engine share one Store per
// database file.
type Store interface {
	// CreateRun computes plan_hash and policy_hash over planJSON/policyJSON
	// exactly as given (callers pass canonical JSON) and inserts a row in
	// state pending.
	CreateRun(ctx context.Context, planJSON, policyJSON string, mode Mode, totalSteps int) (runID string, err error)

	// RecordCall generates a short opaque call id and inserts the call row.
	RecordCall(ctx context.Context, runID string, stepIndex int, toolName string, args map[string]any) (callID string, err error)

	// RecordResult computes input_hash from the previously-stored args and
	// output_hash from output, then inserts the result row.
	RecordResult(ctx context.Context, callID, runID, status string, output any, errMsg string, decision policy.Decision, startedAt, endedAt time.Time) error

	// UpdateRunStatus enforces monotonic status transitions
	// (pending -> running -> {completed, failed}) and updates step counters.
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, completedSteps, deniedSteps, failedSteps int) error

	// RecordPlannerProposal logs one agent-mode planner iteration.
	RecordPlannerProposal(ctx context.Context, p PlannerProposal) error

	// VerifyRun recomputes every row's hashes for runID and compares them
	// against the stored values.
	VerifyRun(ctx context.Context, runID string) (VerifyResult, error)

	// GetRun returns the run metadata for runID.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns returns the most recently created runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// CallsForRun returns the ordered tool calls for a run.
	CallsForRun(ctx context.Context, runID string) ([]ToolCall, error)

	// ResultsForRun returns the tool results for a run, keyed by call id.
	ResultsForRun(ctx context.Context, runID string) (map[string]ToolResult, error)

	// ProposalsForRun returns the agent-mode planner proposals for a run,
	// ordered by iteration.
	ProposalsForRun(ctx context.Context, runID string) ([]PlannerProposal, error)

	// Close releases the underlying database handle.
	Close() error
}
