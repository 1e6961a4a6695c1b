package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/capsule-rt/capsule/internal/domain/audit"
)

// PlannerState is everything a Planner sees before proposing its next
// step. Implementations must treat it as read-only and must not retain
// references across calls — the agent loop rebuilds it fresh every
// iteration.
type PlannerState struct {
	Task          string
	ToolSchemas   map[string]json.RawMessage
	PolicySummary string
	History       []HistoryItem
	Iteration     int
}

// HistoryItem is the compact record of one past iteration a Planner is
// shown: enough to avoid repeating a denied or failed call, not the full
// tool output.
type HistoryItem struct {
	ToolName        string
	InputHashPrefix string
	Status          string // "denied", "success", or "error"
	Excerpt         string
}

// StepResult is what the agent loop feeds back to the Planner as
// last_result.
type StepResult struct {
	ToolName string
	Status   string
	Output   any
	Error    string
	Reason   string
}

// Proposal is a Planner's output for one iteration: either a ToolCall
// (ToolName/Args populated) or Done (FinalOutput/Reason populated).
// Raw preserves the planner's unparsed response, recorded unconditionally
// even when the proposal itself is malformed.
type Proposal struct {
	Type        audit.ProposalType
	ToolName    string
	Args        map[string]any
	Reasoning   string
	FinalOutput string
	Reason      string
	Raw         string
}

// Planner is the abstract collaborator the Agent Orchestrator drives. It
// must be side-effect-free beyond its own I/O (e.g. an LLM call) and
// idempotent with respect to state: the agent loop is the only thing that
// may mutate run state between calls.
type Planner interface {
	ProposeNext(ctx context.Context, state PlannerState, lastResult *StepResult) (Proposal, error)
}
