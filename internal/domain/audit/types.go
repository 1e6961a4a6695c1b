// Package audit contains the domain types for Capsule's append-only
// audit log: runs, tool calls, tool results, and planner proposals.
package audit

import (
	"time"

	"github.com/capsule-rt/capsule/internal/domain/policy"
)

// Status values a ToolResult can carry.
const (
	StatusSuccess = "success"
	StatusDenied  = "denied"
	StatusError   = "error"
)

// Mode identifies how a Run was produced.
type Mode string

const (
	ModeRun    Mode = "run"
	ModeReplay Mode = "replay"
	ModeAgent  Mode = "agent"
)

// RunStatus is the lifecycle state of a Run. Transitions are monotonic:
// pending -> running -> {completed, failed}.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one execution of a plan (or an agent session, or a replay).
// plan_json and policy_json are stored verbatim so a run can be replayed
// without any other file on disk.
type Run struct {
	RunID          string     `json:"run_id"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	PlanHash       string     `json:"plan_hash"`
	PolicyHash     string     `json:"policy_hash"`
	PlanJSON       string     `json:"plan_json"`
	PolicyJSON     string     `json:"policy_json"`
	Mode           Mode       `json:"mode"`
	Status         RunStatus  `json:"status"`
	TotalSteps     int        `json:"total_steps"`
	CompletedSteps int        `json:"completed_steps"`
	DeniedSteps    int        `json:"denied_steps"`
	FailedSteps    int        `json:"failed_steps"`
}

// ToolCall is a single proposed invocation within a run. Append-only:
// once recorded it is never updated.
type ToolCall struct {
	CallID    string
	RunID     string
	StepIndex int
	ToolName  string
	Args      map[string]any
	CreatedAt time.Time
}

// ToolResult is the outcome of evaluating and (if allowed) executing a
// ToolCall. Every ToolCall has exactly one ToolResult. The call row and
// its result row are written by two separate inserts, not in one
// transaction, so a reader can see a call whose result is not yet stored.
type ToolResult struct {
	CallID     string
	RunID      string
	Status     string
	Output     any
	Error      string
	Decision   policy.Decision
	StartedAt  time.Time
	EndedAt    time.Time
	InputHash  string
	OutputHash string
}

// ProposalType distinguishes a planner's two possible outputs.
type ProposalType string

const (
	ProposalToolCall ProposalType = "tool_call"
	ProposalDone     ProposalType = "done"
)

// PlannerProposal records one agent-mode planner iteration, including
// malformed proposals: RawResponse preserves the planner's output bytes
// even when they fail to parse into ToolName/ArgsJSON.
type PlannerProposal struct {
	ID           string
	RunID        string
	Iteration    int
	ProposalType ProposalType
	ToolName     string
	ArgsJSON     string
	Reasoning    string
	RawResponse  string
	CreatedAt    time.Time
}

// VerifyResult is the outcome of recomputing and comparing every stored
// hash for a run against its recorded values.
type VerifyResult struct {
	OK         bool
	Mismatches []string
}
