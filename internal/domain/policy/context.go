package policy

import (
	"context"
	"time"
)

// EvaluationContext contains everything needed to evaluate one proposed
// tool call against a Policy.
type EvaluationContext struct {
	// RunID identifies the run this call belongs to.
	RunID string
	// StepIndex is the zero-based position of this call within its run.
	StepIndex int

	// ToolName is the dotted tool name being invoked, e.g. "fs.read".
	ToolName string
	// ToolArguments are the arguments passed to the tool.
	ToolArguments map[string]any
	// WorkingDir is the run's working directory, used to resolve relative
	// fs.* paths before they are matched against allow/deny lists.
	WorkingDir string
	// RequestTime is when the tool call was proposed.
	RequestTime time.Time

	// Counters tracks how many times each tool has already been called in
	// this run, for max_calls_per_tool enforcement. Keyed by tool name.
	Counters map[string]uint32

	// Destination fields, exposed to custom_rules conditions as dest_*.
	// The orchestrators do not set them, so they are empty unless the
	// caller fills them in.
	DestDomain  string
	DestIP      string
	DestPort    int
	DestScheme  string
	DestPath    string
	DestCommand string
}

// policyDecisionKey is the context key type for policy decisions.
type policyDecisionKey struct{}

// WithDecision stores a policy decision in the context so downstream
// stages of the orchestrator (execution, audit recording) can read back the
// decision a policy evaluation stage made without re-evaluating it.
func WithDecision(ctx context.Context, d *Decision) context.Context {
	return context.WithValue(ctx, policyDecisionKey{}, d)
}

// DecisionFromContext retrieves a policy decision from the context.
// Returns nil if no decision is stored.
func DecisionFromContext(ctx context.Context) *Decision {
	d, _ := ctx.Value(policyDecisionKey{}).(*Decision)
	return d
}
