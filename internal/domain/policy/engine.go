package policy

import "context"

// Engine evaluates a proposed tool call against a loaded Policy and returns
// the Decision to allow or deny it. Implementations must be deny-by-default:
// any tool, argument, or destination the Policy does not explicitly admit is
// denied.
type Engine interface {
	Evaluate(ctx context.Context, policy *Policy, evalCtx EvaluationContext) (Decision, error)
}
