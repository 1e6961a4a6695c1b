// Package policyeval implements the structured fs/http/shell rule
// evaluation that makes up Capsule's Policy Engine.
package policyeval

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/capsule-rt/capsule/internal/adapter/outbound/celpolicy"
	"github.com/capsule-rt/capsule/internal/domain/policy"
)

// Engine evaluates a proposed tool call against a Policy's structured
// fs/http/shell rules, then against any supplementary custom_rules.
// Evaluation is fail-closed: any internal error is converted to a denial
// before it reaches the caller.
type Engine struct {
	resolver *DNSResolver
	cel      *celpolicy.Evaluator

	mu           sync.Mutex
	httpPolicies map[string]*policy.HttpPolicy // requestID -> policy, for redirect re-evaluation
}

// NewEngine builds an Engine. cel may be nil when a policy has no
// custom_rules to evaluate.
func NewEngine(cel *celpolicy.Evaluator) *Engine {
	return &Engine{resolver: NewDNSResolver(), cel: cel, httpPolicies: make(map[string]*policy.HttpPolicy)}
}

// Evaluate implements policy.Engine.
func (e *Engine) Evaluate(ctx context.Context, pol *policy.Policy, evalCtx policy.EvaluationContext) (decision policy.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision = deny("panic", fmt.Sprintf("policy evaluation failed: %v", r))
			err = nil
		}
	}()

	if pol.Global.MaxCallsPerTool > 0 {
		if evalCtx.Counters[evalCtx.ToolName] >= pol.Global.MaxCallsPerTool {
			return deny("quota_exceeded", "quota exceeded"), nil
		}
	}

	tp, ok := pol.ToolPolicyFor(evalCtx.ToolName)
	if !ok {
		return deny("tool_not_declared", fmt.Sprintf("tool %q has no policy entry; deny-by-default", evalCtx.ToolName)), nil
	}

	var d policy.Decision
	requestID := fmt.Sprintf("%s:%d", evalCtx.RunID, evalCtx.StepIndex)

	switch tp.Kind {
	case policy.KindFsRead:
		d = evaluateFs(tp.Fs, evalCtx.WorkingDir, evalCtx.ToolArguments, false)
	case policy.KindFsWrite:
		d = evaluateFs(tp.Fs, evalCtx.WorkingDir, evalCtx.ToolArguments, true)
	case policy.KindHttpGet:
		result := evaluateHTTP(ctx, e.resolver, tp.Http, requestID, evalCtx.ToolArguments)
		d = result.Decision
		if d.Allowed {
			e.mu.Lock()
			e.httpPolicies[requestID] = tp.Http
			e.mu.Unlock()
		}
	case policy.KindShellRun:
		d = evaluateShell(tp.Shell, evalCtx.ToolArguments)
	default:
		return deny("unknown_kind", fmt.Sprintf("unsupported tool policy kind %q", tp.Kind)), nil
	}

	if !d.Allowed {
		return d, nil
	}

	if len(pol.CustomRules) > 0 && e.cel != nil {
		customDecision, evaluated := e.evaluateCustomRules(pol, evalCtx)
		if evaluated {
			return customDecision, nil
		}
	}

	return d, nil
}

// evaluateCustomRules runs each custom rule in order and returns the first
// one whose condition is true. Returns evaluated=false when no rule fired,
// meaning the structured decision stands.
func (e *Engine) evaluateCustomRules(pol *policy.Policy, evalCtx policy.EvaluationContext) (policy.Decision, bool) {
	for _, rule := range pol.CustomRules {
		prg, err := e.cel.Compile(rule.Condition)
		if err != nil {
			return deny("custom_rule_compile_error", fmt.Sprintf("custom rule %q failed to compile: %v", rule.Name, err)), true
		}
		matched, err := e.cel.Evaluate(prg, evalCtx)
		if err != nil {
			return deny("custom_rule_eval_error", fmt.Sprintf("custom rule %q failed to evaluate: %v", rule.Name, err)), true
		}
		if !matched {
			continue
		}
		return policy.Decision{
			Allowed:  rule.Action == policy.ActionAllow,
			RuleHit:  rule.Name,
			Reason:   fmt.Sprintf("custom rule %q matched", rule.Name),
			RuleName: rule.Name,
			HelpText: rule.HelpText,
		}, true
	}
	return policy.Decision{}, false
}

// ResolvedAddress returns the pinned address for a given requestID, for
// use by the http.get tool after policy evaluation has approved the call.
func (e *Engine) ResolvedAddress(requestID string) (*ResolvedDest, bool) {
	e.resolver.mu.Lock()
	defer e.resolver.mu.Unlock()
	dest, ok := e.resolver.requestPins[requestID]
	return dest, ok
}

// PinnedIP returns the single address pinned for requestID, if any. This
// is the narrow view the http.get tool consumes — it only needs the
// address to dial, not the full resolution record.
func (e *Engine) PinnedIP(requestID string) (net.IP, bool) {
	dest, ok := e.ResolvedAddress(requestID)
	if !ok {
		return nil, false
	}
	return dest.PinnedIP, true
}

// ReleaseAddress drops the DNS pin and any cached redirect policy for a
// completed call (or a completed redirect hop — see EvaluateRedirect).
func (e *Engine) ReleaseAddress(requestID string) {
	e.resolver.Release(requestID)
	e.mu.Lock()
	delete(e.httpPolicies, requestID)
	e.mu.Unlock()
}

// EvaluateRedirect re-validates a redirect target against the HttpPolicy
// recorded for requestID's original call (allow_domains, deny_private_ips)
// and, if allowed, pins a fresh address for it. Each hop gets its own DNS
// pin (requestID plus hop index) so a rebind on one hop cannot leak into
// another; the caller releases that pin via ReleaseAddress once its dial
// for that hop is done.
func (e *Engine) EvaluateRedirect(ctx context.Context, requestID, rawURL string, hop int) (policy.Decision, net.IP) {
	e.mu.Lock()
	httpPolicy, ok := e.httpPolicies[requestID]
	e.mu.Unlock()
	if !ok {
		return deny("redirect_untracked", "no policy recorded for the original request"), nil
	}

	hopID := fmt.Sprintf("%s:redirect:%d", requestID, hop)
	result := evaluateHTTP(ctx, e.resolver, httpPolicy, hopID, map[string]any{"url": rawURL})
	if !result.Decision.Allowed || result.Pinned == nil {
		return result.Decision, nil
	}
	return result.Decision, result.Pinned.PinnedIP
}
