// Package orchestrator drives plans and agent sessions through the
// propose/evaluate/execute cycle, recording every step to the audit store.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/capsule-rt/capsule/internal/canonical"
	"github.com/capsule-rt/capsule/internal/ctxkey"
	"github.com/capsule-rt/capsule/internal/domain/audit"
	"github.com/capsule-rt/capsule/internal/domain/plan"
	"github.com/capsule-rt/capsule/internal/domain/policy"
	"github.com/capsule-rt/capsule/internal/domain/tool"
	"github.com/capsule-rt/capsule/internal/metrics"
	"github.com/capsule-rt/capsule/internal/telemetry"
)

// addressReleaser is implemented by policy engines that pin DNS
// resolutions per call (policyeval.Engine); the orchestrator releases the
// pin once a call's result has been recorded, whether or not the tool
// actually used it.
type addressReleaser interface {
	ReleaseAddress(requestID string)
}

// RunResult summarizes a finished plan run for the CLI to map to an exit
// code; it never carries enough detail to skip reading the audit store for
// reporting.
type RunResult struct {
	RunID          string
	Status         audit.RunStatus
	TotalSteps     int
	CompletedSteps int
	DeniedSteps    int
	FailedSteps    int
}

// PlanOrchestrator drives a linear plan: propose (already fixed, from the
// plan file), evaluate, execute, record — strictly in step order, per
// spec's single-threaded-cooperative-within-a-run model.
type PlanOrchestrator struct {
	Store   audit.Store
	Engine  policy.Engine
	Tools   *tool.Registry
	Logger  *slog.Logger
	Metrics *metrics.Metrics // optional; nil disables metrics recording
}

// NewPlanOrchestrator builds a PlanOrchestrator. logger may be nil, in
// which case slog.Default() is used.
func NewPlanOrchestrator(store audit.Store, engine policy.Engine, tools *tool.Registry, logger *slog.Logger) *PlanOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanOrchestrator{Store: store, Engine: engine, Tools: tools, Logger: logger}
}

// Run executes p's steps in order against pol, recording every call and
// result to the audit store. failFast halts after the first non-success
// step (denied or errored); otherwise the run continues to the end
// regardless of individual step outcomes.
func (o *PlanOrchestrator) Run(ctx context.Context, p *plan.Plan, pol *policy.Policy, workingDir string, failFast bool) (*RunResult, error) {
	planJSON, err := canonical.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: canonicalize plan: %w", err)
	}
	policyJSON, err := canonical.Marshal(pol)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: canonicalize policy: %w", err)
	}

	runID, err := o.Store.CreateRun(ctx, string(planJSON), string(policyJSON), audit.ModeRun, len(p.Steps))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create run: %w", err)
	}
	logger := o.Logger.With("run_id", runID)
	ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger)
	ctx = context.WithValue(ctx, ctxkey.RunIDKey{}, runID)

	if err := o.Store.UpdateRunStatus(ctx, runID, audit.RunRunning, 0, 0, 0); err != nil {
		return nil, fmt.Errorf("orchestrator: mark run running: %w", err)
	}

	var deadline time.Time
	if pol.Global.GlobalTimeoutSeconds > 0 {
		deadline = time.Now().Add(time.Duration(pol.Global.GlobalTimeoutSeconds) * time.Second)
	}

	if o.Metrics != nil {
		o.Metrics.ActiveRuns.Inc()
		defer o.Metrics.ActiveRuns.Dec()
	}
	runStarted := time.Now()

	counters := make(map[string]uint32)
	completed, denied, failed := 0, 0, 0

	for i, step := range p.Steps {
		requestID := fmt.Sprintf("%s:%d", runID, i)

		callID, err := o.Store.RecordCall(ctx, runID, i, step.Tool, step.Args)
		if err != nil {
			o.failRun(ctx, runID, completed, denied, failed)
			return nil, fmt.Errorf("orchestrator: record call %d: %w", i, err)
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			decision := policy.Decision{Allowed: false, RuleHit: "global_timeout_seconds", Reason: "global timeout exceeded"}
			now := time.Now().UTC()
			if err := o.Store.RecordResult(ctx, callID, runID, audit.StatusDenied, nil, "", decision, now, now); err != nil {
				o.failRun(ctx, runID, completed, denied, failed)
				return nil, fmt.Errorf("orchestrator: record timeout result %d: %w", i, err)
			}
			denied++
			logger.Warn("step denied: global timeout exceeded", "step", i, "tool", step.Tool)
			if failFast {
				break
			}
			continue
		}

		evalCtx := policy.EvaluationContext{
			RunID:         runID,
			StepIndex:     i,
			ToolName:      step.Tool,
			ToolArguments: step.Args,
			WorkingDir:    workingDir,
			RequestTime:   time.Now(),
			Counters:      counters,
		}
		evalSpanCtx, evalSpan := telemetry.StartPolicyEvaluate(ctx, runID, step.Tool, i)
		decision, evalErr := o.Engine.Evaluate(evalSpanCtx, pol, evalCtx)
		if evalErr != nil {
			decision = policy.Decision{Allowed: false, RuleHit: "policy_eval_error", Reason: fmt.Sprintf("policy evaluation failed: %v", evalErr)}
		}
		telemetry.EndWithDecision(evalSpan, decision.Allowed, decision.RuleHit)
		o.recordDecision(step.Tool, decision)

		if !decision.Allowed {
			now := time.Now().UTC()
			if err := o.Store.RecordResult(ctx, callID, runID, audit.StatusDenied, nil, "", decision, now, now); err != nil {
				o.failRun(ctx, runID, completed, denied, failed)
				return nil, fmt.Errorf("orchestrator: record denied result %d: %w", i, err)
			}
			denied++
			logger.Info("step denied", "step", i, "tool", step.Tool, "rule_hit", decision.RuleHit, "reason", decision.Reason)
			if releaser, ok := o.Engine.(addressReleaser); ok {
				releaser.ReleaseAddress(requestID)
			}
			if failFast {
				break
			}
			continue
		}

		counters[step.Tool]++

		impl, ok := o.Tools.Lookup(step.Tool)
		if !ok {
			now := time.Now().UTC()
			errMsg := fmt.Sprintf("tool %q has no registered implementation", step.Tool)
			if err := o.Store.RecordResult(ctx, callID, runID, audit.StatusError, nil, errMsg, decision, now, now); err != nil {
				o.failRun(ctx, runID, completed, denied, failed)
				return nil, fmt.Errorf("orchestrator: record unregistered-tool result %d: %w", i, err)
			}
			failed++
			logger.Error("step errored: tool not registered", "step", i, "tool", step.Tool)
			if releaser, ok := o.Engine.(addressReleaser); ok {
				releaser.ReleaseAddress(requestID)
			}
			if failFast {
				break
			}
			continue
		}

		execCtx := context.WithValue(ctx, ctxkey.RequestIDKey{}, requestID)
		execCtx, execSpan := telemetry.StartToolExecute(execCtx, runID, step.Tool, i)
		started := time.Now()
		out := impl.Execute(execCtx, step.Args)
		ended := time.Now()
		telemetry.EndWithResult(execSpan, out.Success, out.Error)

		if releaser, ok := o.Engine.(addressReleaser); ok {
			releaser.ReleaseAddress(requestID)
		}

		status := audit.StatusSuccess
		if !out.Success {
			status = audit.StatusError
		}
		if err := o.Store.RecordResult(ctx, callID, runID, status, out.Data, out.Error, decision, started.UTC(), ended.UTC()); err != nil {
			o.failRun(ctx, runID, completed, denied, failed)
			return nil, fmt.Errorf("orchestrator: record result %d: %w", i, err)
		}
		if o.Metrics != nil {
			o.Metrics.ToolCallsTotal.WithLabelValues(step.Tool, status).Inc()
		}

		if out.Success {
			completed++
			logger.Info("step succeeded", "step", i, "tool", step.Tool, "duration_ms", ended.Sub(started).Milliseconds())
		} else {
			failed++
			logger.Warn("step errored", "step", i, "tool", step.Tool, "error", out.Error)
			if failFast {
				break
			}
		}
	}

	if err := o.Store.UpdateRunStatus(ctx, runID, audit.RunCompleted, completed, denied, failed); err != nil {
		return nil, fmt.Errorf("orchestrator: mark run completed: %w", err)
	}
	if o.Metrics != nil {
		o.Metrics.RunDuration.WithLabelValues("run").Observe(time.Since(runStarted).Seconds())
	}

	return &RunResult{
		RunID:          runID,
		Status:         audit.RunCompleted,
		TotalSteps:     len(p.Steps),
		CompletedSteps: completed,
		DeniedSteps:    denied,
		FailedSteps:    failed,
	}, nil
}

func (o *PlanOrchestrator) failRun(ctx context.Context, runID string, completed, denied, failed int) {
	if err := o.Store.UpdateRunStatus(ctx, runID, audit.RunFailed, completed, denied, failed); err != nil {
		o.Logger.Error("failed to mark run failed after a storage error", "run_id", runID, "error", err)
	}
}

func (o *PlanOrchestrator) recordDecision(toolName string, decision policy.Decision) {
	recordDecision(o.Metrics, toolName, decision)
}

// recordDecision is shared by PlanOrchestrator and AgentOrchestrator; m may
// be nil, in which case this is a no-op.
func recordDecision(m *metrics.Metrics, toolName string, decision policy.Decision) {
	if m == nil {
		return
	}
	label := "allow"
	if !decision.Allowed {
		label = "deny"
	}
	m.PolicyDecisions.WithLabelValues(toolName, label).Inc()
	if decision.RuleHit == "quota_exceeded" {
		m.QuotaExceeded.WithLabelValues(toolName).Inc()
	}
}
