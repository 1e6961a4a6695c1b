package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/capsule-rt/capsule/internal/canonical"
	"github.com/capsule-rt/capsule/internal/ctxkey"
	"github.com/capsule-rt/capsule/internal/domain/audit"
	"github.com/capsule-rt/capsule/internal/domain/policy"
	"github.com/capsule-rt/capsule/internal/domain/tool"
	"github.com/capsule-rt/capsule/internal/metrics"
	"github.com/capsule-rt/capsule/internal/telemetry"
)

// AgentStatus is the terminal state of an agent run, distinct from the
// persisted audit.RunStatus: a run that hit max_iterations or timed out
// still completes its audit.Run as RunCompleted, since those are expected
// stopping points, not storage failures.
type AgentStatus string

const (
	AgentCompleted          AgentStatus = "completed"
	AgentRepetitionDetected AgentStatus = "repetition_detected"
	AgentMaxIterations      AgentStatus = "max_iterations"
	AgentTimeout            AgentStatus = "timeout"
	AgentError              AgentStatus = "error"
)

// AgentConfig bounds one agent session. Zero MaxIterations,
// MaxHistoryItems, MaxHistoryChars and RepetitionThreshold are replaced by
// defaults in NewAgentOrchestrator; a zero timeout disables that bound.
type AgentConfig struct {
	MaxIterations             int
	MaxHistoryItems           int
	MaxHistoryChars           int
	RepetitionThreshold       int
	GlobalTimeoutSeconds      uint32
	IterationTimeoutSeconds   uint32
	ValidateHallucinatedPaths bool
}

func (c AgentConfig) withDefaults() AgentConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 25
	}
	if c.MaxHistoryItems <= 0 {
		c.MaxHistoryItems = 10
	}
	if c.MaxHistoryChars <= 0 {
		c.MaxHistoryChars = 8000
	}
	if c.RepetitionThreshold <= 0 {
		c.RepetitionThreshold = 3
	}
	return c
}

// AgentResult summarizes a finished agent session.
type AgentResult struct {
	RunID          string
	Status         AgentStatus
	FinalOutput    string
	Reason         string
	Iterations     int
	CompletedSteps int
	DeniedSteps    int
	FailedSteps    int
	Warnings       []string
}

// AgentOrchestrator drives the propose/evaluate/execute/learn cycle
// described by the Planner contract. Unlike PlanOrchestrator, the
// sequence of tool calls is not known up front — it is produced one step
// at a time by Planner.ProposeNext.
type AgentOrchestrator struct {
	Store   audit.Store
	Engine  policy.Engine
	Tools   *tool.Registry
	Planner Planner
	Logger  *slog.Logger
	Config  AgentConfig
	Metrics *metrics.Metrics // optional; nil disables metrics recording
}

// NewAgentOrchestrator builds an AgentOrchestrator with defaulted config.
func NewAgentOrchestrator(store audit.Store, engine policy.Engine, tools *tool.Registry, planner Planner, logger *slog.Logger, cfg AgentConfig) *AgentOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentOrchestrator{Store: store, Engine: engine, Tools: tools, Planner: planner, Logger: logger, Config: cfg.withDefaults()}
}

// proposalKey identifies a (tool, args) pair for repetition detection.
// Args are hashed rather than compared as strings so a long window of
// large arguments stays cheap to keep and compare.
type proposalKey struct {
	tool     string
	argsHash uint64
}

// computeProposalKey hashes toolName and canonical-JSON argsJSON the way
// the policy service keys its evaluation cache: a running xxhash digest
// with null-byte separators between fields, so two tools sharing a
// prefix never collide.
func computeProposalKey(toolName string, argsJSON []byte) proposalKey {
	h := xxhash.New()
	_, _ = h.WriteString(toolName)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(argsJSON)
	return proposalKey{tool: toolName, argsHash: h.Sum64()}
}

// Run drives the agent loop to completion: repeated propose/evaluate/
// execute iterations until the Planner signals Done, a repetition or
// iteration/time bound is hit, or an unrecoverable error occurs.
func (o *AgentOrchestrator) Run(ctx context.Context, task string, pol *policy.Policy, workingDir string) (*AgentResult, error) {
	planJSON, err := canonical.Marshal(map[string]any{"mode": "agent", "task": task})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: canonicalize agent plan placeholder: %w", err)
	}
	policyJSON, err := canonical.Marshal(pol)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: canonicalize policy: %w", err)
	}

	runID, err := o.Store.CreateRun(ctx, string(planJSON), string(policyJSON), audit.ModeAgent, 0)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create agent run: %w", err)
	}
	logger := o.Logger.With("run_id", runID)
	ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger)
	ctx = context.WithValue(ctx, ctxkey.RunIDKey{}, runID)

	if err := o.Store.UpdateRunStatus(ctx, runID, audit.RunRunning, 0, 0, 0); err != nil {
		return nil, fmt.Errorf("orchestrator: mark agent run running: %w", err)
	}

	var deadline time.Time
	if o.Config.GlobalTimeoutSeconds > 0 {
		deadline = time.Now().Add(time.Duration(o.Config.GlobalTimeoutSeconds) * time.Second)
	}

	if o.Metrics != nil {
		o.Metrics.ActiveRuns.Inc()
		defer o.Metrics.ActiveRuns.Dec()
	}
	runStarted := time.Now()

	toolSchemas := make(map[string]json.RawMessage)
	for _, name := range o.Tools.Names() {
		impl, _ := o.Tools.Lookup(name)
		toolSchemas[name] = impl.Schema()
	}
	policySummary := summarizePolicy(pol)

	var history []HistoryItem
	var recentProposals []proposalKey
	var lastResult *StepResult
	var accessedPaths []string

	counters := make(map[string]uint32)
	completed, denied, failed := 0, 0, 0
	status := AgentError
	reason := ""
	finalOutput := ""
	iteration := 0

	for {
		if iteration >= o.Config.MaxIterations {
			status = AgentMaxIterations
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			status = AgentTimeout
			break
		}

		proposeCtx := ctx
		var cancel context.CancelFunc
		if o.Config.IterationTimeoutSeconds > 0 {
			proposeCtx, cancel = context.WithTimeout(ctx, time.Duration(o.Config.IterationTimeoutSeconds)*time.Second)
		}

		state := buildState(task, toolSchemas, policySummary, history, iteration, o.Config)
		proposal, proposeErr := o.Planner.ProposeNext(proposeCtx, state, lastResult)
		if cancel != nil {
			cancel()
		}

		if recErr := o.Store.RecordPlannerProposal(ctx, audit.PlannerProposal{
			RunID:        runID,
			Iteration:    iteration,
			ProposalType: proposal.Type,
			ToolName:     proposal.ToolName,
			ArgsJSON:     marshalArgsOrEmpty(proposal.Args),
			Reasoning:    proposal.Reasoning,
			RawResponse:  proposal.Raw,
		}); recErr != nil {
			o.failRun(ctx, runID, completed, denied, failed)
			return nil, fmt.Errorf("orchestrator: record planner proposal %d: %w", iteration, recErr)
		}

		if proposeErr != nil {
			status = AgentError
			reason = proposeErr.Error()
			break
		}

		if proposal.Type == audit.ProposalDone {
			status = AgentCompleted
			finalOutput = proposal.FinalOutput
			reason = proposal.Reason
			break
		}

		argsJSON, err := canonical.Marshal(proposal.Args)
		if err != nil {
			status = AgentError
			reason = fmt.Sprintf("canonicalize proposed args: %v", err)
			break
		}
		recentProposals = append(recentProposals, computeProposalKey(proposal.ToolName, argsJSON))
		if isRepetition(recentProposals, o.Config.RepetitionThreshold) {
			status = AgentRepetitionDetected
			break
		}

		requestID := fmt.Sprintf("%s:%d", runID, iteration)
		callID, err := o.Store.RecordCall(ctx, runID, iteration, proposal.ToolName, proposal.Args)
		if err != nil {
			o.failRun(ctx, runID, completed, denied, failed)
			return nil, fmt.Errorf("orchestrator: record call iteration %d: %w", iteration, err)
		}

		evalCtx := policy.EvaluationContext{
			RunID:         runID,
			StepIndex:     iteration,
			ToolName:      proposal.ToolName,
			ToolArguments: proposal.Args,
			WorkingDir:    workingDir,
			RequestTime:   time.Now(),
			Counters:      counters,
		}
		evalSpanCtx, evalSpan := telemetry.StartPolicyEvaluate(ctx, runID, proposal.ToolName, iteration)
		decision, evalErr := o.Engine.Evaluate(evalSpanCtx, pol, evalCtx)
		if evalErr != nil {
			decision = policy.Decision{Allowed: false, RuleHit: "policy_eval_error", Reason: fmt.Sprintf("policy evaluation failed: %v", evalErr)}
		}
		telemetry.EndWithDecision(evalSpan, decision.Allowed, decision.RuleHit)
		recordDecision(o.Metrics, proposal.ToolName, decision)

		if !decision.Allowed {
			now := time.Now().UTC()
			if err := o.Store.RecordResult(ctx, callID, runID, audit.StatusDenied, nil, "", decision, now, now); err != nil {
				o.failRun(ctx, runID, completed, denied, failed)
				return nil, fmt.Errorf("orchestrator: record denied result iteration %d: %w", iteration, err)
			}
			denied++
			history = append(history, HistoryItem{ToolName: proposal.ToolName, Status: "denied", Excerpt: decision.Reason})
			lastResult = &StepResult{ToolName: proposal.ToolName, Status: "denied", Reason: decision.Reason}
			if releaser, ok := o.Engine.(addressReleaser); ok {
				releaser.ReleaseAddress(requestID)
			}
			iteration++
			continue
		}

		counters[proposal.ToolName]++

		impl, ok := o.Tools.Lookup(proposal.ToolName)
		if !ok {
			now := time.Now().UTC()
			errMsg := fmt.Sprintf("tool %q has no registered implementation", proposal.ToolName)
			if err := o.Store.RecordResult(ctx, callID, runID, audit.StatusError, nil, errMsg, decision, now, now); err != nil {
				o.failRun(ctx, runID, completed, denied, failed)
				return nil, fmt.Errorf("orchestrator: record unregistered-tool result iteration %d: %w", iteration, err)
			}
			failed++
			history = append(history, HistoryItem{ToolName: proposal.ToolName, Status: "error", Excerpt: errMsg})
			lastResult = &StepResult{ToolName: proposal.ToolName, Status: "error", Error: errMsg}
			if releaser, ok := o.Engine.(addressReleaser); ok {
				releaser.ReleaseAddress(requestID)
			}
			iteration++
			continue
		}

		execCtx := context.WithValue(ctx, ctxkey.RequestIDKey{}, requestID)
		execCtx, execSpan := telemetry.StartToolExecute(execCtx, runID, proposal.ToolName, iteration)
		started := time.Now()
		out := impl.Execute(execCtx, proposal.Args)
		ended := time.Now()
		telemetry.EndWithResult(execSpan, out.Success, out.Error)
		if releaser, ok := o.Engine.(addressReleaser); ok {
			releaser.ReleaseAddress(requestID)
		}

		resultStatus := audit.StatusSuccess
		if !out.Success {
			resultStatus = audit.StatusError
		}
		inputHash := canonical.HashOrEmpty(proposal.Args)
		if err := o.Store.RecordResult(ctx, callID, runID, resultStatus, out.Data, out.Error, decision, started.UTC(), ended.UTC()); err != nil {
			o.failRun(ctx, runID, completed, denied, failed)
			return nil, fmt.Errorf("orchestrator: record result iteration %d: %w", iteration, err)
		}
		if o.Metrics != nil {
			o.Metrics.ToolCallsTotal.WithLabelValues(proposal.ToolName, resultStatus).Inc()
		}

		if out.Success {
			completed++
		} else {
			failed++
		}
		if path, ok := proposal.Args["path"].(string); ok {
			accessedPaths = append(accessedPaths, path)
		}
		history = append(history, HistoryItem{
			ToolName:        proposal.ToolName,
			InputHashPrefix: shortHash(inputHash),
			Status:          resultStatus,
			Excerpt:         excerptOutput(out),
		})
		lastResult = &StepResult{ToolName: proposal.ToolName, Status: resultStatus, Output: out.Data, Error: out.Error}
		iteration++
	}

	var warnings []string
	if status == AgentCompleted && o.Config.ValidateHallucinatedPaths {
		warnings = hallucinatedPaths(finalOutput, accessedPaths)
	}

	if err := o.Store.UpdateRunStatus(ctx, runID, finalRunStatus(status), completed, denied, failed); err != nil {
		return nil, fmt.Errorf("orchestrator: mark agent run finished: %w", err)
	}
	if o.Metrics != nil {
		o.Metrics.RunDuration.WithLabelValues("agent").Observe(time.Since(runStarted).Seconds())
	}

	return &AgentResult{
		RunID:          runID,
		Status:         status,
		FinalOutput:    finalOutput,
		Reason:         reason,
		Iterations:     iteration,
		CompletedSteps: completed,
		DeniedSteps:    denied,
		FailedSteps:    failed,
		Warnings:       warnings,
	}, nil
}

func finalRunStatus(s AgentStatus) audit.RunStatus {
	if s == AgentError {
		return audit.RunFailed
	}
	return audit.RunCompleted
}

func (o *AgentOrchestrator) failRun(ctx context.Context, runID string, completed, denied, failed int) {
	if err := o.Store.UpdateRunStatus(ctx, runID, audit.RunFailed, completed, denied, failed); err != nil {
		o.Logger.Error("failed to mark agent run failed after a storage error", "run_id", runID, "error", err)
	}
}

// isRepetition reports whether the last n proposals are identical
// (tool_name, canonical-JSON(args)) pairs.
func isRepetition(proposals []proposalKey, n int) bool {
	if len(proposals) < n {
		return false
	}
	window := proposals[len(proposals)-n:]
	first := window[0]
	for _, p := range window[1:] {
		if p != first {
			return false
		}
	}
	return true
}

// buildState truncates history to at most maxHistoryItems entries
// (oldest dropped first) and to a serialized size under maxHistoryChars,
// dropping oldest items until it fits.
func buildState(task string, schemas map[string]json.RawMessage, policySummary string, history []HistoryItem, iteration int, cfg AgentConfig) PlannerState {
	trimmed := history
	if len(trimmed) > cfg.MaxHistoryItems {
		trimmed = trimmed[len(trimmed)-cfg.MaxHistoryItems:]
	}
	for len(trimmed) > 0 && serializedLen(trimmed) > cfg.MaxHistoryChars {
		trimmed = trimmed[1:]
	}
	return PlannerState{
		Task:          task,
		ToolSchemas:   schemas,
		PolicySummary: policySummary,
		History:       trimmed,
		Iteration:     iteration,
	}
}

func serializedLen(history []HistoryItem) int {
	b, err := json.Marshal(history)
	if err != nil {
		return 0
	}
	return len(b)
}

func summarizePolicy(pol *policy.Policy) string {
	names := make([]string, 0, len(pol.Tools))
	for name := range pol.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func marshalArgsOrEmpty(args map[string]any) string {
	if args == nil {
		return ""
	}
	b, err := canonical.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}

func shortHash(h string) string {
	if len(h) < 8 {
		return h
	}
	return h[:8]
}

const excerptMaxLen = 200

func excerptOutput(out tool.Output) string {
	var text string
	if out.Success {
		b, err := json.Marshal(out.Data)
		if err == nil {
			text = string(b)
		}
	} else {
		text = out.Error
	}
	if len(text) > excerptMaxLen {
		return text[:excerptMaxLen]
	}
	return text
}

// pathLikeToken matches bare words that look like filesystem paths: tokens
// starting with ./, ../ or /, or of the form dir/name, excluding URLs. A
// bare file name with no separator (e.g. README.md) is not matched.
var pathLikeToken = regexp.MustCompile(`(?:^|[\s"'` + "`" + `])((?:\.{1,2}/|/)[\w./-]+|[\w-]+/[\w./-]+)`)

// hallucinatedPaths extracts path-like tokens from finalOutput and
// returns those not present in accessed, each as a human-readable
// warning. This never blocks completion; it only flags a planner claim
// worth a second look.
func hallucinatedPaths(finalOutput string, accessed []string) []string {
	accessedSet := make(map[string]bool, len(accessed))
	for _, p := range accessed {
		accessedSet[p] = true
	}

	seen := make(map[string]bool)
	var warnings []string
	for _, m := range pathLikeToken.FindAllStringSubmatch(finalOutput, -1) {
		candidate := strings.Trim(m[1], ".,;:)")
		if candidate == "" || seen[candidate] || accessedSet[candidate] {
			continue
		}
		seen[candidate] = true
		warnings = append(warnings, fmt.Sprintf("planner referenced %q, which was never accessed by a tool call", candidate))
	}
	return warnings
}
