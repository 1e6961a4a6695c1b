package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/capsule-rt/capsule/internal/canonical"
	"github.com/capsule-rt/capsule/internal/domain/audit"
	"github.com/capsule-rt/capsule/internal/domain/policy"
	"github.com/capsule-rt/capsule/internal/domain/tool"
)

// fakeStore is an in-memory audit.Store used to unit-test orchestrators
// without a real database.
type fakeStore struct {
	mu         sync.Mutex
	runs       map[string]*audit.Run
	calls      map[string][]audit.ToolCall
	results    map[string]map[string]audit.ToolResult
	proposals  map[string][]audit.PlannerProposal
	nextCallID int
	nextRunID  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:      make(map[string]*audit.Run),
		calls:     make(map[string][]audit.ToolCall),
		results:   make(map[string]map[string]audit.ToolResult),
		proposals: make(map[string][]audit.PlannerProposal),
	}
}

func (s *fakeStore) CreateRun(ctx context.Context, planJSON, policyJSON string, mode audit.Mode, totalSteps int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRunID++
	runID := fmt.Sprintf("run%d", s.nextRunID)
	s.runs[runID] = &audit.Run{
		RunID:      runID,
		CreatedAt:  time.Now(),
		PlanHash:   canonical.HashBytes([]byte(planJSON)),
		PolicyHash: canonical.HashBytes([]byte(policyJSON)),
		PlanJSON:   planJSON,
		PolicyJSON: policyJSON,
		Mode:       mode,
		Status:     audit.RunPending,
		TotalSteps: totalSteps,
	}
	return runID, nil
}

func (s *fakeStore) RecordCall(ctx context.Context, runID string, stepIndex int, toolName string, args map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCallID++
	callID := fmt.Sprintf("call%d", s.nextCallID)
	s.calls[runID] = append(s.calls[runID], audit.ToolCall{
		CallID: callID, RunID: runID, StepIndex: stepIndex, ToolName: toolName, Args: args, CreatedAt: time.Now(),
	})
	return callID, nil
}

func (s *fakeStore) RecordResult(ctx context.Context, callID, runID, status string, output any, errMsg string, decision policy.Decision, startedAt, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var argsJSON []byte
	for _, c := range s.calls[runID] {
		if c.CallID == callID {
			argsJSON, _ = canonical.Marshal(c.Args)
		}
	}
	outputJSON, _ := canonical.Marshal(output)
	if s.results[runID] == nil {
		s.results[runID] = make(map[string]audit.ToolResult)
	}
	s.results[runID][callID] = audit.ToolResult{
		CallID: callID, RunID: runID, Status: status, Output: output, Error: errMsg, Decision: decision,
		StartedAt: startedAt, EndedAt: endedAt,
		InputHash:  canonical.HashBytes(argsJSON),
		OutputHash: canonical.HashBytes(outputJSON),
	}
	return nil
}

func (s *fakeStore) UpdateRunStatus(ctx context.Context, runID string, status audit.RunStatus, completedSteps, deniedSteps, failedSteps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("fakeStore: run %s not found", runID)
	}
	r.Status = status
	r.CompletedSteps = completedSteps
	r.DeniedSteps = deniedSteps
	r.FailedSteps = failedSteps
	return nil
}

func (s *fakeStore) RecordPlannerProposal(ctx context.Context, p audit.PlannerProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.RunID] = append(s.proposals[p.RunID], p)
	return nil
}

func (s *fakeStore) VerifyRun(ctx context.Context, runID string) (audit.VerifyResult, error) {
	return audit.VerifyResult{OK: true}, nil
}

func (s *fakeStore) GetRun(ctx context.Context, runID string) (*audit.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("fakeStore: run %s not found", runID)
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) ListRuns(ctx context.Context, limit int) ([]audit.Run, error) {
	return nil, nil
}

func (s *fakeStore) CallsForRun(ctx context.Context, runID string) ([]audit.ToolCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.ToolCall(nil), s.calls[runID]...), nil
}

func (s *fakeStore) ResultsForRun(ctx context.Context, runID string) (map[string]audit.ToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]audit.ToolResult, len(s.results[runID]))
	for k, v := range s.results[runID] {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) ProposalsForRun(ctx context.Context, runID string) ([]audit.PlannerProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.PlannerProposal(nil), s.proposals[runID]...), nil
}

func (s *fakeStore) Close() error { return nil }

var _ audit.Store = (*fakeStore)(nil)

// fakeEngine evaluates by a fixed per-tool allow/deny table, bypassing
// the real structured policy rules — orchestrator tests exercise control
// flow, not rule matching (that's policyeval's job).
type fakeEngine struct {
	deny map[string]string // tool name -> deny reason; absent means allow
}

func (e *fakeEngine) Evaluate(ctx context.Context, pol *policy.Policy, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	if reason, ok := e.deny[evalCtx.ToolName]; ok {
		return policy.Decision{Allowed: false, RuleHit: "fake_deny", Reason: reason}, nil
	}
	return policy.Decision{Allowed: true}, nil
}

var _ policy.Engine = (*fakeEngine)(nil)

// fakeTool returns a fixed Output for every call, recording the args it
// was invoked with so tests can assert on them.
type fakeTool struct {
	name     string
	out      tool.Output
	lastArgs map[string]any
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return "fake tool" }
func (t *fakeTool) Schema() json.RawMessage { return json.RawMessage(`{}`) }
func (t *fakeTool) Execute(ctx context.Context, args map[string]any) tool.Output {
	t.lastArgs = args
	return t.out
}

var _ tool.Tool = (*fakeTool)(nil)
