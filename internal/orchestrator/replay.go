package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/capsule-rt/capsule/internal/canonical"
	"github.com/capsule-rt/capsule/internal/domain/audit"
	"github.com/capsule-rt/capsule/internal/metrics"
)

// ReplayResult is the outcome of replaying one origin run. PlanHashMismatch
// is informational (the origin plan_json no longer hashes to its recorded
// plan_hash); Mismatches entries produced by a per-call hash comparison are
// fatal and are also returned as an error from Replay.
type ReplayResult struct {
	RunID            string
	OriginRunID      string
	PlanHashMismatch bool
	Mismatches       []string
	CompletedSteps   int
	DeniedSteps      int
	FailedSteps      int
}

// ReplayEngine reconstructs a run from its audit trail without touching
// the Policy Engine or any tool: every call and result is copied verbatim
// from the origin run, re-hashed, and compared.
type ReplayEngine struct {
	Store   audit.Store
	Metrics *metrics.Metrics // optional; nil disables metrics recording
}

// NewReplayEngine builds a ReplayEngine over store.
func NewReplayEngine(store audit.Store) *ReplayEngine {
	return &ReplayEngine{Store: store}
}

// Replay loads originRunID, creates a new run in mode=replay with the
// same plan and policy, and replays each step's recorded result in order.
// A mismatch between an origin hash and its recomputed replay hash is a
// fatal ReplayError; a plan_hash mismatch against the origin's own stored
// plan_json is reported but does not abort the replay.
func (e *ReplayEngine) Replay(ctx context.Context, originRunID string) (*ReplayResult, error) {
	origin, err := e.Store.GetRun(ctx, originRunID)
	if err != nil {
		return nil, fmt.Errorf("replay: load origin run %s: %w", originRunID, err)
	}
	calls, err := e.Store.CallsForRun(ctx, originRunID)
	if err != nil {
		return nil, fmt.Errorf("replay: load origin calls: %w", err)
	}
	originResults, err := e.Store.ResultsForRun(ctx, originRunID)
	if err != nil {
		return nil, fmt.Errorf("replay: load origin results: %w", err)
	}

	result := &ReplayResult{OriginRunID: originRunID}
	if got := canonical.HashBytes([]byte(origin.PlanJSON)); got != origin.PlanHash {
		result.PlanHashMismatch = true
	}

	newRunID, err := e.Store.CreateRun(ctx, origin.PlanJSON, origin.PolicyJSON, audit.ModeReplay, len(calls))
	if err != nil {
		return nil, fmt.Errorf("replay: create replay run: %w", err)
	}
	result.RunID = newRunID

	if err := e.Store.UpdateRunStatus(ctx, newRunID, audit.RunRunning, 0, 0, 0); err != nil {
		return nil, fmt.Errorf("replay: mark replay run running: %w", err)
	}

	newCallIDs := make([]string, len(calls))
	for i, call := range calls {
		originResult, ok := originResults[call.CallID]
		if !ok {
			e.fail(ctx, newRunID, result)
			return nil, fmt.Errorf("replay: origin call %s has no recorded result", call.CallID)
		}

		newCallID, err := e.Store.RecordCall(ctx, newRunID, call.StepIndex, call.ToolName, call.Args)
		if err != nil {
			e.fail(ctx, newRunID, result)
			return nil, fmt.Errorf("replay: record call %d: %w", call.StepIndex, err)
		}
		newCallIDs[i] = newCallID

		now := time.Now().UTC()
		if err := e.Store.RecordResult(ctx, newCallID, newRunID, originResult.Status, originResult.Output, originResult.Error, originResult.Decision, now, now); err != nil {
			e.fail(ctx, newRunID, result)
			return nil, fmt.Errorf("replay: record result %d: %w", call.StepIndex, err)
		}

		switch originResult.Status {
		case audit.StatusSuccess:
			result.CompletedSteps++
		case audit.StatusDenied:
			result.DeniedSteps++
		case audit.StatusError:
			result.FailedSteps++
		}
	}

	newResults, err := e.Store.ResultsForRun(ctx, newRunID)
	if err != nil {
		e.fail(ctx, newRunID, result)
		return nil, fmt.Errorf("replay: load replay results: %w", err)
	}

	for i, call := range calls {
		originResult := originResults[call.CallID]
		newResult := newResults[newCallIDs[i]]
		if newResult.InputHash != originResult.InputHash {
			result.Mismatches = append(result.Mismatches, fmt.Sprintf("step %d: input_hash differs from origin call %s", call.StepIndex, call.CallID))
		}
		if newResult.OutputHash != originResult.OutputHash {
			result.Mismatches = append(result.Mismatches, fmt.Sprintf("step %d: output_hash differs from origin call %s", call.StepIndex, call.CallID))
		}
	}

	if len(result.Mismatches) > 0 {
		if e.Metrics != nil {
			e.Metrics.ReplayMismatches.Add(float64(len(result.Mismatches)))
		}
		e.fail(ctx, newRunID, result)
		return result, fmt.Errorf("replay: %d hash mismatch(es) against origin run %s", len(result.Mismatches), originRunID)
	}

	if err := e.Store.UpdateRunStatus(ctx, newRunID, audit.RunCompleted, result.CompletedSteps, result.DeniedSteps, result.FailedSteps); err != nil {
		return nil, fmt.Errorf("replay: mark replay run completed: %w", err)
	}
	return result, nil
}

func (e *ReplayEngine) fail(ctx context.Context, runID string, result *ReplayResult) {
	_ = e.Store.UpdateRunStatus(ctx, runID, audit.RunFailed, result.CompletedSteps, result.DeniedSteps, result.FailedSteps)
}
