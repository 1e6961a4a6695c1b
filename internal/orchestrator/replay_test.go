package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/capsule-rt/capsule/internal/adapter/outbound/sqlitestore"
	"github.com/capsule-rt/capsule/internal/domain/audit"
	"github.com/capsule-rt/capsule/internal/domain/policy"
)

func openReplayTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	st, err := sqlitestore.New(filepath.Join(t.TempDir(), "replay.db"))
	if err != nil {
		t.Fatalf("sqlitestore.New() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestReplayEngine_Replay_FidelityOnCleanRun(t *testing.T) {
	ctx := context.Background()
	store := openReplayTestStore(t)

	runID, err := store.CreateRun(ctx, `{"version":"1","steps":[{"tool":"fs.read","args":{"path":"a.txt"}}]}`, `{"tools":{}}`, audit.ModeRun, 1)
	if err != nil {
		t.Fatalf("CreateRun() error: %v", err)
	}
	if err := store.UpdateRunStatus(ctx, runID, audit.RunRunning, 0, 0, 0); err != nil {
		t.Fatalf("UpdateRunStatus() error: %v", err)
	}
	callID, err := store.RecordCall(ctx, runID, 0, "fs.read", map[string]any{"path": "a.txt"})
	if err != nil {
		t.Fatalf("RecordCall() error: %v", err)
	}
	now := time.Now()
	if err := store.RecordResult(ctx, callID, runID, audit.StatusSuccess, map[string]any{"content": "hi"}, "", policy.Decision{Allowed: true}, now, now); err != nil {
		t.Fatalf("RecordResult() error: %v", err)
	}
	if err := store.UpdateRunStatus(ctx, runID, audit.RunCompleted, 1, 0, 0); err != nil {
		t.Fatalf("UpdateRunStatus() error: %v", err)
	}

	engine := NewReplayEngine(store)
	result, err := engine.Replay(ctx, runID)
	if err != nil {
		t.Fatalf("Replay() error: %v", err)
	}
	if result.PlanHashMismatch {
		t.Error("unexpected plan hash mismatch on an untampered run")
	}
	if len(result.Mismatches) != 0 {
		t.Errorf("unexpected mismatches: %v", result.Mismatches)
	}
	if result.CompletedSteps != 1 {
		t.Errorf("CompletedSteps = %d, want 1", result.CompletedSteps)
	}

	replayedCalls, err := store.CallsForRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("CallsForRun() error: %v", err)
	}
	if len(replayedCalls) != 1 {
		t.Fatalf("expected 1 replayed call, got %d", len(replayedCalls))
	}

	replayedRun, err := store.GetRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if replayedRun.Mode != audit.ModeReplay {
		t.Errorf("Mode = %v, want replay", replayedRun.Mode)
	}
	if replayedRun.Status != audit.RunCompleted {
		t.Errorf("Status = %v, want completed", replayedRun.Status)
	}
}

func TestReplayEngine_Replay_VerifiedOriginReplaysClean(t *testing.T) {
	ctx := context.Background()
	store := openReplayTestStore(t)

	runID, _ := store.CreateRun(ctx, `{"version":"1","steps":[]}`, `{"tools":{}}`, audit.ModeRun, 1)
	store.UpdateRunStatus(ctx, runID, audit.RunRunning, 0, 0, 0)
	callID, _ := store.RecordCall(ctx, runID, 0, "fs.read", map[string]any{"path": "a.txt"})
	now := time.Now()
	store.RecordResult(ctx, callID, runID, audit.StatusSuccess, map[string]any{"content": "hi"}, "", policy.Decision{Allowed: true}, now, now)
	store.UpdateRunStatus(ctx, runID, audit.RunCompleted, 1, 0, 0)

	verify, err := store.VerifyRun(ctx, runID)
	if err != nil || !verify.OK {
		t.Fatalf("origin run should verify clean before replay: ok=%v err=%v", verify.OK, err)
	}

	engine := NewReplayEngine(store)
	result, err := engine.Replay(ctx, runID)
	if err != nil {
		t.Fatalf("Replay() of an untampered run should succeed: %v", err)
	}
	if len(result.Mismatches) != 0 {
		t.Errorf("unexpected mismatches on untampered replay: %v", result.Mismatches)
	}
}

func TestReplayEngine_Replay_OriginNotFound(t *testing.T) {
	store := openReplayTestStore(t)
	engine := NewReplayEngine(store)
	if _, err := engine.Replay(context.Background(), "doesnotexist"); err == nil {
		t.Fatal("expected an error replaying a nonexistent run")
	}
}
