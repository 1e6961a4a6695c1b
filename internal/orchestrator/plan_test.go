package orchestrator

import (
	"context"
	"testing"

	"github.com/capsule-rt/capsule/internal/domain/audit"
	"github.com/capsule-rt/capsule/internal/domain/plan"
	"github.com/capsule-rt/capsule/internal/domain/policy"
	"github.com/capsule-rt/capsule/internal/domain/tool"
)

func newTestPlan(steps ...plan.Step) *plan.Plan {
	return &plan.Plan{Version: "1", Steps: steps}
}

func TestPlanOrchestrator_Run_AllSucceed(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{}
	ft := &fakeTool{name: "fs.read", out: tool.Output{Success: true, Data: map[string]any{"content": "hi"}}}
	registry := tool.NewRegistry(ft)

	o := NewPlanOrchestrator(store, engine, registry, nil)
	p := newTestPlan(plan.Step{Tool: "fs.read", Args: map[string]any{"path": "a.txt"}})

	result, err := o.Run(context.Background(), p, &policy.Policy{}, "/work", true)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Status != audit.RunCompleted {
		t.Errorf("Status = %v, want completed", result.Status)
	}
	if result.CompletedSteps != 1 || result.DeniedSteps != 0 || result.FailedSteps != 0 {
		t.Errorf("counts = %+v, want 1/0/0", result)
	}
}

func TestPlanOrchestrator_Run_DeniedStepHaltsOnFailFast(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{deny: map[string]string{"shell.run": "not allowed"}}
	ft := &fakeTool{name: "shell.run", out: tool.Output{Success: true}}
	registry := tool.NewRegistry(ft)

	o := NewPlanOrchestrator(store, engine, registry, nil)
	p := newTestPlan(
		plan.Step{Tool: "shell.run", Args: map[string]any{"cmd": []any{"echo"}}},
		plan.Step{Tool: "shell.run", Args: map[string]any{"cmd": []any{"echo"}}},
	)

	result, err := o.Run(context.Background(), p, &policy.Policy{}, "/work", true)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.DeniedSteps != 1 {
		t.Errorf("DeniedSteps = %d, want 1", result.DeniedSteps)
	}
	calls, _ := store.CallsForRun(context.Background(), result.RunID)
	if len(calls) != 1 {
		t.Errorf("expected fail_fast to stop after the first denied step, got %d calls", len(calls))
	}
}

func TestPlanOrchestrator_Run_ContinuesWithoutFailFast(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{deny: map[string]string{"shell.run": "not allowed"}}
	registry := tool.NewRegistry(&fakeTool{name: "shell.run", out: tool.Output{Success: true}})

	o := NewPlanOrchestrator(store, engine, registry, nil)
	p := newTestPlan(
		plan.Step{Tool: "shell.run", Args: map[string]any{"cmd": []any{"echo"}}},
		plan.Step{Tool: "shell.run", Args: map[string]any{"cmd": []any{"echo"}}},
	)

	result, err := o.Run(context.Background(), p, &policy.Policy{}, "/work", false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.DeniedSteps != 2 {
		t.Errorf("DeniedSteps = %d, want 2", result.DeniedSteps)
	}
}

func TestPlanOrchestrator_Run_ToolErrorRecordsErrorStatus(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{}
	registry := tool.NewRegistry(&fakeTool{name: "fs.read", out: tool.Output{Success: false, Error: "boom"}})

	o := NewPlanOrchestrator(store, engine, registry, nil)
	p := newTestPlan(plan.Step{Tool: "fs.read", Args: map[string]any{"path": "a.txt"}})

	result, err := o.Run(context.Background(), p, &policy.Policy{}, "/work", true)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.FailedSteps != 1 {
		t.Errorf("FailedSteps = %d, want 1", result.FailedSteps)
	}
	if result.Status != audit.RunCompleted {
		t.Errorf("Status = %v, want completed (tool errors are not storage failures)", result.Status)
	}
}
