// Package stub implements a minimal orchestrator.Planner that parses its
// task string as a single fixed tool call and then reports Done, with no
// external process or model call involved. It exists so the Agent
// Orchestrator has at least one real collaborator to drive in manual
// testing and in end to end tests, without pulling an LLM integration
// into scope.
package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/capsule-rt/capsule/internal/domain/audit"
	"github.com/capsule-rt/capsule/internal/orchestrator"
)

// Planner parses state.Task on its first iteration as "<tool_name>
// <json_args>" (e.g. `fs.read {"path":"./README.md"}`), proposes that one
// call, then reports Done on every subsequent iteration. It is a fixture,
// not a reasoning engine: it ignores PlannerState.History entirely.
type Planner struct{}

// New builds a stub Planner.
func New() *Planner {
	return &Planner{}
}

// ProposeNext implements orchestrator.Planner.
func (p *Planner) ProposeNext(ctx context.Context, state orchestrator.PlannerState, lastResult *orchestrator.StepResult) (orchestrator.Proposal, error) {
	if state.Iteration == 0 {
		toolName, args, err := parseTask(state.Task)
		if err != nil {
			return orchestrator.Proposal{
				Type: audit.ProposalDone,
				Reason: fmt.Sprintf("stub planner: could not parse task: %v", err),
				Raw:    state.Task,
			}, nil
		}
		return orchestrator.Proposal{
			Type:      audit.ProposalToolCall,
			ToolName:  toolName,
			Args:      args,
			Reasoning: fmt.Sprintf("stub planner: task parsed as a single call to %s", toolName),
			Raw:       state.Task,
		}, nil
	}

	final := ""
	if lastResult != nil {
		final = fmt.Sprintf("%s: %s", lastResult.ToolName, lastResult.Status)
	}
	return orchestrator.Proposal{
		Type:        audit.ProposalDone,
		FinalOutput: final,
		Reason:      "stub planner has no further steps",
		Raw:         `{"done":true}`,
	}, nil
}

// parseTask splits task into a leading tool name and a trailing JSON
// object of arguments: "fs.read {\"path\":\"./README.md\"}".  A task with
// no JSON object is treated as a call with no arguments.
func parseTask(task string) (string, map[string]any, error) {
	task = strings.TrimSpace(task)
	idx := strings.IndexByte(task, '{')
	if idx < 0 {
		return task, map[string]any{}, nil
	}
	toolName := strings.TrimSpace(task[:idx])
	if toolName == "" {
		return "", nil, fmt.Errorf("no tool name before JSON arguments")
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(task[idx:]), &args); err != nil {
		return "", nil, fmt.Errorf("parse JSON arguments: %w", err)
	}
	return toolName, args, nil
}

var _ orchestrator.Planner = (*Planner)(nil)
