// Package plan contains the domain types for a Capsule plan: an ordered,
// immutable sequence of tool calls with a replay-stable hash.
package plan

import (
	"fmt"

	"github.com/capsule-rt/capsule/internal/canonical"
)

// Step is a single entry in a Plan: the tool to invoke, its arguments, and
// an optional human-readable name for reporting.
type Step struct {
	// Tool is the dotted tool name, e.g. "fs.read", "shell.run".
	Tool string `json:"tool" yaml:"tool"`
	// Args are the tool arguments, decoded from YAML/JSON into plain Go values.
	Args map[string]any `json:"args" yaml:"args"`
	// Name is an optional label for this step, shown in reports.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Plan is an ordered, immutable sequence of steps. Once constructed it must
// not be mutated; orchestrators and the audit store rely on Hash() being
// stable for the lifetime of a run.
type Plan struct {
	Version     string `json:"version" yaml:"version"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Validate checks the structural requirements a Plan must satisfy before a
// Run can be created from it. This is a 3xxx PlanValidationError boundary:
// callers should treat a non-nil error here as fatal before run creation.
func (p *Plan) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("plan: version is required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan: at least one step is required")
	}
	for i, step := range p.Steps {
		if step.Tool == "" {
			return fmt.Errorf("plan: step %d: tool is required", i)
		}
	}
	return nil
}

// Hash returns the canonical-JSON SHA-256 hash of the plan. This is the
// replay key: a replay run is only valid against the origin run whose
// plan_hash matches.
func (p *Plan) Hash() (string, error) {
	h, err := canonical.Hash(p)
	if err != nil {
		return "", fmt.Errorf("plan: hash: %w", err)
	}
	return h, nil
}
