// Package celpolicy implements the optional supplementary CEL rule layer
// evaluated after Capsule's structured fs/http/shell policy rules.
package celpolicy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/capsule-rt/capsule/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for a custom_rules condition.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, preventing cost-exhaustion DoS.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout bounds a single CEL evaluation, in case of a pathological
// expression that compiles but runs long.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked during evaluation.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates the CEL expressions in Policy.CustomRules.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator builds an Evaluator over the Capsule policy environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := newPolicyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("celpolicy: build environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks a CEL expression, returning a compiled
// program bounded by the cost budget and interrupt check frequency.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("celpolicy: compile: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("celpolicy: build program: %w", err)
	}
	return prg, nil
}

// validateNesting rejects expressions with excessive bracket nesting before
// they ever reach the compiler.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("celpolicy: expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that a custom_rules condition is syntactically
// valid and within the length/nesting/compile-time limits. Policy loading
// does not call it.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("celpolicy: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("celpolicy: expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("celpolicy: invalid expression: %w", err)
	}
	return nil
}

// Evaluate runs a compiled program against evalCtx under evalTimeout and
// requires a boolean result.
func (e *Evaluator) Evaluate(prg cel.Program, evalCtx policy.EvaluationContext) (bool, error) {
	activation := buildActivation(evalCtx)

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("celpolicy: evaluate: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("celpolicy: expression did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}
