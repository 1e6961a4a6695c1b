// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the run-scoped logger, carrying
// run_id/step_index fields through the orchestrator and tool execution.
type LoggerKey struct{}

// RunIDKey is the context key type for the active run id, read by tools
// and the policy engine without threading it through every call signature.
type RunIDKey struct{}

// RequestIDKey is the context key type for the "runID:stepIndex" request
// id a DNS pin is keyed on, letting the http.get tool recover the address
// the Policy Engine already resolved and approved without re-resolving.
type RequestIDKey struct{}
