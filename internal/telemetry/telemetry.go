// Package telemetry wires OpenTelemetry tracing for Capsule: one span per
// policy evaluation and one per tool execution, exported to stdout by
// default since Capsule is a local-first CLI with no collector to talk to.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/capsule-rt/capsule"

// TracerProvider owns the process-wide OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// NewTracerProvider builds a TracerProvider that writes spans to stdout as
// pretty-printed JSON and installs it as the global provider. Capsule never
// talks to an external collector: its audit trail is the durable record,
// and tracing exists for local debugging of a single run.
func NewTracerProvider(ctx context.Context, serviceName string) (*TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes and stops the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

// Tracer returns Capsule's package-scoped tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartPolicyEvaluate starts a span around one policy.Evaluate call.
func StartPolicyEvaluate(ctx context.Context, runID, toolName string, stepIndex int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "policy.evaluate", trace.WithAttributes(
		AttrRunID.String(runID),
		AttrToolName.String(toolName),
		AttrStepIndex.Int(stepIndex),
	))
}

// StartToolExecute starts a span around one tool.Execute call.
func StartToolExecute(ctx context.Context, runID, toolName string, stepIndex int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool.execute", trace.WithAttributes(
		AttrRunID.String(runID),
		AttrToolName.String(toolName),
		AttrStepIndex.Int(stepIndex),
	))
}

// EndWithDecision annotates and ends a policy.evaluate span.
func EndWithDecision(span trace.Span, allowed bool, ruleHit string) {
	span.SetAttributes(AttrDecisionAllowed.Bool(allowed), AttrRuleHit.String(ruleHit))
	span.End()
}

// EndWithResult annotates and ends a tool.execute span.
func EndWithResult(span trace.Span, success bool, errMsg string) {
	span.SetAttributes(AttrToolSuccess.Bool(success))
	if errMsg != "" {
		span.SetAttributes(AttrToolError.String(errMsg))
	}
	span.End()
}

var (
	AttrRunID           = attribute.Key("capsule.run_id")
	AttrToolName        = attribute.Key("capsule.tool.name")
	AttrStepIndex       = attribute.Key("capsule.step_index")
	AttrDecisionAllowed = attribute.Key("capsule.decision.allowed")
	AttrRuleHit         = attribute.Key("capsule.decision.rule_hit")
	AttrToolSuccess     = attribute.Key("capsule.tool.success")
	AttrToolError       = attribute.Key("capsule.tool.error")
)
