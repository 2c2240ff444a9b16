package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	InvocationSpanName = "relpipe.invocation"
	StepSpanName       = "pipeline.step"
	// PlanKey carries the JSON encoded Plan on the invocation span.
	PlanKey     = "relpipe.plan"
	StepKey     = "step"
	PhaseKey    = "phase"
	ExecutedKey = "executed"
	JobIDKey    = "job_id"
	TestModeKey = "relpipe.test_mode"
	StateRefKey = "relpipe.state_ref"
)

// Plan lists the steps an invocation expects to visit in order: the
// requested step and its in-process successors.
type Plan struct {
	Steps []string `json:"steps"`
}

// Invocation is the root span of one process run.
type Invocation struct {
	ctx  context.Context
	span trace.Span
}

// StartInvocation opens the invocation span. stateRef is "remote",
// "inline" or "empty"; the reference itself is never recorded.
func StartInvocation(ctx context.Context, tracer trace.Tracer, plan Plan, testMode bool, stateRef string) (*Invocation, error) {
	if tracer == nil {
		return nil, fmt.Errorf("start invocation: tracer is required")
	}
	if err := validatePlan(plan); err != nil {
		return nil, fmt.Errorf("start invocation: %w", err)
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("start invocation: marshal plan: %w", err)
	}

	spanCtx, span := tracer.Start(ctx, InvocationSpanName, trace.WithAttributes(
		attribute.String(PlanKey, string(planJSON)),
		attribute.Bool(TestModeKey, testMode),
		attribute.String(StateRefKey, stateRef),
	))
	return &Invocation{ctx: spanCtx, span: span}, nil
}

func (i *Invocation) Context() context.Context {
	if i == nil {
		return context.Background()
	}
	return i.ctx
}

// End closes the span, marking it failed when err is non-nil.
func (i *Invocation) End(err error) {
	if i == nil || i.span == nil {
		return
	}
	if err != nil {
		i.span.RecordError(err)
		i.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	i.span.End()
}

// RefKind classifies a state reference for the invocation span.
func RefKind(ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "empty"
	case strings.HasPrefix(ref, "{"):
		return "inline"
	default:
		return "remote"
	}
}

// DecodePlan reads the plan attribute of an invocation span.
func DecodePlan(attrs []attribute.KeyValue) (Plan, bool) {
	raw := Attribute(attrs, PlanKey)
	if raw == "" {
		return Plan{}, false
	}
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return Plan{}, false
	}
	return plan, true
}

// Attribute returns the string value of key, or "".
func Attribute(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.Emit()
		}
	}
	return ""
}

func validatePlan(plan Plan) error {
	seen := make(map[string]struct{}, len(plan.Steps))
	for i, step := range plan.Steps {
		id := strings.TrimSpace(step)
		if id == "" {
			return fmt.Errorf("step %d has empty id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate step id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
