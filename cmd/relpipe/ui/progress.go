package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"relpipe/internal/telemetry"
)

type stepStatus uint8

const (
	stepPending stepStatus = iota + 1
	stepRunning
	stepDone
	stepSkipped
	stepFailed
)

// Progress is a span processor that prints one line per step state change.
type Progress struct {
	mu     sync.Mutex
	w      io.Writer
	status map[string]stepStatus
}

func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w, status: make(map[string]stepStatus)}
}

func (p *Progress) OnStart(_ context.Context, span sdktrace.ReadWriteSpan) {
	switch span.Name() {
	case telemetry.InvocationSpanName:
		plan, ok := telemetry.DecodePlan(span.Attributes())
		if !ok {
			return
		}
		for _, step := range plan.Steps {
			p.set(step, stepPending, "")
		}
	case telemetry.StepSpanName:
		p.set(telemetry.Attribute(span.Attributes(), telemetry.StepKey), stepRunning, "")
	}
}

func (p *Progress) OnEnd(span sdktrace.ReadOnlySpan) {
	if span.Name() != telemetry.StepSpanName {
		return
	}
	attrs := span.Attributes()
	step := telemetry.Attribute(attrs, telemetry.StepKey)

	if st := span.Status(); st.Code == codes.Error {
		p.set(step, stepFailed, st.Description)
		return
	}
	status := stepDone
	if telemetry.Attribute(attrs, telemetry.ExecutedKey) == "false" {
		status = stepSkipped
	}
	detail := telemetry.Attribute(attrs, telemetry.PhaseKey)
	if job := telemetry.Attribute(attrs, telemetry.JobIDKey); job != "" {
		detail += " as " + job
	}
	p.set(step, status, detail)
}

func (p *Progress) Shutdown(context.Context) error   { return nil }
func (p *Progress) ForceFlush(context.Context) error { return nil }

func (p *Progress) set(step string, status stepStatus, msg string) {
	step = strings.TrimSpace(step)
	if step == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.status[step]; ok && prev == status {
		return
	}
	p.status[step] = status
	fmt.Fprintln(p.w, formatStepLine(step, status, strings.TrimSpace(msg)))
}

func formatStepLine(step string, status stepStatus, msg string) string {
	prefix := "[..]"
	switch status {
	case stepRunning:
		prefix = AccentStyle.Render("[->]")
	case stepDone:
		prefix = SuccessStyle.Render("[ok]")
	case stepSkipped:
		prefix = MutedStyle.Render("[--]")
	case stepFailed:
		prefix = ErrorStyle.Render("[x]")
	}
	if msg != "" {
		return fmt.Sprintf("  %s %s (%s)", prefix, step, msg)
	}
	return fmt.Sprintf("  %s %s", prefix, step)
}
