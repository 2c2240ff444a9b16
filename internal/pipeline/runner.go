package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relpipe/internal/check"
	"relpipe/internal/jobs"
	"relpipe/internal/state"
	"relpipe/internal/telemetry"
)

// Dynamic job parameters understood by a resuming invocation.
const (
	ParamStateRef = "predefined_state_json_bucket_path"
	ParamTestMode = "test_mode"
	ParamRunStep  = "run_step"
)

// Dispatch configures how dynamic hand-offs are submitted.
type Dispatch struct {
	// Label is the job that re-enters the pipeline (repo@branch//job).
	Label    string
	TestMode bool
}

// Runner executes steps and resolves their hand-offs.
type Runner struct {
	Scheduler jobs.Scheduler
	Steps     Factory
	Dispatch  Dispatch
	// Tracer is optional.
	Tracer trace.Tracer
}

// Visit records one step run.
type Visit struct {
	Step  StepID
	Phase Phase // PhaseTerminal, PhaseRecursed or PhaseDispatched
	// Executed is false when ShouldExecute reported no work.
	Executed bool
	// JobID is the dispatched job for PhaseDispatched.
	JobID string
}

// Outcome is the trail of steps a Run traversed in this process.
type Outcome struct {
	Trail []Visit
}

// Last is the final visit of the run.
func (o Outcome) Last() Visit {
	if len(o.Trail) == 0 {
		return Visit{}
	}
	return o.Trail[len(o.Trail)-1]
}

// Run evaluates step, executes it when it has work left, and always performs
// the hand-off so a resumed pipeline keeps moving. Errors abort the run.
func (r *Runner) Run(ctx context.Context, step Step, st *state.Store) (Outcome, error) {
	check.Assert(step != nil, "Runner.Run: step must not be nil")
	check.Assert(st != nil, "Runner.Run: state store must not be nil")

	var out Outcome
	err := r.run(ctx, step, st, &out)
	return out, err
}

func (r *Runner) run(ctx context.Context, step Step, st *state.Store, out *Outcome) (retErr error) {
	id := step.ID()
	phase := PhaseCreated
	visit := Visit{Step: id}

	if r.Tracer != nil {
		var span trace.Span
		ctx, span = r.Tracer.Start(ctx, telemetry.StepSpanName, trace.WithAttributes(attribute.String(telemetry.StepKey, id.String())))
		defer func() {
			span.SetAttributes(
				attribute.String(telemetry.PhaseKey, phase.String()),
				attribute.Bool(telemetry.ExecutedKey, visit.Executed),
			)
			if visit.JobID != "" {
				span.SetAttributes(attribute.String(telemetry.JobIDKey, visit.JobID))
			}
			if retErr != nil {
				span.RecordError(retErr)
				span.SetStatus(codes.Error, strings.TrimSpace(retErr.Error()))
			}
			span.End()
		}()
	}

	should, err := step.ShouldExecute(ctx, st)
	if err != nil {
		return fmt.Errorf("evaluate step %s: %w", id, err)
	}
	phase = phase.Transition(PhaseEvaluated)

	prereqs := NewPrereqs(r.Scheduler)
	if should {
		slog.Info("Executing step.", "step", id)
		if err := step.Execute(ctx, st, prereqs); err != nil {
			return fmt.Errorf("execute step %s: %w", id, err)
		}
		phase = phase.Transition(PhaseExecuted)
		visit.Executed = true
	} else {
		slog.Info("Skipping step, nothing left to do.", "step", id)
		phase = phase.Transition(PhaseSkipped)
	}
	phase = phase.Transition(PhaseHandedOff)

	next := step.Next()
	switch next.Kind() {
	case NextTerminal:
		phase = phase.Transition(PhaseTerminal)
		visit.Phase = phase
		out.Trail = append(out.Trail, visit)
		slog.Info("Pipeline flow finished.", "step", id)
		return nil

	case NextInProcess:
		phase = phase.Transition(PhaseRecursed)
		visit.Phase = phase
		out.Trail = append(out.Trail, visit)
		if r.Steps == nil {
			return fmt.Errorf("hand off from %s: no step factory configured", id)
		}
		successor, err := r.Steps(next.Step())
		if err != nil {
			return fmt.Errorf("hand off from %s: %w", id, err)
		}
		slog.Info("Handing off in-process.", "from", id, "to", next.Step())
		return r.run(ctx, successor, st, out)

	case NextDynamic:
		jobID, err := r.dispatch(ctx, next, st, prereqs)
		if err != nil {
			return fmt.Errorf("hand off from %s: %w", id, err)
		}
		phase = phase.Transition(PhaseDispatched)
		visit.Phase = phase
		visit.JobID = jobID
		out.Trail = append(out.Trail, visit)
		return nil
	}
	return errors.New("unreachable hand-off kind " + next.Kind().String())
}

func (r *Runner) dispatch(ctx context.Context, next Next, st *state.Store, prereqs *Prereqs) (string, error) {
	if r.Scheduler == nil {
		return "", errors.New("no scheduler configured")
	}
	ref, err := stateRef(ctx, st)
	if err != nil {
		return "", err
	}

	params := next.Params()
	if params == nil {
		params = jobs.Params{}
	}
	params[ParamStateRef] = ref
	params[ParamTestMode] = strconv.FormatBool(r.Dispatch.TestMode)
	params[ParamRunStep] = next.Step().String()

	jobID, err := r.Scheduler.Submit(ctx, jobs.SubmitRequest{
		Label:       r.Dispatch.Label,
		DisplayName: next.DisplayName(),
		Params:      params,
	})
	if err != nil {
		return "", err
	}
	slog.Info("Dispatched next step.", "step", next.Step(), "job", jobID)

	for _, p := range prereqs.Jobs() {
		if err := r.Scheduler.Connect(ctx, jobID, p.JobID, p.RenamedInputs); err != nil {
			return "", err
		}
	}
	return jobID, nil
}

// stateRef is the save location, or the inline document when the store is
// process-local.
func stateRef(ctx context.Context, st *state.Store) (string, error) {
	if uri := st.SaveURI(); uri != "" {
		if err := st.Checkpoint(ctx); err != nil {
			return "", err
		}
		return uri, nil
	}
	data, err := st.JSON(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
