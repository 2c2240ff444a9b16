package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"relpipe/internal/blob"
	"relpipe/internal/jobs"
	"relpipe/internal/state"
	"relpipe/internal/version"
)

// fakeStep is a scripted Step.
type fakeStep struct {
	id      StepID
	should  bool
	next    Next
	execErr error
	evalErr error
	execute func(ctx context.Context, st *state.Store, p *Prereqs) error
	runs    int
	evals   int
}

func (s *fakeStep) ID() StepID { return s.id }

func (s *fakeStep) ShouldExecute(context.Context, *state.Store) (bool, error) {
	s.evals++
	return s.should, s.evalErr
}

func (s *fakeStep) Execute(ctx context.Context, st *state.Store, p *Prereqs) error {
	s.runs++
	if s.execute != nil {
		return s.execute(ctx, st, p)
	}
	return s.execErr
}

func (s *fakeStep) Next() Next { return s.next }

func factoryOf(steps ...*fakeStep) Factory {
	return func(id StepID) (Step, error) {
		for _, s := range steps {
			if s.id == id {
				return s, nil
			}
		}
		return nil, &UnknownStepError{Name: id.String()}
	}
}

func TestRun_SkippedStepStillHandsOff(t *testing.T) {
	next := &fakeStep{id: UpdateSdkVersion, should: true, next: Terminal()}
	first := &fakeStep{id: DetermineReleaseScope, should: false, next: InProcess(UpdateSdkVersion)}
	r := &Runner{Scheduler: jobs.NewRecorder(), Steps: factoryOf(first, next)}

	out, err := r.Run(context.Background(), first, state.New(state.Options{}, nil))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.runs != 0 {
		t.Fatalf("skipped step executed %d times", first.runs)
	}
	if next.runs != 1 {
		t.Fatalf("next step executed %d times, want 1", next.runs)
	}
	want := []Visit{
		{Step: DetermineReleaseScope, Phase: PhaseRecursed},
		{Step: UpdateSdkVersion, Phase: PhaseTerminal, Executed: true},
	}
	if !slices.Equal(out.Trail, want) {
		t.Fatalf("Trail = %+v, want %+v", out.Trail, want)
	}
}

func TestRun_ExecuteErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	next := &fakeStep{id: UpdateSdkVersion, next: Terminal()}
	first := &fakeStep{id: DetermineReleaseScope, should: true, execErr: boom, next: InProcess(UpdateSdkVersion)}
	r := &Runner{Steps: factoryOf(first, next)}

	_, err := r.Run(context.Background(), first, state.New(state.Options{}, nil))
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	if next.evals != 0 {
		t.Fatal("hand-off happened after failed execute")
	}
	if first.runs != 1 {
		t.Fatalf("execute ran %d times, want 1 (no retry)", first.runs)
	}
}

func TestRun_EvaluateErrorAborts(t *testing.T) {
	step := &fakeStep{id: SdkBuilds, evalErr: errors.New("bad state"), next: Terminal()}
	if _, err := (&Runner{}).Run(context.Background(), step, state.New(state.Options{}, nil)); err == nil {
		t.Fatal("Run() error = nil")
	}
	if step.runs != 0 {
		t.Fatal("execute ran after failed evaluation")
	}
}

func TestRun_DynamicWiresPrerequisites(t *testing.T) {
	rec := jobs.NewRecorder()
	step := &fakeStep{
		id:     SdkBuilds,
		should: true,
		next:   Dynamic(ProcessBuildSdks, "3: Build SDKs", jobs.Params{"pull_number": "N/A"}),
		execute: func(ctx context.Context, _ *state.Store, p *Prereqs) error {
			if _, err := p.WaitFor(ctx, JobRequest{Repo: "r", Branch: "main", Job: "P1", ID: "P1", Outputs: []string{"x.txt"}}); err != nil {
				return err
			}
			_, err := p.WaitFor(ctx, JobRequest{Repo: "r", Branch: "main", Job: "P2", ID: "P2", Outputs: []string{"y.txt"}})
			return err
		},
	}
	r := &Runner{
		Scheduler: rec,
		Dispatch:  Dispatch{Label: "dist@master//camkit_distribution_release_pipeline", TestMode: true},
	}
	st := state.New(state.Options{Blobs: blob.NewRouter().Register(blob.SchemeGS, blob.NewMemory()), SaveURI: "gs://b/p/1/release_state.json"}, nil)

	out, err := r.Run(context.Background(), step, st)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	subs := rec.Submitted()
	if len(subs) != 3 {
		t.Fatalf("submissions = %d, want 3", len(subs))
	}
	dispatched := subs[2]
	if dispatched.Label != "dist@master//camkit_distribution_release_pipeline" || dispatched.DisplayName != "3: Build SDKs" {
		t.Fatalf("dispatched = %+v", dispatched)
	}
	wantParams := jobs.Params{
		ParamStateRef: "gs://b/p/1/release_state.json",
		ParamTestMode: "true",
		ParamRunStep:  "ProcessBuildSdksStep",
		"pull_number":  "N/A",
	}
	for k, v := range wantParams {
		if dispatched.Params[k] != v {
			t.Errorf("param %s = %q, want %q", k, dispatched.Params[k], v)
		}
	}

	want := []jobs.Connection{
		{JobID: dispatched.JobID, PrereqID: "P1", Inputs: []jobs.RenamedInput{{Output: "x.txt", Input: "P1-x.txt"}}},
		{JobID: dispatched.JobID, PrereqID: "P2", Inputs: []jobs.RenamedInput{{Output: "y.txt", Input: "P2-y.txt"}}},
	}
	got := rec.Connected()
	if len(got) != len(want) {
		t.Fatalf("connections = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i].JobID != want[i].JobID || got[i].PrereqID != want[i].PrereqID || !slices.Equal(got[i].Inputs, want[i].Inputs) {
			t.Errorf("connection[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if last := out.Last(); last.Phase != PhaseDispatched || last.JobID != dispatched.JobID {
		t.Fatalf("Last() = %+v", last)
	}
}

func TestRun_DynamicWithoutSaveURIPassesInlineState(t *testing.T) {
	rec := jobs.NewRecorder()
	step := &fakeStep{
		id:     UpdateSdkVersion,
		should: true,
		next:   Dynamic(ProcessUpdateSdkVersion, "2: Update SDK Version", nil),
		execute: func(ctx context.Context, st *state.Store, _ *Prereqs) error {
			return st.Update(ctx, func(_ context.Context, doc *state.Document) error {
				doc.Step2.DevelopmentVersion = state.Ptr(version.MustParse("1.39.0"))
				return nil
			})
		},
	}
	r := &Runner{Scheduler: rec, Dispatch: Dispatch{Label: "l"}}
	if _, err := r.Run(context.Background(), step, state.New(state.Options{}, nil)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ref := rec.Submitted()[0].Params[ParamStateRef]
	doc, err := state.Decode([]byte(ref))
	if err != nil {
		t.Fatalf("inline state ref does not decode: %v", err)
	}
	if doc.Step2.DevelopmentVersion == nil || doc.Step2.DevelopmentVersion.String() != "1.39.0" {
		t.Fatalf("inline state lost update: %s", ref)
	}
	if rec.Submitted()[0].Params[ParamTestMode] != "false" {
		t.Fatalf("test_mode = %q", rec.Submitted()[0].Params[ParamTestMode])
	}
}

func TestRun_ConnectFailureIsError(t *testing.T) {
	rec := jobs.NewRecorder()
	rec.ConnectErr = errors.New("rejected")
	step := &fakeStep{
		id:     ReleaseBuilds,
		should: true,
		next:   Dynamic(ProcessReleaseBuilds, "4: Release Builds", nil),
		execute: func(ctx context.Context, _ *state.Store, p *Prereqs) error {
			_, err := p.WaitFor(ctx, JobRequest{Repo: "r", Branch: "b", Job: "j"})
			return err
		},
	}
	_, err := (&Runner{Scheduler: rec, Dispatch: Dispatch{Label: "l"}}).Run(context.Background(), step, state.New(state.Options{}, nil))
	var je *jobs.ExternalJobError
	if !errors.As(err, &je) || je.Op != "connect" {
		t.Fatalf("Run() error = %v, want connect ExternalJobError", err)
	}
}

func TestRun_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("pipeline-test")

	boom := errors.New("boom")
	next := &fakeStep{id: UpdateSdkVersion, should: true, execErr: boom}
	first := &fakeStep{id: DetermineReleaseScope, next: InProcess(UpdateSdkVersion)}
	r := &Runner{Steps: factoryOf(first, next), Tracer: tracer}

	if _, err := r.Run(context.Background(), first, state.New(state.Options{}, nil)); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	inner, outer := spans[0], spans[1]
	if inner.Parent().SpanID() != outer.SpanContext().SpanID() {
		t.Fatal("recursed step span is not a child of its predecessor")
	}
	if inner.Status().Code != codes.Error {
		t.Fatalf("failed step status = %v, want error", inner.Status().Code)
	}
}

func TestPrereqs_PrefixAndDefaults(t *testing.T) {
	rec := jobs.NewRecorder()
	p := NewPrereqs(rec)
	ctx := context.Background()

	if _, err := p.WaitFor(ctx, JobRequest{Repo: "repo", Branch: "main", Commit: "abc", Job: "publish-sdk", Outputs: []string{"build_info.json"}}); err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}
	id, err := p.WaitFor(ctx, JobRequest{Repo: "repo", Branch: "main", Job: "camkit_android_publish", ID: "camkit_android_publish-main"})
	if err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}
	if id != "camkit_android_publish-main" {
		t.Fatalf("WaitFor() id = %q", id)
	}

	got := p.Jobs()
	if got[0].Prefix != "publish-sdk" || got[0].RenamedInputs[0].Input != "publish-sdk-build_info.json" {
		t.Fatalf("job[0] = %+v", got[0])
	}
	if got[1].Prefix != "camkit_android_publish-main" || got[1].RenamedInputs == nil || len(got[1].RenamedInputs) != 0 {
		t.Fatalf("job[1] = %+v", got[1])
	}

	sub := rec.Submitted()[0]
	if sub.Label != "repo@main#abc//publish-sdk" || sub.DisplayName != "publish-sdk" {
		t.Fatalf("submission = %+v", sub)
	}
}

func TestNewJobOutputs(t *testing.T) {
	o := NewJobOutputs("P1", "P1", []string{"x.txt", "build_info.json"})
	want := []jobs.RenamedInput{{Output: "x.txt", Input: "P1-x.txt"}, {Output: "build_info.json", Input: "P1-build_info.json"}}
	if !slices.Equal(o.RenamedInputs, want) {
		t.Fatalf("RenamedInputs = %+v", o.RenamedInputs)
	}
}

func TestStepIDs(t *testing.T) {
	all := AllSteps()
	if len(all) != 19 {
		t.Fatalf("AllSteps() = %d, want 19", len(all))
	}
	for _, id := range all {
		got, err := ParseStepID(id.String())
		if err != nil || got != id {
			t.Errorf("ParseStepID(%q) = %v, %v", id, got, err)
		}
	}
	var unknown *UnknownStepError
	if _, err := ParseStepID("NoSuchStep"); !errors.As(err, &unknown) {
		t.Fatalf("ParseStepID() error = %v, want UnknownStepError", err)
	}
	if StepID(0).IsValid() || StepID(200).String() != "unknown" {
		t.Fatal("invalid ids must not validate")
	}
}

func TestPhaseTransitions(t *testing.T) {
	p := PhaseCreated.Transition(PhaseEvaluated).Transition(PhaseSkipped).Transition(PhaseHandedOff).Transition(PhaseDispatched)
	if p != PhaseDispatched || !p.Done() {
		t.Fatalf("phase = %s", p)
	}
}

func TestNextZeroIsTerminal(t *testing.T) {
	var n Next
	if n.Kind() != NextTerminal || !strings.Contains(n.String(), "terminal") {
		t.Fatalf("zero Next = %s", n)
	}
}

func TestDriver_RunStep(t *testing.T) {
	step := &fakeStep{id: AnnounceRelease, should: true, next: Terminal()}
	d := &Driver{Runner: &Runner{Steps: factoryOf(step)}}

	if _, err := d.RunStep(context.Background(), "AnnounceReleaseStep", ""); err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	if step.runs != 1 {
		t.Fatalf("step ran %d times", step.runs)
	}

	var unknown *UnknownStepError
	if _, err := d.RunStep(context.Background(), "Bogus", ""); !errors.As(err, &unknown) {
		t.Fatalf("RunStep() error = %v, want UnknownStepError", err)
	}
	if _, err := d.RunStep(context.Background(), "AnnounceReleaseStep", "{not json"); err == nil {
		t.Fatal("RunStep() error = nil for malformed state")
	}
}

func TestRun_FreshSkippedStepDispatchesResumableState(t *testing.T) {
	ctx := context.Background()
	rec := jobs.NewRecorder()
	mem := blob.NewMemory()
	blobs := blob.NewRouter().Register(blob.SchemeGS, mem)
	opts := state.Options{Blobs: blobs, SaveURI: "gs://b/p/1/release_state.json"}

	st, err := state.Open(ctx, opts, "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	step := &fakeStep{
		id:     SdkBuilds,
		should: false,
		next:   Dynamic(ProcessBuildSdks, "3: Build SDKs", nil),
	}
	r := &Runner{Scheduler: rec, Dispatch: Dispatch{Label: "l"}}
	if _, err := r.Run(ctx, step, st); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ref := rec.Submitted()[0].Params[ParamStateRef]
	if ref != opts.SaveURI {
		t.Fatalf("state ref = %q, want %q", ref, opts.SaveURI)
	}
	if puts := mem.Puts(); len(puts) != 1 {
		t.Fatalf("puts = %v, want the initial checkpoint", puts)
	}
	resumed, err := state.Open(ctx, state.Options{Blobs: blobs, SaveURI: "gs://b/p/2/release_state.json"}, ref)
	if err != nil {
		t.Fatalf("successor Open() error = %v", err)
	}
	if resumed.Snapshot(ctx).Step1.ReleaseScope != nil {
		t.Fatal("successor state is not the fresh document")
	}
}
