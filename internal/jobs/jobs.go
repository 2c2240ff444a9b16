// Package jobs is the boundary to the external CI scheduler that runs
// dynamic jobs and pipelines on behalf of the release flow.
package jobs

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Params are string parameters passed to a dynamic job.
type Params map[string]string

// Sorted returns the parameters as key=value pairs ordered by key.
func (p Params) Sorted() []string {
	out := make([]string, 0, len(p))
	for _, k := range slices.Sorted(maps.Keys(p)) {
		out = append(out, k+"="+p[k])
	}
	return out
}

// RenamedInput makes a prerequisite's Output file available to the waiting
// job under the local name Input.
type RenamedInput struct {
	Output string
	Input  string
}

func (r RenamedInput) String() string {
	return r.Output + "=" + r.Input
}

// SubmitRequest describes a dynamic job to add to the running pipeline.
type SubmitRequest struct {
	Label       string
	DisplayName string
	// ID is an optional caller-chosen job id. The scheduler picks one when empty.
	ID     string
	Params Params
}

// Scheduler adds dynamic jobs and wires their dependencies.
// Production: CLI
// Testing: Recorder
type Scheduler interface {
	// Submit adds a job and returns its id.
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	// Connect makes jobID wait for prereqID and receive its renamed outputs.
	Connect(ctx context.Context, jobID, prereqID string, inputs []RenamedInput) error
}

// PipelineRunner starts and follows standalone pipelines.
// Production: CLI
// Testing: Recorder
type PipelineRunner interface {
	// Trigger starts a pipeline running label and returns the pipeline id.
	Trigger(ctx context.Context, label string, params Params) (string, error)
	// Watch blocks until the pipeline finishes and fails when it did not succeed.
	Watch(ctx context.Context, pipelineID string) error
}

// Label composes a job label of the form repo@branch[#commit]//job.
func Label(repo, branch, commit, job string) string {
	var b strings.Builder
	b.WriteString(repo)
	b.WriteString("@")
	b.WriteString(branch)
	if commit != "" {
		b.WriteString("#")
		b.WriteString(commit)
	}
	b.WriteString("//")
	b.WriteString(job)
	return b.String()
}

// ExternalJobError reports a scheduler rejection.
type ExternalJobError struct {
	Op    string // submit, connect, trigger, watch
	Label string
	Err   error
}

func (e *ExternalJobError) Error() string {
	return fmt.Sprintf("%s job %s: %v", e.Op, e.Label, e.Err)
}

func (e *ExternalJobError) Unwrap() error { return e.Err }
