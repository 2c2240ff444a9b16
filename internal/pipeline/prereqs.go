package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"relpipe/internal/jobs"
)

// JobOutputs maps a prerequisite job's output files to the names a waiting
// job sees them under: output -> prefix-output.
type JobOutputs struct {
	JobID         string
	Prefix        string
	RenamedInputs []jobs.RenamedInput
}

func NewJobOutputs(jobID, prefix string, outputs []string) JobOutputs {
	renamed := make([]jobs.RenamedInput, 0, len(outputs))
	for _, out := range outputs {
		renamed = append(renamed, jobs.RenamedInput{Output: out, Input: prefix + "-" + out})
	}
	return JobOutputs{JobID: jobID, Prefix: prefix, RenamedInputs: renamed}
}

// JobRequest describes a job a step starts and its successor waits for.
type JobRequest struct {
	Repo   string
	Branch string
	Commit string // optional; pins the label to a commit
	Job    string
	// DisplayName defaults to Job.
	DisplayName string
	// ID is an optional caller-chosen job id. When set, the returned id also
	// prefixes the renamed outputs; otherwise Job does.
	ID      string
	Params  jobs.Params
	Outputs []string
}

// Prereqs collects the jobs started during one step execution. A fresh
// value is created for every run. Safe for concurrent use.
type Prereqs struct {
	scheduler jobs.Scheduler

	mu   sync.Mutex
	jobs []JobOutputs
}

func NewPrereqs(scheduler jobs.Scheduler) *Prereqs {
	return &Prereqs{scheduler: scheduler}
}

// WaitFor submits the job and records it as a prerequisite of the next
// dynamically dispatched step. Returns the scheduler's job id.
func (p *Prereqs) WaitFor(ctx context.Context, req JobRequest) (string, error) {
	label := jobs.Label(req.Repo, req.Branch, req.Commit, req.Job)
	display := req.DisplayName
	if display == "" {
		display = req.Job
	}

	id, err := p.scheduler.Submit(ctx, jobs.SubmitRequest{
		Label:       label,
		DisplayName: display,
		ID:          req.ID,
		Params:      req.Params,
	})
	if err != nil {
		return "", fmt.Errorf("start prerequisite %s: %w", req.Job, err)
	}

	prefix := req.Job
	if req.ID != "" {
		prefix = id
	}
	outputs := append([]string(nil), req.Outputs...)

	p.mu.Lock()
	p.jobs = append(p.jobs, NewJobOutputs(id, prefix, outputs))
	p.mu.Unlock()

	slog.Debug("Registered prerequisite job.", "job", id, "label", label, "outputs", len(outputs))
	return id, nil
}

// Jobs returns the prerequisites in registration order.
func (p *Prereqs) Jobs() []JobOutputs {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]JobOutputs(nil), p.jobs...)
}
