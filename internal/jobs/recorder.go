package jobs

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// Submission is a recorded Submit call.
type Submission struct {
	SubmitRequest
	JobID string
}

// Connection is a recorded Connect call.
type Connection struct {
	JobID    string
	PrereqID string
	Inputs   []RenamedInput
}

// TriggerCall is a recorded Trigger call.
type TriggerCall struct {
	Label      string
	Params     Params
	PipelineID string
}

// Recorder is an in-memory scheduler. It assigns sequential ids, records
// every call, and optionally fails operations. Used by tests and dry runs.
type Recorder struct {
	mu          sync.Mutex
	seq         int
	Submissions []Submission
	Connections []Connection
	Triggers    []TriggerCall
	Watched     []string

	// SubmitErr, ConnectErr and WatchErr are returned by the matching call
	// when set.
	SubmitErr  error
	ConnectErr error
	WatchErr   error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Submit(_ context.Context, req SubmitRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SubmitErr != nil {
		return "", &ExternalJobError{Op: "submit", Label: req.Label, Err: r.SubmitErr}
	}
	r.seq++
	id := req.ID
	if id == "" {
		id = fmt.Sprintf("job-%d", r.seq)
	}
	req.Params = maps.Clone(req.Params)
	r.Submissions = append(r.Submissions, Submission{SubmitRequest: req, JobID: id})
	return id, nil
}

func (r *Recorder) Connect(_ context.Context, jobID, prereqID string, inputs []RenamedInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ConnectErr != nil {
		return &ExternalJobError{Op: "connect", Label: jobID, Err: r.ConnectErr}
	}
	r.Connections = append(r.Connections, Connection{
		JobID:    jobID,
		PrereqID: prereqID,
		Inputs:   append([]RenamedInput(nil), inputs...),
	})
	return nil
}

func (r *Recorder) Trigger(_ context.Context, label string, params Params) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	id := fmt.Sprintf("%d", 1000+r.seq)
	r.Triggers = append(r.Triggers, TriggerCall{Label: label, Params: maps.Clone(params), PipelineID: id})
	return id, nil
}

func (r *Recorder) Watch(_ context.Context, pipelineID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Watched = append(r.Watched, pipelineID)
	if r.WatchErr != nil {
		return &ExternalJobError{Op: "watch", Label: pipelineID, Err: r.WatchErr}
	}
	return nil
}

// Submitted returns a copy of the recorded submissions.
func (r *Recorder) Submitted() []Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Submission(nil), r.Submissions...)
}

// Connected returns a copy of the recorded connections.
func (r *Recorder) Connected() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Connection(nil), r.Connections...)
}
