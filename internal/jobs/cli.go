package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"relpipe/internal/shell"
)

const defaultBinary = "snapci"

// CLI drives the scheduler through its command-line client.
type CLI struct {
	run    shell.Runner
	binary string
	// triggerLabel is the pipeline job that launches a labelled job on
	// demand. Trigger passes the real label to it as a parameter.
	triggerLabel string
}

type CLIOption func(*CLI)

func WithBinary(path string) CLIOption {
	return func(c *CLI) { c.binary = path }
}

// WithTriggerLabel routes Trigger through a launcher job.
func WithTriggerLabel(label string) CLIOption {
	return func(c *CLI) { c.triggerLabel = label }
}

func NewCLI(run shell.Runner, opts ...CLIOption) *CLI {
	c := &CLI{run: run, binary: defaultBinary}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CLI) cmd(args ...string) shell.Command {
	return shell.Command{Name: c.binary, Args: args}
}

func (c *CLI) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	args := []string{"dynamic", "add", req.Label}
	if req.ID != "" {
		args = append(args, "--id", req.ID)
	}
	if req.DisplayName != "" {
		args = append(args, "--name", req.DisplayName)
	}
	for _, kv := range req.Params.Sorted() {
		args = append(args, "--params", kv)
	}

	slog.Info("Adding dynamic job.", "name", req.DisplayName, "label", req.Label)
	out, err := c.run.Run(ctx, c.cmd(args...))
	if err != nil {
		return "", &ExternalJobError{Op: "submit", Label: req.Label, Err: err}
	}
	id := strings.TrimSpace(out)
	if id == "" {
		id = req.ID
	}
	if id == "" {
		return "", &ExternalJobError{Op: "submit", Label: req.Label, Err: errors.New("scheduler returned no job id")}
	}
	return id, nil
}

func (c *CLI) Connect(ctx context.Context, jobID, prereqID string, inputs []RenamedInput) error {
	args := []string{"dynamic", "connect", jobID, "--prereq", prereqID}
	for _, in := range inputs {
		args = append(args, "--renamed-inputs", in.String())
	}

	slog.Info("Connecting dynamic job.", "job", jobID, "prereq", prereqID)
	if _, err := c.run.Run(ctx, c.cmd(args...)); err != nil {
		return &ExternalJobError{Op: "connect", Label: jobID, Err: err}
	}
	return nil
}

func (c *CLI) Trigger(ctx context.Context, label string, params Params) (string, error) {
	args := []string{"pipeline", "trigger"}
	if c.triggerLabel == "" {
		args = append(args, label)
		for _, kv := range params.Sorted() {
			args = append(args, "--params", kv)
		}
	} else {
		inner := label
		for _, kv := range params.Sorted() {
			inner += " --params " + kv
		}
		args = append(args, c.triggerLabel, "--params", "label="+inner)
	}

	out, err := c.run.Run(ctx, c.cmd(args...))
	if err != nil {
		return "", &ExternalJobError{Op: "trigger", Label: label, Err: err}
	}
	url := strings.TrimSpace(out)
	id := url[strings.LastIndex(url, "/")+1:]
	if id == "" {
		return "", &ExternalJobError{Op: "trigger", Label: label, Err: errors.New("scheduler returned no pipeline url")}
	}
	slog.Info("Triggered pipeline.", "label", label, "pipeline", id)
	return id, nil
}

func (c *CLI) Watch(ctx context.Context, pipelineID string) error {
	if _, err := c.run.Run(ctx, c.cmd("pipeline", "watch", pipelineID)); err != nil {
		return &ExternalJobError{Op: "watch", Label: pipelineID, Err: err}
	}
	return nil
}
