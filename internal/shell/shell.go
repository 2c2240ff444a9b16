// Package shell runs external command-line tools (gsutil, snapci, gh, git)
// that the pipeline drives.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Command is a single tool invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string // appended to the process environment
	Stdin string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes commands and returns trimmed stdout.
// Production: Exec
// Testing: scripted fake keyed on the command line
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// ExitError carries the output of a command that exited non-zero.
type ExitError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Command, e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exec runs commands as child processes.
type Exec struct{}

func (Exec) Run(ctx context.Context, c Command) (string, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Running command.", "cmd", c.String(), "dir", c.Dir)
	if err := cmd.Run(); err != nil {
		return "", &ExitError{
			Command: c.String(),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}
