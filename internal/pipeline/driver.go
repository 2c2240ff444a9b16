package pipeline

import (
	"context"
	"fmt"

	"relpipe/internal/state"
)

// Driver is the entry point of every process invocation: it resolves the
// step name, reconstructs the state and runs the step.
type Driver struct {
	Runner *Runner
	State  state.Options
}

// RunStep runs the named step against the state referenced by ref (empty,
// a storage URI or an inline document).
func (d *Driver) RunStep(ctx context.Context, name, ref string) (Outcome, error) {
	id, err := ParseStepID(name)
	if err != nil {
		return Outcome{}, err
	}
	if d.Runner == nil || d.Runner.Steps == nil {
		return Outcome{}, fmt.Errorf("run step %s: no step factory configured", id)
	}

	st, err := state.Open(ctx, d.State, ref)
	if err != nil {
		return Outcome{}, fmt.Errorf("run step %s: %w", id, err)
	}
	step, err := d.Runner.Steps(id)
	if err != nil {
		return Outcome{}, fmt.Errorf("run step %s: %w", id, err)
	}
	return d.Runner.Run(ctx, step, st)
}
