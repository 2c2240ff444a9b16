// Package pipeline runs release steps: it evaluates whether a step has work
// left, executes it, and hands off to the next step either in-process or by
// dispatching a dynamic job that resumes from the checkpointed state.
package pipeline

import (
	"context"
	"maps"

	"relpipe/internal/jobs"
	"relpipe/internal/state"
)

// Step is one unit of the release flow.
type Step interface {
	ID() StepID
	// ShouldExecute reports whether the step still has work to do. It must
	// depend only on st and immutable configuration, so repeated calls on an
	// unchanged document agree and cause no side effects.
	ShouldExecute(ctx context.Context, st *state.Store) (bool, error)
	// Execute performs the step. Jobs registered on prereqs become
	// dependencies of a dynamically dispatched successor.
	Execute(ctx context.Context, st *state.Store, prereqs *Prereqs) error
	// Next declares the hand-off.
	Next() Next
}

// Factory builds the step for an id.
type Factory func(id StepID) (Step, error)

// NextKind tags the Next variant.
type NextKind uint8

const (
	NextTerminal NextKind = iota + 1
	NextInProcess
	NextDynamic
)

func (k NextKind) String() string {
	switch k {
	case NextTerminal:
		return "terminal"
	case NextInProcess:
		return "in_process"
	case NextDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// Next is a step's declared hand-off. The zero value is terminal.
type Next struct {
	kind        NextKind
	step        StepID
	displayName string
	params      jobs.Params
}

// Terminal ends the flow.
func Terminal() Next {
	return Next{kind: NextTerminal}
}

// InProcess runs the next step synchronously on the same store.
func InProcess(id StepID) Next {
	return Next{kind: NextInProcess, step: id}
}

// Dynamic dispatches the next step as a scheduler job.
func Dynamic(id StepID, displayName string, params jobs.Params) Next {
	return Next{kind: NextDynamic, step: id, displayName: displayName, params: maps.Clone(params)}
}

func (n Next) Kind() NextKind {
	if n.kind == 0 {
		return NextTerminal
	}
	return n.kind
}

// Step is the successor; zero for terminal hand-offs.
func (n Next) Step() StepID { return n.step }

func (n Next) DisplayName() string { return n.displayName }

// Params are the extra job parameters of a dynamic hand-off.
func (n Next) Params() jobs.Params { return maps.Clone(n.params) }

func (n Next) String() string {
	switch n.Kind() {
	case NextInProcess:
		return "in-process " + n.step.String()
	case NextDynamic:
		return "dynamic " + n.step.String() + " (" + n.displayName + ")"
	default:
		return "terminal"
	}
}
