package pipeline

import "relpipe/internal/check"

// Phase is the lifecycle position of a single step run. Every run starts at
// PhaseCreated and moves forward only.
type Phase uint8

const (
	PhaseCreated Phase = iota + 1
	PhaseEvaluated
	PhaseExecuted
	PhaseSkipped
	PhaseHandedOff
	PhaseTerminal
	PhaseRecursed
	PhaseDispatched
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseEvaluated:
		return "evaluated"
	case PhaseExecuted:
		return "executed"
	case PhaseSkipped:
		return "skipped"
	case PhaseHandedOff:
		return "handed_off"
	case PhaseTerminal:
		return "terminal"
	case PhaseRecursed:
		return "recursed"
	case PhaseDispatched:
		return "dispatched"
	default:
		return "unknown"
	}
}

func (p Phase) IsValid() bool {
	return p >= PhaseCreated && p <= PhaseDispatched
}

// Done reports whether the run reached an end state.
func (p Phase) Done() bool {
	return p == PhaseTerminal || p == PhaseRecursed || p == PhaseDispatched
}

func (p Phase) Transition(to Phase) Phase {
	ok := false
	switch p {
	case PhaseCreated:
		ok = to == PhaseEvaluated
	case PhaseEvaluated:
		ok = to == PhaseExecuted || to == PhaseSkipped
	case PhaseExecuted, PhaseSkipped:
		ok = to == PhaseHandedOff
	case PhaseHandedOff:
		ok = to == PhaseTerminal || to == PhaseRecursed || to == PhaseDispatched
	case PhaseTerminal, PhaseRecursed, PhaseDispatched:
		ok = false
	}
	check.Assertf(ok, "step phase transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}
