package shell

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake is a scripted Runner. Responses are matched by command-line prefix;
// the longest matching prefix wins. Unmatched commands succeed with empty
// output. Every call is recorded.
type Fake struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     []Command
}

type fakeResponse struct {
	out string
	err error
}

func NewFake() *Fake {
	return &Fake{responses: make(map[string]fakeResponse)}
}

// On scripts the output for commands starting with prefix.
func (f *Fake) On(prefix, out string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = fakeResponse{out: out}
	return f
}

// Fail scripts an error for commands starting with prefix.
func (f *Fake) Fail(prefix string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("scripted failure")
	}
	f.responses[prefix] = fakeResponse{err: err}
	return f
}

func (f *Fake) Run(_ context.Context, c Command) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)

	line := c.String()
	best := ""
	found := false
	for prefix := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best = prefix
			found = true
		}
	}
	if !found {
		return "", nil
	}
	r := f.responses[best]
	if r.err != nil {
		return "", &ExitError{Command: line, Err: r.err}
	}
	return r.out, nil
}

// Calls returns the recorded commands.
func (f *Fake) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// Lines returns the recorded command lines.
func (f *Fake) Lines() []string {
	calls := f.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.String())
	}
	return out
}
