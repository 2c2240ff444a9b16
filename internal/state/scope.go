package state

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReleaseScope classifies a release and drives branching and versioning rules.
type ReleaseScope uint8

const (
	ScopeMinor ReleaseScope = iota + 1
	ScopePatch
	ScopeMajor
)

func (s ReleaseScope) String() string {
	switch s {
	case ScopeMinor:
		return "MINOR"
	case ScopePatch:
		return "PATCH"
	case ScopeMajor:
		return "MAJOR"
	default:
		return "unknown"
	}
}

func (s ReleaseScope) IsValid() bool {
	switch s {
	case ScopeMinor, ScopePatch, ScopeMajor:
		return true
	default:
		return false
	}
}

func (s ReleaseScope) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid release scope: %d", s)
	}
	return json.Marshal(s.String())
}

func (s *ReleaseScope) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next, ok := parseReleaseScope(raw)
	if !ok {
		return fmt.Errorf("invalid release scope: %q", raw)
	}
	*s = next
	return nil
}

func parseReleaseScope(raw string) (ReleaseScope, bool) {
	switch strings.TrimSpace(raw) {
	case "MINOR":
		return ScopeMinor, true
	case "PATCH":
		return ScopePatch, true
	case "MAJOR":
		return ScopeMajor, true
	default:
		return 0, false
	}
}

// ParseReleaseScope accepts the upper-case names used in checkpoints and
// pipeline parameters.
func ParseReleaseScope(raw string) (ReleaseScope, bool) {
	return parseReleaseScope(raw)
}
