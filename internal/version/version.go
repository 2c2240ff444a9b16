// Package version models release versions of the form M.N.P[-+]qualifier.
//
// Ordering and equality look at the numeric triple only. The qualifier is
// carried through every operation and printed by String, but two versions
// that differ only in qualifier compare equal, so release eligibility checks
// are not defeated by pre-release suffixes.
package version

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Version is an immutable release version. Methods never mutate the receiver.
type Version struct {
	Major     int
	Minor     int
	Patch     int
	Qualifier string // empty, or starts with '-' or '+'
}

// FormatError reports a version string that cannot be parsed.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Input, e.Reason)
}

// New returns a version without qualifier.
func New(major, minor, patch int) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// Parse parses "M.N.P" with an optional qualifier introduced by '-' or '+'
// on the patch component. Dots after the qualifier separator belong to the
// qualifier ("1.2.3-rc1.4" has qualifier "-rc1.4").
func Parse(text string) (Version, error) {
	parts := strings.Split(text, ".")
	if len(parts) < 3 {
		return Version{}, &FormatError{Input: text, Reason: "expected at least 3 dot-separated components"}
	}

	major, err := component(parts[0])
	if err != nil {
		return Version{}, &FormatError{Input: text, Reason: "major: " + err.Error()}
	}
	minor, err := component(parts[1])
	if err != nil {
		return Version{}, &FormatError{Input: text, Reason: "minor: " + err.Error()}
	}

	patchText := parts[2]
	qualifier := ""
	if i := strings.IndexAny(patchText, "-+"); i >= 0 {
		qualifier = patchText[i:]
		patchText = patchText[:i]
		if len(parts) > 3 {
			qualifier += "." + strings.Join(parts[3:], ".")
		}
	} else if len(parts) > 3 {
		return Version{}, &FormatError{Input: text, Reason: "unexpected components after patch"}
	}
	patch, err := component(patchText)
	if err != nil {
		return Version{}, &FormatError{Input: text, Reason: "patch: " + err.Error()}
	}

	return Version{Major: major, Minor: minor, Patch: patch, Qualifier: qualifier}, nil
}

// MustParse is Parse that panics on error. For constants and tests.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

func component(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not a non-negative integer", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, err)
	}
	return n, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d%s", v.Major, v.Minor, v.Patch, v.Qualifier)
}

// IsZero reports whether v is the zero value (0.0.0, no qualifier).
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare returns -1, 0 or +1 comparing the numeric triples of v and o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Patch, o.Patch)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Equal ignores the qualifier.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// Less ignores the qualifier.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

func (v Version) BumpMinor() Version {
	v.Minor++
	return v
}

func (v Version) BumpPatch() Version {
	v.Patch++
	return v
}

// DropMinor decrements minor, clamped at zero.
func (v Version) DropMinor() Version {
	v.Minor = max(0, v.Minor-1)
	return v
}

func (v Version) WithQualifier(q string) Version {
	v.Qualifier = q
	return v
}

// BumpReleaseCandidate turns "-rcN" (optionally followed by "+build") into
// "-rcN+1". Versions without an rc qualifier are returned unchanged.
func (v Version) BumpReleaseCandidate() Version {
	if v.Qualifier == "" {
		return v
	}
	head, _, _ := strings.Cut(v.Qualifier, "+")
	head = strings.ReplaceAll(head, "-", "")
	if !strings.HasPrefix(head, "rc") {
		return v
	}
	var digits strings.Builder
	for _, r := range head {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return v
	}
	v.Qualifier = fmt.Sprintf("-rc%d", n+1)
	return v
}

// ReleaseBranch names the maintenance branch of v's minor line.
func (v Version) ReleaseBranch() string {
	return fmt.Sprintf("release/%d.%d.x", v.Major, v.Minor)
}

type wireVersion struct {
	Major     int     `json:"major"`
	Minor     int     `json:"minor"`
	Patch     int     `json:"patch"`
	Qualifier *string `json:"qualifier"`
}

// MarshalJSON encodes the object form used by pipeline checkpoints.
func (v Version) MarshalJSON() ([]byte, error) {
	w := wireVersion{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
	if v.Qualifier != "" {
		q := v.Qualifier
		w.Qualifier = &q
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts both the object form and a version string.
func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := Parse(s)
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireVersion
	if err := dec.Decode(&w); err != nil {
		return err
	}
	if w.Major < 0 || w.Minor < 0 || w.Patch < 0 {
		return &FormatError{Input: string(data), Reason: "negative component"}
	}
	q := ""
	if w.Qualifier != nil {
		q = *w.Qualifier
	}
	if q != "" && q[0] != '-' && q[0] != '+' {
		return &FormatError{Input: string(data), Reason: "qualifier must start with '-' or '+'"}
	}
	*v = Version{Major: w.Major, Minor: w.Minor, Patch: w.Patch, Qualifier: q}
	return nil
}
