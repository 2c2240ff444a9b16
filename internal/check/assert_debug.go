//go:build debug

package check

import "fmt"

// Assert panics when cond is false. Tests and debug builds run with the
// debug tag so a broken pipeline invariant fails loudly.
func Assert(cond bool, msg string) {
	if !cond {
		panic("invariant violated: " + msg)
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("invariant violated: " + fmt.Sprintf(format, args...))
	}
}
