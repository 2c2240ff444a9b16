//go:build !debug

package check

import (
	"fmt"
	"log/slog"
)

// Assert logs a violated invariant in release builds. A release run keeps
// going: the caller still handles the failure and the checkpoint stays
// resumable.
func Assert(cond bool, msg string) {
	if !cond {
		slog.Error("Invariant violated.", "detail", msg)
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		slog.Error("Invariant violated.", "detail", fmt.Sprintf(format, args...))
	}
}
