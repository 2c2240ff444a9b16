package jobs

import (
	"context"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
)

// Retry runs fn up to attempts times with no delay between attempts and
// returns the last error. Wrap an error in backoff.Permanent to stop early.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	try := 0
	op := func() error {
		try++
		err := fn(ctx)
		if err != nil && try < attempts {
			slog.Warn("Attempt failed, retrying.", "attempt", try, "max", attempts, "err", err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(attempts-1)), ctx)
	return backoff.Retry(op, b)
}
