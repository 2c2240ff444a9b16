package remote

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const probeTimeout = 10 * time.Second

// Probe reports whether a public URL currently resolves.
// Production: HTTPProbe
// Testing: func literal
type Probe func(ctx context.Context, url string) bool

// HTTPProbe issues a HEAD request, following redirects. Any 2xx or 3xx final
// status counts as available; transport errors count as unavailable.
func HTTPProbe(hc *http.Client) Probe {
	if hc == nil {
		hc = http.DefaultClient
	}
	return func(ctx context.Context, url string) bool {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			slog.Warn("Failed to build URL probe.", "url", url, "err", err)
			return false
		}
		resp, err := hc.Do(req)
		if err != nil {
			slog.Debug("URL probe failed.", "url", url, "err", err)
			return false
		}
		resp.Body.Close()
		slog.Debug("URL probe returned.", "url", url, "status", resp.StatusCode)
		return resp.StatusCode >= 200 && resp.StatusCode < 400
	}
}

// WaitUntil calls cond every interval until it reports true, returns an
// error, or ctx ends. cond runs once immediately.
func WaitUntil(ctx context.Context, interval time.Duration, cond func(ctx context.Context) (bool, error)) error {
	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// WaitUntilAvailable polls probe until url resolves.
func WaitUntilAvailable(ctx context.Context, probe Probe, url string, interval time.Duration) error {
	return WaitUntil(ctx, interval, func(ctx context.Context) (bool, error) {
		if probe(ctx, url) {
			return true, nil
		}
		slog.Info("Waiting for URL to become available.", "url", url)
		return false, nil
	})
}

// WaitForApproval polls the message until one of approvers signs it off.
func WaitForApproval(ctx context.Context, chat Chat, channel, ts string, approvers []string, interval time.Duration) error {
	slog.Info("Waiting for chat sign-off.", "channel", channel, "ts", ts)
	return WaitUntil(ctx, interval, func(ctx context.Context) (bool, error) {
		ok, err := HasApproval(ctx, chat, channel, ts, approvers)
		if err != nil {
			return false, err
		}
		if !ok {
			slog.Debug("No verified sign-off yet.", "channel", channel, "ts", ts)
		}
		return ok, nil
	})
}
