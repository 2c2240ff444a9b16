package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxAttempts bounds every service request.
const MaxAttempts = 3

// TokenHeader carries the service token.
const TokenHeader = "SC-LCA-1"

// StatusError is a non-2xx service response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Option configures a service client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithBackoff sets the retry policy between attempts.
func WithBackoff(newBackoff func() backoff.BackOff) Option {
	return func(c *client) {
		c.newBackoff = newBackoff
	}
}

// WithTokens sets the token source. Requests go out unauthenticated without one.
func WithTokens(tokens TokenSource) Option {
	return func(c *client) {
		c.tokens = tokens
	}
}

// client is the JSON-over-HTTP transport shared by the service adapters.
type client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     TokenSource
	newBackoff func() backoff.BackOff
}

func newClient(baseURL string, opts []Option) (*client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	c := &client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		newBackoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(1*time.Second),
				backoff.WithMultiplier(2),
				backoff.WithMaxInterval(4*time.Second),
			)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// do sends one request, retrying transport failures and 5xx responses up to
// MaxAttempts. out, when non-nil, receives the decoded JSON response.
func (c *client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	endpoint := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		data, err := c.once(ctx, method, endpoint.String(), body)
		if err != nil && attempt < MaxAttempts {
			slog.Debug("Retrying service request.", "method", method, "url", endpoint.String(), "attempt", attempt, "err", err)
		}
		return data, err
	}
	boff := backoff.WithContext(backoff.WithMaxRetries(c.newBackoff(), MaxAttempts-1), ctx)
	data, err := backoff.RetryWithData(op, boff)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *client) once(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("issue service token: %w", err)
		}
		req.Header.Set(TokenHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &StatusError{Method: method, URL: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(serr)
		}
		return nil, serr
	}
	return data, nil
}
