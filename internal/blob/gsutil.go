package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"relpipe/internal/shell"
)

const SchemeGS = "gs"

// GSUtil copies documents to and from Cloud Storage with the gsutil tool.
type GSUtil struct {
	binary string
	run    shell.Runner
}

// GSUtilOption configures a GSUtil store.
type GSUtilOption func(*GSUtil)

// WithGSUtilBinary sets the path to the gsutil binary. Defaults to "gsutil"
// (found via PATH).
func WithGSUtilBinary(path string) GSUtilOption {
	return func(g *GSUtil) { g.binary = path }
}

func NewGSUtil(run shell.Runner, opts ...GSUtilOption) *GSUtil {
	g := &GSUtil{binary: "gsutil", run: run}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GSUtil) Get(ctx context.Context, uri string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "relpipe-*.json")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(path)

	if _, err := g.run.Run(ctx, shell.Command{Name: g.binary, Args: []string{"cp", uri, path}}); err != nil {
		if strings.Contains(err.Error(), "No URLs matched") {
			return nil, fmt.Errorf("download %s: %w", uri, ErrNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", uri, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read downloaded %s: %w", uri, err)
	}
	return data, nil
}

func (g *GSUtil) Put(ctx context.Context, uri string, data []byte) error {
	tmp, err := os.CreateTemp("", "relpipe-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if _, err := g.run.Run(ctx, shell.Command{Name: g.binary, Args: []string{"cp", path, uri}}); err != nil {
		return fmt.Errorf("upload %s: %w", uri, err)
	}
	return nil
}
