package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const SchemeFile = "file"

// FS stores documents on the local filesystem under file:// URIs.
type FS struct{}

func filePath(uri string) (string, error) {
	if Scheme(uri) != SchemeFile {
		return "", fmt.Errorf("not a file uri: %q", uri)
	}
	p := strings.TrimPrefix(uri, SchemeFile+"://")
	if p == "" {
		return "", fmt.Errorf("empty path in %q", uri)
	}
	return filepath.FromSlash(p), nil
}

func (FS) Get(_ context.Context, uri string) ([]byte, error) {
	p, err := filePath(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", uri, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	return data, nil
}

// Put writes atomically: temp file in the target directory, then rename.
func (FS) Put(_ context.Context, uri string, data []byte) error {
	p, err := filePath(uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", uri, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".relpipe-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", uri, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", uri, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", uri, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", uri, err)
	}
	return nil
}
