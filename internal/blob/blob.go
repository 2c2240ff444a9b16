// Package blob reads and writes whole documents at URI-addressed locations:
// gs:// buckets through gsutil, local file:// paths and sqlite:// checkpoint
// databases.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when nothing is stored at the URI.
var ErrNotFound = errors.New("blob not found")

// Store moves whole documents to and from a location.
// Production: GSUtil, FS, SQLite behind a Router
// Testing: Memory
type Store interface {
	Get(ctx context.Context, uri string) ([]byte, error)
	Put(ctx context.Context, uri string, data []byte) error
}

// Scheme returns the URI scheme ("gs" for "gs://bucket/key") or "" when
// uri has none.
func Scheme(uri string) string {
	i := strings.Index(uri, "://")
	if i <= 0 {
		return ""
	}
	scheme := uri[:i]
	for _, r := range scheme {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return ""
		}
	}
	return scheme
}

// Join appends a slash-separated key to a base location. sqlite:// bases
// without a key fragment get the key as fragment.
func Join(base, key string) string {
	key = strings.TrimPrefix(key, "/")
	if Scheme(base) == SchemeSQLite {
		if strings.HasSuffix(base, "#") {
			return base + key
		}
		if !strings.Contains(base, "#") {
			return base + "#" + key
		}
	}
	return strings.TrimSuffix(base, "/") + "/" + key
}

// Router dispatches on URI scheme.
type Router struct {
	stores map[string]Store
}

func NewRouter() *Router {
	return &Router{stores: make(map[string]Store)}
}

// Register binds scheme (without "://") to s.
func (r *Router) Register(scheme string, s Store) *Router {
	r.stores[scheme] = s
	return r
}

// Handles reports whether ref is a URI with a registered scheme.
func (r *Router) Handles(ref string) bool {
	_, ok := r.stores[Scheme(ref)]
	return ok
}

func (r *Router) store(uri string) (Store, error) {
	s, ok := r.stores[Scheme(uri)]
	if !ok {
		return nil, fmt.Errorf("no blob store for %q", uri)
	}
	return s, nil
}

func (r *Router) Get(ctx context.Context, uri string) ([]byte, error) {
	s, err := r.store(uri)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, uri)
}

func (r *Router) Put(ctx context.Context, uri string, data []byte) error {
	s, err := r.store(uri)
	if err != nil {
		return err
	}
	return s.Put(ctx, uri, data)
}

// Memory keeps documents in a map.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
	puts []string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, uri string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[uri]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", uri, ErrNotFound)
	}
	return append([]byte(nil), d...), nil
}

func (m *Memory) Put(_ context.Context, uri string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[uri] = append([]byte(nil), data...)
	m.puts = append(m.puts, uri)
	return nil
}

// Puts lists every URI written, in order.
func (m *Memory) Puts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.puts...)
}
