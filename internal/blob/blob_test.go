package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relpipe/internal/shell"
)

func TestScheme(t *testing.T) {
	tests := map[string]string{
		"gs://bucket/a.json":     "gs",
		"file:///tmp/a.json":     "file",
		"sqlite://s.db#k":        "sqlite",
		`{"step1":{}}`:           "",
		"":                       "",
		"://nothing":             "",
		"Weird Scheme://x":       "",
	}
	for in, want := range tests {
		if got := Scheme(in); got != want {
			t.Errorf("Scheme(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		base, key, want string
	}{
		{"gs://snapengine-builder-artifacts", "p/1/release_state.json", "gs://snapengine-builder-artifacts/p/1/release_state.json"},
		{"gs://bucket/", "/k", "gs://bucket/k"},
		{"sqlite:///var/relpipe/state.db", "p/1/release_state.json", "sqlite:///var/relpipe/state.db#p/1/release_state.json"},
		{"sqlite://state.db#", "k", "sqlite://state.db#k"},
		{"sqlite://state.db#prefix", "k", "sqlite://state.db#prefix/k"},
	}
	for _, tt := range tests {
		if got := Join(tt.base, tt.key); got != tt.want {
			t.Errorf("Join(%q, %q) = %q, want %q", tt.base, tt.key, got, tt.want)
		}
	}
}

func TestRouter(t *testing.T) {
	mem := NewMemory()
	r := NewRouter().Register(SchemeGS, mem).Register(SchemeFile, FS{})

	if !r.Handles("gs://b/k") || !r.Handles("file:///x") {
		t.Fatal("Handles() = false for registered scheme")
	}
	if r.Handles(`{"step1":{}}`) || r.Handles("s3://b/k") {
		t.Fatal("Handles() = true for unregistered ref")
	}

	ctx := context.Background()
	if err := r.Put(ctx, "gs://b/k", []byte("doc")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := r.Get(ctx, "gs://b/k")
	if err != nil || string(got) != "doc" {
		t.Fatalf("Get() = %q, %v", got, err)
	}
	if _, err := r.Get(ctx, "s3://b/k"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
	if _, err := r.Get(ctx, "gs://b/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFS_PutGet(t *testing.T) {
	dir := t.TempDir()
	uri := "file://" + filepath.ToSlash(filepath.Join(dir, "nested", "state.json"))
	ctx := context.Background()

	if _, err := (FS{}).Get(ctx, uri); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() before put error = %v, want ErrNotFound", err)
	}
	if err := (FS{}).Put(ctx, uri, []byte("one")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := (FS{}).Put(ctx, uri, []byte("two")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := (FS{}).Get(ctx, uri)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("Get() = %q, want two", got)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "nested"))
	if len(entries) != 1 {
		t.Fatalf("directory has %d entries, want 1 (temp files left behind?)", len(entries))
	}
}

func TestSQLite_Revisions(t *testing.T) {
	s := NewSQLite()
	defer s.Close()
	uri := "sqlite://" + filepath.Join(t.TempDir(), "state.db") + "#pipe/42/release_state.json"
	ctx := context.Background()

	if _, err := s.Get(ctx, uri); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() before put error = %v, want ErrNotFound", err)
	}
	for _, doc := range []string{"v1", "v2", "v3"} {
		if err := s.Put(ctx, uri, []byte(doc)); err != nil {
			t.Fatalf("Put(%s) error = %v", doc, err)
		}
	}

	got, err := s.Get(ctx, uri)
	if err != nil || string(got) != "v3" {
		t.Fatalf("Get() = %q, %v; want v3", got, err)
	}

	hist, err := s.History(ctx, uri)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("History() len = %d, want 3", len(hist))
	}
	for i, r := range hist {
		if r.Revision != int64(i+1) {
			t.Errorf("revision[%d] = %d, want %d", i, r.Revision, i+1)
		}
	}

	first, err := s.Revision(ctx, uri, 1)
	if err != nil || string(first) != "v1" {
		t.Fatalf("Revision(1) = %q, %v", first, err)
	}
	if _, err := s.Revision(ctx, uri, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Revision(9) error = %v, want ErrNotFound", err)
	}
}

func TestParseSQLiteURI(t *testing.T) {
	path, key, err := ParseSQLiteURI("sqlite:///var/lib/relpipe/state.db#a/b")
	if err != nil {
		t.Fatalf("ParseSQLiteURI() error = %v", err)
	}
	if path != "/var/lib/relpipe/state.db" || key != "a/b" {
		t.Fatalf("ParseSQLiteURI() = %q, %q", path, key)
	}
	for _, bad := range []string{"sqlite://state.db", "sqlite://#k", "sqlite://state.db#", "gs://x#y"} {
		if _, _, err := ParseSQLiteURI(bad); err == nil {
			t.Errorf("ParseSQLiteURI(%q) expected error", bad)
		}
	}
}

func TestGSUtil_CommandLines(t *testing.T) {
	fake := shell.NewFake()
	g := NewGSUtil(fake, WithGSUtilBinary("/opt/gsutil"))
	ctx := context.Background()

	if err := g.Put(ctx, "gs://b/k.json", []byte("{}")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	lines := fake.Lines()
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "/opt/gsutil cp ") || !strings.HasSuffix(lines[0], " gs://b/k.json") {
		t.Fatalf("Put() ran %v", lines)
	}

	fake.Fail("/opt/gsutil cp gs://b/missing", errors.New("CommandException: No URLs matched: gs://b/missing"))
	if _, err := g.Get(ctx, "gs://b/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}
