package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const SchemeSQLite = "sqlite"

// Revision is one stored version of a document.
type Revision struct {
	Key       string
	Revision  int64
	Size      int
	CreatedAt time.Time
}

// SQLite keeps every written revision of each key in a local database.
// URIs have the form sqlite://<db path>#<key>.
type SQLite struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewSQLite() *SQLite {
	return &SQLite{dbs: make(map[string]*sql.DB)}
}

// ParseSQLiteURI splits a sqlite:// URI into database path and key.
func ParseSQLiteURI(uri string) (path, key string, err error) {
	if Scheme(uri) != SchemeSQLite {
		return "", "", fmt.Errorf("not a sqlite uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, SchemeSQLite+"://")
	i := strings.LastIndex(rest, "#")
	if i <= 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("sqlite uri %q must be sqlite://<path>#<key>", uri)
	}
	return rest[:i], rest[i+1:], nil
}

func (s *SQLite) open(path string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[path]; ok {
		return db, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set checkpoint db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set checkpoint db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS checkpoint_heads (
	key TEXT PRIMARY KEY,
	revision INTEGER NOT NULL,
	data BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize checkpoint schema: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS checkpoint_revisions (
	key TEXT NOT NULL,
	revision INTEGER NOT NULL,
	data BLOB NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (key, revision)
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize checkpoint schema: %w", err)
	}

	s.dbs[path] = db
	return db, nil
}

func (s *SQLite) Get(ctx context.Context, uri string) ([]byte, error) {
	path, key, err := ParseSQLiteURI(uri)
	if err != nil {
		return nil, err
	}
	db, err := s.open(path)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = db.QueryRowContext(ctx, `SELECT data FROM checkpoint_heads WHERE key = ?`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get %s: %w", uri, ErrNotFound)
		}
		return nil, fmt.Errorf("query checkpoint %q: %w", key, err)
	}
	return data, nil
}

func (s *SQLite) Put(ctx context.Context, uri string, data []byte) error {
	path, key, err := ParseSQLiteURI(uri)
	if err != nil {
		return err
	}
	db, err := s.open(path)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rev int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(revision), 0) + 1 FROM checkpoint_revisions WHERE key = ?`, key,
	).Scan(&rev); err != nil {
		return fmt.Errorf("next checkpoint revision: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoint_revisions (key, revision, data, created_at) VALUES (?, ?, ?, ?)`,
		key, rev, data, now,
	); err != nil {
		return fmt.Errorf("insert checkpoint revision: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoint_heads (key, revision, data, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		 revision = excluded.revision,
		 data = excluded.data,
		 updated_at = excluded.updated_at`,
		key, rev, data, now,
	); err != nil {
		return fmt.Errorf("save checkpoint head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// History lists all revisions stored for the URI's key, oldest first.
func (s *SQLite) History(ctx context.Context, uri string) ([]Revision, error) {
	path, key, err := ParseSQLiteURI(uri)
	if err != nil {
		return nil, err
	}
	db, err := s.open(path)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT revision, length(data), created_at FROM checkpoint_revisions WHERE key = ? ORDER BY revision`, key)
	if err != nil {
		return nil, fmt.Errorf("list checkpoint revisions: %w", err)
	}
	defer rows.Close()

	out := make([]Revision, 0)
	for rows.Next() {
		var (
			r       Revision
			created string
		)
		if err := rows.Scan(&r.Revision, &r.Size, &created); err != nil {
			return nil, fmt.Errorf("scan checkpoint revision: %w", err)
		}
		r.Key = key
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint revisions: %w", err)
	}
	return out, nil
}

// Revision returns the document stored at a specific revision.
func (s *SQLite) Revision(ctx context.Context, uri string, rev int64) ([]byte, error) {
	path, key, err := ParseSQLiteURI(uri)
	if err != nil {
		return nil, err
	}
	db, err := s.open(path)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = db.QueryRowContext(ctx,
		`SELECT data FROM checkpoint_revisions WHERE key = ? AND revision = ?`, key, rev).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get %s revision %d: %w", uri, rev, ErrNotFound)
		}
		return nil, fmt.Errorf("query checkpoint revision: %w", err)
	}
	return data, nil
}

func (s *SQLite) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for path, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		delete(s.dbs, path)
	}
	return errors.Join(errs...)
}
