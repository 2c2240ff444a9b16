package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"relpipe/internal/blob"
)

// Blobs is the remote document backend of a Store.
// Production: *blob.Router over gsutil, file and sqlite stores
// Testing: *blob.Router over blob.Memory
type Blobs interface {
	blob.Store
	Handles(ref string) bool
}

// Options configure a Store.
type Options struct {
	Blobs Blobs
	// SaveURI is where every committed update is written. Empty keeps the
	// document process-local.
	SaveURI string
}

// Store is the checkpointed pipeline state of one run. All access goes
// through Read and Update scopes, which serialize on a single mutex. A
// scope's context carries lock ownership so nested scopes on the same call
// path do not deadlock. Scope contexts must not be handed to other
// goroutines; a goroutine started inside a scope that needs the state must
// use a context derived from outside the scope.
type Store struct {
	opts Options

	mu       sync.Mutex
	doc      *Document
	revision int
	// persisted is set once SaveURI holds the live document.
	persisted bool
}

type scopeKey struct{}

type scope struct {
	store    *Store
	doc      *Document
	writable bool
}

func heldScope(ctx context.Context, s *Store) *scope {
	sc, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok || sc.store != s {
		return nil
	}
	return sc
}

// New returns a store holding doc. A nil doc starts a fresh pipeline.
func New(opts Options, doc *Document) *Store {
	if doc == nil {
		doc = NewDocument()
	}
	return &Store{opts: opts, doc: doc}
}

// Open builds the store for ref: empty starts fresh, a URI with a scheme
// handled by opts.Blobs is downloaded and immediately re-uploaded to
// opts.SaveURI, and anything else is decoded as an inline document.
func Open(ctx context.Context, opts Options, ref string) (*Store, error) {
	if ref == "" {
		slog.Debug("Starting with empty pipeline state.")
		return New(opts, nil), nil
	}

	if opts.Blobs != nil && opts.Blobs.Handles(ref) {
		return openRemote(ctx, opts, ref)
	}
	if scheme := blob.Scheme(ref); scheme != "" {
		return nil, &StorageError{Op: "load", URI: ref, Err: fmt.Errorf("unsupported scheme %q", scheme)}
	}

	doc, err := Decode([]byte(ref))
	if err != nil {
		return nil, err
	}
	slog.Debug("Loaded inline pipeline state.")
	return New(opts, doc), nil
}

func openRemote(ctx context.Context, opts Options, ref string) (*Store, error) {
	data, err := opts.Blobs.Get(ctx, ref)
	if err != nil {
		return nil, &StorageError{Op: "load", URI: ref, Err: err}
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	slog.Info("Loaded pipeline state.", "uri", ref)

	if opts.SaveURI != "" && opts.SaveURI != ref {
		if err := opts.Blobs.Put(ctx, opts.SaveURI, data); err != nil {
			return nil, &StorageError{Op: "transfer", URI: opts.SaveURI, Err: err}
		}
		slog.Info("Took ownership of pipeline state.", "from", ref, "to", opts.SaveURI)
	}
	st := New(opts, doc)
	st.persisted = opts.SaveURI != ""
	return st, nil
}

// SaveURI is the checkpoint location a later invocation can resume from.
func (s *Store) SaveURI() string {
	return s.opts.SaveURI
}

// Revision counts committed updates since the store was built.
func (s *Store) Revision() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Read runs fn with the document while holding the store lock. fn must not
// modify doc. Inside an Update scope, fn sees the uncommitted working copy.
func (s *Store) Read(ctx context.Context, fn func(ctx context.Context, doc *Document) error) error {
	if held := heldScope(ctx, s); held != nil {
		return fn(ctx, held.doc)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, scopeKey{}, &scope{store: s, doc: s.doc}), s.doc)
}

// Update runs fn on a deep copy of the document. When fn returns nil the
// copy is persisted to the save location and becomes the live document.
// When fn fails or panics the copy is discarded and the live document is
// unchanged. A nested Update inside another Update folds its changes into
// the enclosing working copy; the outermost scope commits.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, doc *Document) error) error {
	held := heldScope(ctx, s)
	if held != nil && held.writable {
		work := held.doc.Clone()
		if err := fn(context.WithValue(ctx, scopeKey{}, &scope{store: s, doc: work, writable: true}), work); err != nil {
			return err
		}
		*held.doc = *work
		return nil
	}

	if held == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	work := s.doc.Clone()
	if err := fn(context.WithValue(ctx, scopeKey{}, &scope{store: s, doc: work, writable: true}), work); err != nil {
		return err
	}
	return s.commit(ctx, work)
}

// commit persists work and swaps it in. Must be called with s.mu held.
func (s *Store) commit(ctx context.Context, work *Document) error {
	work.normalize()
	if s.opts.SaveURI != "" {
		if s.opts.Blobs == nil {
			return &StorageError{Op: "save", URI: s.opts.SaveURI, Err: errors.New("no blob store configured")}
		}
		data, err := Encode(work)
		if err != nil {
			return err
		}
		if err := s.opts.Blobs.Put(ctx, s.opts.SaveURI, data); err != nil {
			return &StorageError{Op: "save", URI: s.opts.SaveURI, Err: err}
		}
	}
	// Replace in place so an enclosing Read scope observes the commit.
	*s.doc = *work
	s.revision++
	s.persisted = s.opts.SaveURI != ""
	slog.Debug("Committed pipeline state.", "revision", s.revision, "uri", s.opts.SaveURI)
	return nil
}

// Checkpoint writes the live document to SaveURI unless it is already
// there. A run that dispatches a successor before any update committed
// calls it so the successor has a checkpoint to resume from.
func (s *Store) Checkpoint(ctx context.Context) error {
	if s.opts.SaveURI == "" {
		return nil
	}
	if heldScope(ctx, s) == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	if s.persisted {
		return nil
	}
	if s.opts.Blobs == nil {
		return &StorageError{Op: "save", URI: s.opts.SaveURI, Err: errors.New("no blob store configured")}
	}
	data, err := Encode(s.doc)
	if err != nil {
		return err
	}
	if err := s.opts.Blobs.Put(ctx, s.opts.SaveURI, data); err != nil {
		return &StorageError{Op: "save", URI: s.opts.SaveURI, Err: err}
	}
	s.persisted = true
	slog.Info("Wrote initial pipeline state.", "uri", s.opts.SaveURI)
	return nil
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot(ctx context.Context) *Document {
	var out *Document
	_ = s.Read(ctx, func(_ context.Context, doc *Document) error {
		out = doc.Clone()
		return nil
	})
	return out
}

// JSON encodes the current document. Used as the inline state reference
// when no save location is configured.
func (s *Store) JSON(ctx context.Context) ([]byte, error) {
	var out []byte
	err := s.Read(ctx, func(_ context.Context, doc *Document) error {
		var err error
		out, err = Encode(doc)
		return err
	})
	return out, err
}
