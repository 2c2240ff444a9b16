package state

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"relpipe/internal/blob"
	"relpipe/internal/version"
)

const testSaveURI = "gs://bucket/pipe/7/release_state.json"

type failingBlobs struct {
	*blob.Router
	putErr error
}

func (f failingBlobs) Put(ctx context.Context, uri string, data []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.Router.Put(ctx, uri, data)
}

func newTestStore(t *testing.T) (*Store, *blob.Memory) {
	t.Helper()
	mem := blob.NewMemory()
	st, err := Open(context.Background(), Options{
		Blobs:   blob.NewRouter().Register(blob.SchemeGS, mem),
		SaveURI: testSaveURI,
	}, "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return st, mem
}

func TestUpdate_CommitsAndPersists(t *testing.T) {
	st, mem := newTestStore(t)
	ctx := context.Background()

	err := st.Update(ctx, func(_ context.Context, doc *Document) error {
		v := version.MustParse("1.38.2").BumpPatch()
		doc.Step1.ReleaseVersion = &v
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	err = st.Read(ctx, func(_ context.Context, doc *Document) error {
		if doc.Step1.ReleaseVersion == nil || doc.Step1.ReleaseVersion.String() != "1.38.3" {
			t.Fatalf("releaseVersion = %v, want 1.38.3", doc.Step1.ReleaseVersion)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	data, err := mem.Get(ctx, testSaveURI)
	if err != nil {
		t.Fatalf("saved checkpoint missing: %v", err)
	}
	saved, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(saved) error = %v", err)
	}
	if saved.Step1.ReleaseVersion.String() != "1.38.3" {
		t.Fatalf("saved releaseVersion = %s, want 1.38.3", saved.Step1.ReleaseVersion)
	}
	if st.Revision() != 1 {
		t.Fatalf("Revision() = %d, want 1", st.Revision())
	}
}

func TestUpdate_ErrorLeavesDocumentUnchanged(t *testing.T) {
	st, mem := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.Update(ctx, func(_ context.Context, doc *Document) error {
		doc.Step1.ReleaseVerificationIssueKey = Ptr("CAMKIT-1")
		doc.Step4.ReleaseCandidateBinaryBuilds["x"] = BinaryBuild{HTMLURL: "h"}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}

	snap := st.Snapshot(ctx)
	if snap.Step1.ReleaseVerificationIssueKey != nil {
		t.Fatal("failed update leaked issue key into live document")
	}
	if len(snap.Step4.ReleaseCandidateBinaryBuilds) != 0 {
		t.Fatal("failed update leaked binary build into live document")
	}
	if len(mem.Puts()) != 0 {
		t.Fatalf("failed update wrote %v", mem.Puts())
	}
}

func TestUpdate_PanicLeavesDocumentUnchanged(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = st.Update(ctx, func(_ context.Context, doc *Document) error {
			doc.Step9.AndroidSdkPublishedToMavenCentral = true
			panic("boom")
		})
	}()

	if st.Snapshot(ctx).Step9.AndroidSdkPublishedToMavenCentral {
		t.Fatal("panicking update leaked into live document")
	}
	// The lock must have been released.
	if err := st.Update(ctx, func(context.Context, *Document) error { return nil }); err != nil {
		t.Fatalf("Update() after panic error = %v", err)
	}
}

func TestUpdate_SaveFailureIsStorageError(t *testing.T) {
	mem := blob.NewMemory()
	blobs := failingBlobs{Router: blob.NewRouter().Register(blob.SchemeGS, mem), putErr: errors.New("quota")}
	st := New(Options{Blobs: blobs, SaveURI: testSaveURI}, nil)
	ctx := context.Background()

	err := st.Update(ctx, func(_ context.Context, doc *Document) error {
		doc.Step8.ReleaseGithubURL = Ptr("https://github.com/x")
		return nil
	})
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "save" || se.URI != testSaveURI {
		t.Fatalf("Update() error = %v, want save StorageError", err)
	}
	if st.Snapshot(ctx).Step8.ReleaseGithubURL != nil {
		t.Fatal("unpersisted update became live")
	}
}

func TestUpdate_NoSaveURIStaysLocal(t *testing.T) {
	mem := blob.NewMemory()
	st := New(Options{Blobs: blob.NewRouter().Register(blob.SchemeGS, mem)}, nil)
	ctx := context.Background()

	if err := st.Update(ctx, func(_ context.Context, doc *Document) error {
		doc.Step5.ReleaseVerificationComplete = true
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !st.Snapshot(ctx).Step5.ReleaseVerificationComplete {
		t.Fatal("update not applied")
	}
	if len(mem.Puts()) != 0 {
		t.Fatalf("process-local store wrote %v", mem.Puts())
	}
}

func TestNestedScopes(t *testing.T) {
	st, mem := newTestStore(t)
	ctx := context.Background()

	err := st.Update(ctx, func(ctx context.Context, doc *Document) error {
		doc.Step2.DevelopmentVersion = Ptr(version.MustParse("1.39.0"))

		// Read inside Update sees the working copy without deadlocking.
		if err := st.Read(ctx, func(_ context.Context, inner *Document) error {
			if inner.Step2.DevelopmentVersion == nil {
				t.Fatal("nested Read did not see working copy")
			}
			return nil
		}); err != nil {
			return err
		}

		// Nested Update folds into the enclosing copy.
		return st.Update(ctx, func(_ context.Context, inner *Document) error {
			inner.Step1.ReleaseVerificationIssueKey = Ptr("CAMKIT-9")
			return nil
		})
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	snap := st.Snapshot(ctx)
	if snap.Step2.DevelopmentVersion == nil || snap.Step1.ReleaseVerificationIssueKey == nil {
		t.Fatalf("nested changes lost: %+v", snap.Step1)
	}
	if got := len(mem.Puts()); got != 1 {
		t.Fatalf("saves = %d, want 1 (outermost scope commits)", got)
	}
}

func TestNestedUpdate_FailureDiscardsOnlyInner(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	err := st.Update(ctx, func(ctx context.Context, doc *Document) error {
		doc.Step10.SdkAPIReferenceSyncedToSnapDocs = true
		inner := st.Update(ctx, func(_ context.Context, d *Document) error {
			d.Step10.SdkAPIReferenceSyncedToPublicGithub = true
			return errors.New("inner")
		})
		if inner == nil {
			t.Fatal("inner Update() error = nil")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	snap := st.Snapshot(ctx)
	if !snap.Step10.SdkAPIReferenceSyncedToSnapDocs || snap.Step10.SdkAPIReferenceSyncedToPublicGithub {
		t.Fatalf("Step10 = %+v", snap.Step10)
	}
}

func TestUpdateInsideRead_CommitsAndIsVisible(t *testing.T) {
	st, mem := newTestStore(t)
	ctx := context.Background()

	err := st.Read(ctx, func(ctx context.Context, doc *Document) error {
		if err := st.Update(ctx, func(_ context.Context, d *Document) error {
			d.Step9.IosSdkPublishedToCocoapods = true
			return nil
		}); err != nil {
			return err
		}
		if !doc.Step9.IosSdkPublishedToCocoapods {
			t.Fatal("enclosing Read does not see committed update")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(mem.Puts()) != 1 {
		t.Fatalf("saves = %d, want 1", len(mem.Puts()))
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	st := New(Options{}, nil)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := string(rune('a' + i))
			_ = st.Update(ctx, func(_ context.Context, doc *Document) error {
				doc.Step5.ReleaseCandidateBinaryBuilds[key] = BinaryBuild{HTMLURL: key}
				return nil
			})
		}()
	}
	wg.Wait()

	if got := len(st.Snapshot(ctx).Step5.ReleaseCandidateBinaryBuilds); got != workers {
		t.Fatalf("binary builds = %d, want %d (lost update)", got, workers)
	}
	if st.Revision() != workers {
		t.Fatalf("Revision() = %d, want %d", st.Revision(), workers)
	}
}

func TestOpen_Remote_TransfersOwnership(t *testing.T) {
	mem := blob.NewMemory()
	ctx := context.Background()
	prev := `{"step1":{"releaseScope":"PATCH"}}`
	if err := mem.Put(ctx, "gs://bucket/pipe/6/release_state.json", []byte(prev)); err != nil {
		t.Fatal(err)
	}

	st, err := Open(ctx, Options{
		Blobs:   blob.NewRouter().Register(blob.SchemeGS, mem),
		SaveURI: testSaveURI,
	}, "gs://bucket/pipe/6/release_state.json")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	scope := st.Snapshot(ctx).Step1.ReleaseScope
	if scope == nil || *scope != ScopePatch {
		t.Fatalf("releaseScope = %v, want PATCH", scope)
	}
	got, err := mem.Get(ctx, testSaveURI)
	if err != nil {
		t.Fatalf("checkpoint not re-uploaded: %v", err)
	}
	if string(got) != prev {
		t.Fatalf("re-uploaded %q, want original bytes", got)
	}
}

func TestOpen_Remote_SameLocationNoTransfer(t *testing.T) {
	mem := blob.NewMemory()
	ctx := context.Background()
	_ = mem.Put(ctx, testSaveURI, []byte(`{}`))

	_, err := Open(ctx, Options{Blobs: blob.NewRouter().Register(blob.SchemeGS, mem), SaveURI: testSaveURI}, testSaveURI)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(mem.Puts()) != 1 {
		t.Fatalf("puts = %v, want only the seed", mem.Puts())
	}
}

func TestOpen_Remote_Missing(t *testing.T) {
	mem := blob.NewMemory()
	_, err := Open(context.Background(), Options{Blobs: blob.NewRouter().Register(blob.SchemeGS, mem)}, "gs://bucket/none.json")
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "load" {
		t.Fatalf("Open() error = %v, want load StorageError", err)
	}
	if !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("Open() error = %v, want wrapping ErrNotFound", err)
	}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), Options{Blobs: blob.NewRouter()}, "s3://bucket/key")
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("Open() error = %v, want StorageError", err)
	}
}

func TestOpen_Inline(t *testing.T) {
	mem := blob.NewMemory()
	ref := `{"step2":{"developmentVersion":{"major":1,"minor":39,"patch":0,"qualifier":null}}}`
	st, err := Open(context.Background(), Options{Blobs: blob.NewRouter().Register(blob.SchemeGS, mem), SaveURI: testSaveURI}, ref)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	dev := st.Snapshot(context.Background()).Step2.DevelopmentVersion
	if dev == nil || dev.String() != "1.39.0" {
		t.Fatalf("developmentVersion = %v", dev)
	}
	if len(mem.Puts()) != 0 {
		t.Fatalf("inline open wrote %v", mem.Puts())
	}
}

func TestOpen_InlineMalformed(t *testing.T) {
	_, err := Open(context.Background(), Options{}, `{"step1":{"releaseScope":"HUGE"}}`)
	var de *DeserializationError
	if !errors.As(err, &de) {
		t.Fatalf("Open() error = %v, want DeserializationError", err)
	}
	if de.Field != "step1.releaseScope" {
		t.Fatalf("Field = %q, want step1.releaseScope", de.Field)
	}
}

func TestJSON(t *testing.T) {
	st := New(Options{}, nil)
	data, err := st.JSON(context.Background())
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "{\n    \"step1\": {") {
		t.Fatalf("JSON() = %s", data)
	}
}

func TestCheckpoint_WritesFreshDocumentOnce(t *testing.T) {
	ctx := context.Background()
	st, mem := newTestStore(t)

	if err := st.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if err := st.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if puts := mem.Puts(); len(puts) != 1 || puts[0] != testSaveURI {
		t.Fatalf("puts = %v, want one write to %s", puts, testSaveURI)
	}
	data, err := mem.Get(ctx, testSaveURI)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(data); err != nil {
		t.Fatalf("checkpoint does not decode: %v", err)
	}
	if st.Revision() != 0 {
		t.Fatalf("Revision() = %d, want 0", st.Revision())
	}
}

func TestCheckpoint_SkipsAfterCommit(t *testing.T) {
	ctx := context.Background()
	st, mem := newTestStore(t)
	if err := st.Update(ctx, func(_ context.Context, doc *Document) error {
		doc.Step5.ReleaseVerificationComplete = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if len(mem.Puts()) != 1 {
		t.Fatalf("puts = %v, want only the commit", mem.Puts())
	}
}

func TestCheckpoint_SkipsAfterOwnershipTransfer(t *testing.T) {
	mem := blob.NewMemory()
	ctx := context.Background()
	_ = mem.Put(ctx, "gs://bucket/pipe/6/release_state.json", []byte(`{}`))
	st, err := Open(ctx, Options{Blobs: blob.NewRouter().Register(blob.SchemeGS, mem), SaveURI: testSaveURI},
		"gs://bucket/pipe/6/release_state.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if len(mem.Puts()) != 2 {
		t.Fatalf("puts = %v, want seed and transfer only", mem.Puts())
	}
}

func TestCheckpoint_LocalStoreIsNoop(t *testing.T) {
	st := New(Options{}, nil)
	if err := st.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
}

func TestCheckpoint_SaveFailureIsStorageError(t *testing.T) {
	st := New(Options{
		Blobs:   failingBlobs{Router: blob.NewRouter().Register(blob.SchemeGS, blob.NewMemory()), putErr: errors.New("quota")},
		SaveURI: testSaveURI,
	}, nil)
	err := st.Checkpoint(context.Background())
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "save" {
		t.Fatalf("Checkpoint() error = %v, want save StorageError", err)
	}
}
