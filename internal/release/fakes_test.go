package release

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"relpipe/internal/artifacts"
	"relpipe/internal/blob"
	"relpipe/internal/jobs"
	"relpipe/internal/remote"
	"relpipe/internal/scm"
	"relpipe/internal/state"
	"relpipe/internal/version"
)

type prComment struct {
	Repo    string
	Number  int
	Comment string
}

// fakeSCM is an in-memory SourceControl. Heads and files are keyed by
// repo@branch.
type fakeSCM struct {
	mu          sync.Mutex
	prSeq       int
	heads       map[string]string
	files       map[string]string
	resets      []string
	ready       []string
	comments    []prComment
	distUpdates []scm.DistributionUpdate
	changelogs  []string
	docs        []scm.DocsUpdate
	releases    []scm.Release

	docsPR       *scm.PullRequest
	changelogErr error
	releaseURL   string
	// onApproved runs after a pull request is commented on.
	onApproved func()
}

func newFakeSCM() *fakeSCM {
	return &fakeSCM{
		heads:      make(map[string]string),
		files:      make(map[string]string),
		releaseURL: "https://github.test/releases/1",
	}
}

func ref(repo, branch string) string { return repo + "@" + branch }

func (f *fakeSCM) setHead(repo, branch, sha string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads[ref(repo, branch)] = sha
}

func (f *fakeSCM) setFile(repo, branch, path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[ref(repo, branch)+":"+path] = content
}

func (f *fakeSCM) nextPR(repo, title string) scm.PullRequest {
	f.prSeq++
	return scm.PullRequest{
		Repo:    "github.test/" + repo,
		Number:  f.prSeq,
		Title:   title,
		HTMLURL: fmt.Sprintf("https://github.test/%s/pull/%d", repo, f.prSeq),
	}
}

func (f *fakeSCM) HeadCommit(_ context.Context, repo, branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha, ok := f.heads[ref(repo, branch)]
	if !ok {
		return "", fmt.Errorf("no branch %s", ref(repo, branch))
	}
	return sha, nil
}

func (f *fakeSCM) ResetTestBranch(_ context.Context, repo, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, ref(repo, branch))
	return nil
}

func (f *fakeSCM) ReadFile(_ context.Context, repo, branch, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[ref(repo, branch)+":"+path]
	if !ok {
		return nil, fmt.Errorf("no file %s in %s", path, ref(repo, branch))
	}
	return []byte(content), nil
}

func (f *fakeSCM) MarkPRReady(_ context.Context, repo string, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = append(f.ready, fmt.Sprintf("%s#%d", repo, number))
	return nil
}

func (f *fakeSCM) CommentWhenApprovedAndWaitClosed(_ context.Context, repo string, number int, comment string) error {
	f.mu.Lock()
	f.comments = append(f.comments, prComment{Repo: repo, Number: number, Comment: comment})
	hook := f.onApproved
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeSCM) UpdateDistribution(_ context.Context, u scm.DistributionUpdate) (scm.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.distUpdates = append(f.distUpdates, u)
	return f.nextPR(u.Repo, "Update SDKs to "+u.Version.String()), nil
}

func (f *fakeSCM) UpdateChangelog(_ context.Context, repo, branch string, v version.Version) (scm.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changelogErr != nil {
		return scm.PullRequest{}, f.changelogErr
	}
	f.changelogs = append(f.changelogs, ref(repo, branch))
	return f.nextPR(repo, "Update CHANGELOG for "+v.String()), nil
}

func (f *fakeSCM) UpdateDocsVersion(_ context.Context, u scm.DocsUpdate) (*scm.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, u)
	return f.docsPR, nil
}

func (f *fakeSCM) CreateRelease(_ context.Context, r scm.Release) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(r.Assets) == 0 {
		return "", errors.New("release without assets")
	}
	f.releases = append(f.releases, r)
	return f.releaseURL, nil
}

func (f *fakeSCM) Comments() []prComment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]prComment(nil), f.comments...)
}

func (f *fakeSCM) DistUpdates() []scm.DistributionUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scm.DistributionUpdate(nil), f.distUpdates...)
}

// harness wires an Env to in-memory collaborators.
type harness struct {
	env     *Env
	tracker *remote.FakeTracker
	chat    *remote.FakeChat
	scm     *fakeSCM
	rec     *jobs.Recorder
	blobs   *blob.Memory
	bucket  artifacts.Bucket
	inputs  string

	mu        sync.Mutex
	available map[string]bool
}

func newHarness(t *testing.T, testMode bool) *harness {
	t.Helper()
	settings := DefaultSettings()
	settings.TestMode = testMode
	settings.ReleaseScope = "MINOR"
	settings.PipelineURL = "https://ci.test/pipelines/777"
	settings.PipelineID = "777"
	settings.BuildNumber = "42"
	settings.OutputsDir = t.TempDir()
	settings.PollInterval = time.Millisecond

	h := &harness{
		tracker:   remote.NewFakeTracker(),
		chat:      remote.NewFakeChat(),
		scm:       newFakeSCM(),
		rec:       jobs.NewRecorder(),
		blobs:     blob.NewMemory(),
		inputs:    t.TempDir(),
		available: make(map[string]bool),
	}
	h.bucket = artifacts.Bucket{Blobs: h.blobs, Base: "gs://" + settings.ArtifactBucket}
	h.env = &Env{
		Settings:  settings,
		Tracker:   h.tracker,
		Chat:      h.chat,
		SCM:       h.scm,
		Inputs:    artifacts.Inputs{Dir: h.inputs},
		Artifacts: h.bucket,
		Pipelines: h.rec,
		Blobs:     h.blobs,
		Probe:     h.probe,
		WorkDir:   t.TempDir(),
	}
	return h
}

func (h *harness) probe(_ context.Context, url string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available[url]
}

func (h *harness) setAvailable(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available[url] = true
}

func (h *harness) writeInput(t *testing.T, prefix, file, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(h.inputs, prefix+"-"+file), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) putArtifact(t *testing.T, prefix, file, content string) {
	t.Helper()
	if err := h.blobs.Put(context.Background(), h.bucket.URI(prefix, file), []byte(content)); err != nil {
		t.Fatal(err)
	}
}

func buildInfo(commit, branch string, number int) string {
	return fmt.Sprintf(`{"commit": %q, "branch": %q, "build_number": %d, "pipeline_id": "p-%s"}`, commit, branch, number, commit)
}

func publications(v string) string {
	return "com.snap.camerakit:camerakit:" + v + "\ncom.snap.camerakit:support-gallery:" + v + "\n"
}

func pullRequestJSON(number int, title, repoName string) string {
	return fmt.Sprintf(`{"number": %d, "title": %q, "html_url": "https://github.test/pull/%d", "head": {"repo": {"name": %q}}}`,
		number, title, number, repoName)
}

func sdkBuild(v, branch, commit string) *state.SdkBuild {
	return &state.SdkBuild{Build: state.Build{
		Version:   version.MustParse(v),
		Branch:    branch,
		Commit:    commit,
		BuildHost: "ci.test",
	}}
}

// scopedDoc is a document past DetermineReleaseScope for release 1.20.0.
func scopedDoc(scope state.ReleaseScope) *state.Document {
	doc := state.NewDocument()
	doc.Step1.ReleaseScope = &scope
	doc.Step1.ReleaseVersion = state.Ptr(version.MustParse("1.20.0"))
	doc.Step1.ReleaseVerificationIssueKey = state.Ptr("CAMKIT-9")
	doc.Step1.ReleaseCoordinationSlackChannel = state.Ptr("C100")
	return doc
}

// verifiedDoc is a document whose release candidate passed verification.
func verifiedDoc(rcBranch string) *state.Document {
	doc := scopedDoc(state.ScopeMinor)
	doc.Step2.DevelopmentVersion = state.Ptr(version.MustParse("1.21.0"))
	doc.Step3.AndroidReleaseCandidateSdkBuild = sdkBuild("1.20.0-rc1", rcBranch, "a1")
	doc.Step3.IOSReleaseCandidateSdkBuild = sdkBuild("1.20.0", rcBranch, "i1")
	doc.Step5.ReleaseVerificationComplete = true
	return doc
}

func newStore(doc *state.Document) *state.Store {
	return state.New(state.Options{}, doc)
}
