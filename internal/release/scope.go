package release

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"relpipe/internal/artifacts"
	"relpipe/internal/pipeline"
	"relpipe/internal/scm"
	"relpipe/internal/state"
	"relpipe/internal/version"
)

const buildNameFile = "build_number.txt"

// determineReleaseScope picks the release version from the requested scope
// and opens the verification ticket and coordination channel.
type determineReleaseScope struct{ env *Env }

func (s *determineReleaseScope) ID() pipeline.StepID { return pipeline.DetermineReleaseScope }

func (s *determineReleaseScope) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	d := st.Snapshot(ctx).Step1
	return d.ReleaseScope == nil || d.ReleaseVersion == nil ||
		d.ReleaseVerificationIssueKey == nil || d.ReleaseCoordinationSlackChannel == nil, nil
}

func (s *determineReleaseScope) Execute(ctx context.Context, st *state.Store, _ *pipeline.Prereqs) error {
	e := s.env
	scope, ok := state.ParseReleaseScope(e.Settings.ReleaseScope)
	if !ok {
		return s.fail(fmt.Sprintf("unknown release scope %q", e.Settings.ReleaseScope))
	}
	slog.Info("Selected release scope.", "scope", scope)
	if scope == state.ScopeMajor {
		return s.fail("The MAJOR release scope is not currently supported.")
	}

	current, err := scm.DistributionVersion(ctx, e.SCM, e.Settings.Repos.Distribution, e.testBranch(e.Settings.DistributionBranch))
	if err != nil {
		return fmt.Errorf("read development version: %w", err)
	}
	slog.Info("Read current development version.", "version", current)

	release := current
	if scope == state.ScopePatch {
		if e.Settings.PatchVersion == "" {
			return s.fail("a patch version to release must be set for PATCH releases")
		}
		patch, err := version.Parse(e.Settings.PatchVersion)
		if err != nil {
			return err
		}
		if !patch.Less(current) {
			return s.fail(fmt.Sprintf(
				"The release version to patch cannot be equal or greater than the current development version: %s", current))
		}
		release = patch.BumpPatch()
		slog.Info("Next patch release version.", "version", release)
	}

	if err := e.writeBuildName(scope, release); err != nil {
		return err
	}
	if err := st.Update(ctx, func(_ context.Context, doc *state.Document) error {
		doc.Step1.ReleaseScope = &scope
		doc.Step1.ReleaseVersion = &release
		return nil
	}); err != nil {
		return err
	}
	if err := e.resetTestBranches(ctx, scope, release); err != nil {
		return err
	}

	d := st.Snapshot(ctx).Step1
	key := d.ReleaseVerificationIssueKey
	if key == nil {
		k, err := e.openVerificationIssue(ctx, release)
		if err != nil {
			return err
		}
		if err := st.Update(ctx, func(_ context.Context, doc *state.Document) error {
			doc.Step1.ReleaseVerificationIssueKey = &k
			return nil
		}); err != nil {
			return err
		}
		key = &k
	}

	if d.ReleaseCoordinationSlackChannel == nil {
		name := fmt.Sprintf("%s-release-%s", strings.ToLower(*key), strings.ReplaceAll(release.String(), ".", "-"))
		channel, err := e.Chat.CreateChannel(ctx, name, false)
		if err != nil {
			return fmt.Errorf("create coordination channel: %w", err)
		}
		if err := st.Update(ctx, func(_ context.Context, doc *state.Document) error {
			doc.Step1.ReleaseCoordinationSlackChannel = &channel
			return nil
		}); err != nil {
			return err
		}
		issueURL := e.Tracker.IssueURL(*key)
		if err := e.post(ctx, e.announceChannel(), fmt.Sprintf(
			"[Pipeline] Starting %s release, ticket: %s, co-ordination channel: <#%s>", release, issueURL, channel)); err != nil {
			return err
		}
		if err := e.post(ctx, channel, fmt.Sprintf(
			"[Pipeline] Running release flow in: %s. Tracking all updates in the verification ticket: %s ",
			e.Settings.PipelineURL, issueURL)); err != nil {
			return err
		}
	}
	return nil
}

func (s *determineReleaseScope) Next() pipeline.Next { return pipeline.InProcess(pipeline.UpdateSdkVersion) }

func (s *determineReleaseScope) fail(reason string) error {
	return &StepLogicError{Step: s.ID().String(), Reason: reason}
}

func (e *Env) openVerificationIssue(ctx context.Context, v version.Version) (string, error) {
	prefix := ""
	if e.Settings.TestMode {
		prefix = "[TEST] "
	}
	summary := fmt.Sprintf("%sSDK %s sign off", prefix, v)
	description := fmt.Sprintf("This is the main ticket for the Camera Kit SDK %s release verification.\n"+
		"Initial release candidate builds are pending, this issue will be updated with more details in a bit.\n\n"+
		"h6. Generated in: %s", v, e.Settings.PipelineURL)
	key, err := e.Tracker.CreateIssue(ctx, e.Settings.TrackerProject, e.Settings.TrackerIssueType, summary, description)
	if err != nil {
		return "", fmt.Errorf("create verification issue: %w", err)
	}
	slog.Info("Created verification issue.", "url", e.Tracker.IssueURL(key))
	return key, nil
}

// writeBuildName names the CI build after the release in the outputs dir.
func (e *Env) writeBuildName(scope state.ReleaseScope, v version.Version) error {
	name, err := e.buildName(scope, v)
	if err != nil {
		return err
	}
	if e.Settings.OutputsDir == "" {
		return fmt.Errorf("write build name: outputs dir is not set")
	}
	if err := os.WriteFile(filepath.Join(e.Settings.OutputsDir, buildNameFile), []byte(name), 0o644); err != nil {
		return fmt.Errorf("write build name: %w", err)
	}
	return nil
}

// resetTestBranches recreates the test branches a test-mode run works on
// from their bases. A no-op outside test mode.
func (e *Env) resetTestBranches(ctx context.Context, scope state.ReleaseScope, v version.Version) error {
	if !e.Settings.TestMode {
		return nil
	}
	dist := e.testBranch(e.Settings.DistributionBranch)
	sdk := e.testBranch(e.Settings.SDKBranch)
	if scope == state.ScopePatch {
		dist = e.releaseBranch(v)
		sdk = dist
	}
	resets := []struct{ repo, branch string }{
		{e.Settings.Repos.Distribution, dist},
		{e.Settings.Repos.Android, sdk},
		{e.Settings.Repos.IOS, sdk},
	}
	for _, r := range resets {
		if err := e.SCM.ResetTestBranch(ctx, r.repo, r.branch); err != nil {
			return fmt.Errorf("reset test branch %s in %s: %w", r.branch, r.repo, err)
		}
	}
	return nil
}

// updateSdkVersion starts the version bump jobs for the SDK repositories
// whose declared version does not match the next development version.
type updateSdkVersion struct{ env *Env }

func (s *updateSdkVersion) ID() pipeline.StepID { return pipeline.UpdateSdkVersion }

func (s *updateSdkVersion) ShouldExecute(context.Context, *state.Store) (bool, error) { return true, nil }

func (s *updateSdkVersion) Execute(ctx context.Context, st *state.Store, prereqs *pipeline.Prereqs) error {
	e := s.env
	d := st.Snapshot(ctx).Step1
	if d.ReleaseVersion == nil || d.ReleaseScope == nil {
		return &StepLogicError{Step: s.ID().String(), Reason: "release version has not been determined"}
	}
	release, scope := *d.ReleaseVersion, *d.ReleaseScope

	next := release.BumpMinor()
	branch := e.testBranch(e.Settings.SDKBranch)
	if scope == state.ScopePatch {
		next = release
		branch = e.releaseBranch(release)
	}

	android, err := scm.AndroidSDKVersion(ctx, e.SCM, e.Settings.Repos.Android, branch)
	if err != nil {
		return fmt.Errorf("read android sdk version: %w", err)
	}
	if !android.Equal(next) {
		if err := e.waitForVersionUpdate(ctx, prereqs, e.Settings.Repos.Android, JobAndroidVersionUpdate, branch, next); err != nil {
			return err
		}
	} else {
		slog.Info("Android SDK version already current.", "version", next)
	}

	nextIOS := next
	if scope == state.ScopePatch {
		nextIOS = next.WithQualifier("-rc1")
	}
	ios, err := scm.IOSSDKVersion(ctx, e.SCM, e.Settings.Repos.IOS, branch)
	if err != nil {
		return fmt.Errorf("read ios sdk version: %w", err)
	}
	if !ios.Equal(nextIOS) {
		return e.waitForVersionUpdate(ctx, prereqs, e.Settings.Repos.IOS, JobIOSVersionUpdate, branch, nextIOS)
	}
	slog.Info("iOS SDK version already current.", "version", nextIOS)
	return nil
}

func (s *updateSdkVersion) Next() pipeline.Next {
	return pipeline.Dynamic(pipeline.ProcessUpdateSdkVersion, "2: Update SDK Version", nil)
}

func (e *Env) waitForVersionUpdate(ctx context.Context, prereqs *pipeline.Prereqs, repo, job, branch string, next version.Version) error {
	_, err := prereqs.WaitFor(ctx, pipeline.JobRequest{
		Repo:    repo,
		Branch:  branch,
		Job:     job,
		Params:  e.versionUpdateParams(branch, next),
		Outputs: []string{artifacts.FilePullRequest},
	})
	return err
}

// processUpdateSdkVersion follows up on the version bump pull requests and
// records the development version.
type processUpdateSdkVersion struct{ env *Env }

func (s *processUpdateSdkVersion) ID() pipeline.StepID { return pipeline.ProcessUpdateSdkVersion }

func (s *processUpdateSdkVersion) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	return st.Snapshot(ctx).Step2.DevelopmentVersion == nil, nil
}

func (s *processUpdateSdkVersion) Execute(ctx context.Context, st *state.Store, _ *pipeline.Prereqs) error {
	e := s.env
	return st.Update(ctx, func(ctx context.Context, doc *state.Document) error {
		if doc.Step1.ReleaseVersion == nil || doc.Step1.ReleaseScope == nil || doc.Step1.ReleaseCoordinationSlackChannel == nil {
			return &StepLogicError{Step: s.ID().String(), Reason: "release scope step has not completed"}
		}
		release := *doc.Step1.ReleaseVersion
		dev := release.BumpMinor()
		comment := CommentCool
		if *doc.Step1.ReleaseScope == state.ScopePatch {
			dev = release
			comment = CommentFire
		}
		doc.Step2.DevelopmentVersion = &dev

		for _, job := range []string{JobIOSVersionUpdate, JobAndroidVersionUpdate} {
			pr, err := artifacts.ReadPullRequest(ctx, e.Inputs, job)
			if err != nil {
				slog.Info("No version update pull request to follow up.", "job", job, "err", err)
				continue
			}
			if err := e.followUpJobPR(ctx, pr, *doc.Step1.ReleaseCoordinationSlackChannel, comment); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *processUpdateSdkVersion) Next() pipeline.Next { return pipeline.InProcess(pipeline.SdkBuilds) }
