package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"

	"relpipe/internal/artifacts"
	"relpipe/internal/jobs"
	"relpipe/internal/pipeline"
	"relpipe/internal/remote"
	"relpipe/internal/scm"
	"relpipe/internal/state"
	"relpipe/internal/version"
)

const sonatypeStagingURL = "https://oss.sonatype.org/#stagingRepositories"

// buildDistributionRelease builds the final distribution bundle and sample
// apps from the release branch.
type buildDistributionRelease struct{ env *Env }

func (s *buildDistributionRelease) ID() pipeline.StepID { return pipeline.BuildDistributionRelease }

func (s *buildDistributionRelease) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	return len(st.Snapshot(ctx).Step8.ReleaseBinaryBuilds) == 0, nil
}

func (s *buildDistributionRelease) Execute(ctx context.Context, st *state.Store, prereqs *pipeline.Prereqs) error {
	release, err := releaseVersion(s.ID(), st.Snapshot(ctx))
	if err != nil {
		return err
	}
	return s.env.waitForDistributionBuild(ctx, prereqs, s.env.releaseBranch(release), "", false)
}

func (s *buildDistributionRelease) Next() pipeline.Next {
	return pipeline.Dynamic(pipeline.ProcessDistributionRelease, "7: Create Distribution Release", nil)
}

// processDistributionRelease records the final binaries and publishes the
// GitHub release of the distribution.
type processDistributionRelease struct{ env *Env }

func (s *processDistributionRelease) ID() pipeline.StepID { return pipeline.ProcessDistributionRelease }

func (s *processDistributionRelease) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	return st.Snapshot(ctx).Step8.ReleaseGithubURL == nil, nil
}

func (s *processDistributionRelease) Execute(ctx context.Context, st *state.Store, _ *pipeline.Prereqs) error {
	e := s.env
	if err := st.Update(ctx, func(ctx context.Context, doc *state.Document) error {
		if len(doc.Step8.ReleaseBinaryBuilds) > 0 {
			return nil
		}
		release, err := releaseVersion(s.ID(), doc)
		if err != nil {
			return err
		}
		builds, err := e.binaryBuildsFromInputs(ctx, release)
		if err != nil {
			return err
		}
		doc.Step8.ReleaseBinaryBuilds = builds
		return nil
	}); err != nil {
		return err
	}

	doc := st.Snapshot(ctx)
	release, err := releaseVersion(s.ID(), doc)
	if err != nil {
		return err
	}
	channel, err := coordinationChannel(s.ID(), doc)
	if err != nil {
		return err
	}
	if doc.Step1.ReleaseVerificationIssueKey == nil {
		return &StepLogicError{Step: s.ID().String(), Reason: "verification issue is not set"}
	}

	url, err := s.createRelease(ctx, doc)
	if err != nil {
		msg := fmt.Sprintf("Failure while creating SDK distribution %s release due to: %v", release, err)
		if perr := e.post(ctx, channel, msg); perr != nil {
			slog.Warn("Failed to report release failure.", "err", perr)
		}
		return fmt.Errorf("create distribution release %s: %w", release, err)
	}
	slog.Info("Created distribution release.", "url", url)

	if err := st.Update(ctx, func(_ context.Context, doc *state.Document) error {
		doc.Step8.ReleaseGithubURL = &url
		return nil
	}); err != nil {
		return err
	}
	return e.Tracker.Comment(ctx, *doc.Step1.ReleaseVerificationIssueKey,
		fmt.Sprintf("%s release created, details in: %s", release, url))
}

func (s *processDistributionRelease) createRelease(ctx context.Context, doc *state.Document) (string, error) {
	e := s.env
	release := *doc.Step1.ReleaseVersion
	branch := e.releaseBranch(release)

	dist, ok := doc.Step8.ReleaseBinaryBuilds[KeyDistributionBuild]
	if !ok || dist.DownloadURI == nil {
		return "", errors.New("distribution build has no download URI")
	}
	data, err := e.Blobs.Get(ctx, *dist.DownloadURI)
	if err != nil {
		return "", fmt.Errorf("download distribution: %w", err)
	}
	dir := e.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	asset := filepath.Join(dir, fmt.Sprintf("camerakit-distribution-%s.zip", release))
	if err := os.WriteFile(asset, data, 0o644); err != nil {
		return "", fmt.Errorf("write distribution: %w", err)
	}

	changelog, err := e.SCM.ReadFile(ctx, e.Settings.Repos.Distribution, branch, scm.FileChangelog)
	if err != nil {
		return "", fmt.Errorf("read changelog: %w", err)
	}
	notes := e.releaseNotes(ctx, string(changelog), release,
		doc.Step6.ReleaseAndroidSdkBuild, doc.Step6.ReleaseIosSdkBuild, doc.Step8.ReleaseBinaryBuilds)

	return e.SCM.CreateRelease(ctx, scm.Release{
		Repo:   e.Settings.Repos.Distribution,
		Tag:    release.String(),
		Target: branch,
		Title:  release.String(),
		Notes:  notes,
		Draft:  e.Settings.TestMode,
		Assets: []string{asset},
	})
}

func (s *processDistributionRelease) Next() pipeline.Next { return pipeline.InProcess(pipeline.PublishSDKs) }

func (e *Env) mavenCentralURL(v version.Version) string {
	return e.Settings.MavenCentralURL + "/" + v.String()
}

func (e *Env) cocoaPodsURL(v version.Version) string {
	return fmt.Sprintf("%s/%s/SCCameraKit.podspec.json", e.Settings.CocoaPodsSpecsURL, v)
}

// publishSDKs pushes the final SDKs to the public package registries.
// Test runs never publish.
type publishSDKs struct{ env *Env }

func (s *publishSDKs) ID() pipeline.StepID { return pipeline.PublishSDKs }

func (s *publishSDKs) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	doc := st.Snapshot(ctx)
	return !s.env.Settings.TestMode &&
		doc.Step8.ReleaseGithubURL != nil &&
		!doc.Step9.AndroidSdkPublishedToMavenCentral &&
		!doc.Step9.IosSdkPublishedToCocoapods, nil
}

func (s *publishSDKs) Execute(ctx context.Context, st *state.Store, prereqs *pipeline.Prereqs) error {
	e := s.env
	doc := st.Snapshot(ctx)
	release, err := releaseVersion(s.ID(), doc)
	if err != nil {
		return err
	}

	if android := doc.Step6.ReleaseAndroidSdkBuild; android != nil && !e.Probe(ctx, e.mavenCentralURL(release)) {
		err := e.publishAndroid(ctx, prereqs, e.releaseBranch(release), "",
			"Publish SDKs: Android Release Candidate Build", false, false)
		if err != nil {
			return err
		}
	}

	if ios := doc.Step6.ReleaseIosSdkBuild; ios != nil && !e.Probe(ctx, e.cocoaPodsURL(release)) {
		_, err := prereqs.WaitFor(ctx, pipeline.JobRequest{
			Repo:        e.Settings.Repos.IOS,
			Branch:      ios.Branch,
			Commit:      ios.Commit,
			Job:         JobCocoaPodsPublish,
			DisplayName: "Publish SDKs: iOS Release Candidate Build",
			Params: jobs.Params{
				"camkit_build":        ios.BuildNumber,
				"camkit_commit":       ios.Commit,
				"camkit_version":      ios.Version.String(),
				"distribution_branch": e.releaseBranch(release),
				"gcs_bucket":          e.Settings.CocoaPodsGCSBucket,
				"dryrun":              strconv.FormatBool(false),
			},
			Outputs: []string{artifacts.FileBuildInfo},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *publishSDKs) Next() pipeline.Next {
	return pipeline.Dynamic(pipeline.ProcessPublishSDKs, "8: Publish SDKs", nil)
}

// processPublishSDKs waits for the published SDKs to show up in the public
// registries. The Android SDK needs a manual release from Sonatype staging.
type processPublishSDKs struct{ env *Env }

func (s *processPublishSDKs) ID() pipeline.StepID { return pipeline.ProcessPublishSDKs }

func (s *processPublishSDKs) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	doc := st.Snapshot(ctx)
	return !s.env.Settings.TestMode &&
		doc.Step6.ReleaseAndroidSdkBuild != nil &&
		doc.Step6.ReleaseIosSdkBuild != nil, nil
}

func (s *processPublishSDKs) Execute(ctx context.Context, st *state.Store, _ *pipeline.Prereqs) error {
	e := s.env
	doc := st.Snapshot(ctx)
	release, err := releaseVersion(s.ID(), doc)
	if err != nil {
		return err
	}
	channel, err := coordinationChannel(s.ID(), doc)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if !doc.Step9.AndroidSdkPublishedToMavenCentral {
		g.Go(func() error {
			msg := fmt.Sprintf("[Pipeline] Camera Kit Android SDK %s was published to the Sonatype Staging repository, "+
				"please verify and release it by signing in to: %s", release, sonatypeStagingURL)
			if err := e.post(gctx, channel, msg); err != nil {
				return err
			}
			url := e.mavenCentralURL(release)
			slog.Info("Waiting for Android SDK on Maven Central.", "url", url)
			if err := remote.WaitUntilAvailable(gctx, e.Probe, url, e.Settings.PollInterval); err != nil {
				return fmt.Errorf("wait for maven central: %w", err)
			}
			return st.Update(gctx, func(_ context.Context, doc *state.Document) error {
				doc.Step9.AndroidSdkPublishedToMavenCentral = true
				return nil
			})
		})
	}
	if !doc.Step9.IosSdkPublishedToCocoapods {
		g.Go(func() error {
			url := e.cocoaPodsURL(release)
			slog.Info("Waiting for iOS SDK on CocoaPods.", "url", url)
			if err := remote.WaitUntilAvailable(gctx, e.Probe, url, e.Settings.PollInterval); err != nil {
				return fmt.Errorf("wait for cocoapods: %w", err)
			}
			return st.Update(gctx, func(_ context.Context, doc *state.Document) error {
				doc.Step9.IosSdkPublishedToCocoapods = true
				return nil
			})
		})
	}
	return g.Wait()
}

func (s *processPublishSDKs) Next() pipeline.Next {
	return pipeline.InProcess(pipeline.SyncSDKToPublicResources)
}

// syncSDKToPublicResources starts the jobs that publish the sample apps
// and API reference once the SDKs are public.
type syncSDKToPublicResources struct{ env *Env }

func (s *syncSDKToPublicResources) ID() pipeline.StepID { return pipeline.SyncSDKToPublicResources }

func (s *syncSDKToPublicResources) ShouldExecute(context.Context, *state.Store) (bool, error) {
	return true, nil
}

func (s *syncSDKToPublicResources) Execute(ctx context.Context, st *state.Store, prereqs *pipeline.Prereqs) error {
	e := s.env
	doc := st.Snapshot(ctx)
	release, err := releaseVersion(s.ID(), doc)
	if err != nil {
		return err
	}
	branch := e.releaseBranch(release)
	released := doc.Step8.ReleaseGithubURL != nil

	if !doc.Step10.SdkAPIReferenceSyncedToPublicGithub && released &&
		doc.Step9.AndroidSdkPublishedToMavenCentral && doc.Step9.IosSdkPublishedToCocoapods {
		params := jobs.Params{"GITHUB_REPO": e.Settings.Repos.ReferencePublic}
		if e.Settings.TestMode {
			params["GITHUB_REPO"] = e.Settings.Repos.ReferenceTest
			params["PRE_RELEASE_MAVEN_REPOSITORY"] = e.Settings.PrereleaseMavenRepo
		}
		_, err := prereqs.WaitFor(ctx, pipeline.JobRequest{
			Repo:        e.Settings.Repos.Distribution,
			Branch:      branch,
			Job:         JobDistributionPublishGithub,
			DisplayName: "Sync CameraKit Reference to Public Github",
			Params:      params,
			Outputs:     []string{artifacts.FilePullRequest},
		})
		if err != nil {
			return err
		}
	}

	if !doc.Step10.SdkAPIReferenceSyncedToSnapDocs && released {
		bucket := e.Settings.DocsBucketPublic
		if e.Settings.TestMode {
			bucket = e.Settings.DocsBucketStaging
		}
		_, err := prereqs.WaitFor(ctx, pipeline.JobRequest{
			Repo:        e.Settings.Repos.Distribution,
			Branch:      branch,
			Job:         JobDistributionPublishAPIDocs,
			DisplayName: "Sync CameraKit API Reference to Snap Docs",
			Params:      jobs.Params{"GCS_BUCKET_URI": bucket},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *syncSDKToPublicResources) Next() pipeline.Next {
	return pipeline.Dynamic(pipeline.ProcessSyncSDKToPublicResources, "9: Sync SDK to Public Resources", nil)
}

// processSyncSDKToPublicResources follows up on the reference sync and
// points the docs site at the new API reference.
type processSyncSDKToPublicResources struct{ env *Env }

func (s *processSyncSDKToPublicResources) ID() pipeline.StepID {
	return pipeline.ProcessSyncSDKToPublicResources
}

func (s *processSyncSDKToPublicResources) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	d := st.Snapshot(ctx).Step10
	return !d.SdkAPIReferenceSyncedToPublicGithub || !d.SdkAPIReferenceSyncedToSnapDocs, nil
}

func (s *processSyncSDKToPublicResources) Execute(ctx context.Context, st *state.Store, _ *pipeline.Prereqs) error {
	e := s.env
	doc := st.Snapshot(ctx)
	release, err := releaseVersion(s.ID(), doc)
	if err != nil {
		return err
	}
	channel, err := coordinationChannel(s.ID(), doc)
	if err != nil {
		return err
	}

	if !doc.Step10.SdkAPIReferenceSyncedToPublicGithub && doc.Step8.ReleaseGithubURL != nil &&
		doc.Step9.AndroidSdkPublishedToMavenCentral && doc.Step9.IosSdkPublishedToCocoapods {
		pr, err := artifacts.ReadPullRequest(ctx, e.Inputs, JobDistributionPublishGithub)
		if err != nil {
			return fmt.Errorf("read reference sync pull request: %w", err)
		}
		if err := e.post(ctx, channel, fmt.Sprintf("%s: %s", pr.Title, pr.HTMLURL)); err != nil {
			return err
		}
		if err := st.Update(ctx, func(_ context.Context, doc *state.Document) error {
			doc.Step10.SdkAPIReferenceSyncedToPublicGithub = true
			return nil
		}); err != nil {
			return err
		}
	}

	if !doc.Step10.SdkAPIReferenceSyncedToSnapDocs {
		pr, err := e.SCM.UpdateDocsVersion(ctx, scm.DocsUpdate{
			Repo:        e.Settings.Repos.Docs,
			Branch:      e.Settings.DocsBranch,
			Version:     release,
			PipelineURL: e.pipelineURL(e.Settings.PipelineID),
		})
		if err != nil {
			return fmt.Errorf("update docs version: %w", err)
		}
		if pr != nil {
			if err := e.post(ctx, channel, fmt.Sprintf("%s: %s", pr.Title, pr.HTMLURL)); err != nil {
				return err
			}
		} else {
			slog.Info("Docs already reference the release.", "version", release)
		}
		return st.Update(ctx, func(_ context.Context, doc *state.Document) error {
			doc.Step10.SdkAPIReferenceSyncedToSnapDocs = true
			return nil
		})
	}
	return nil
}

func (s *processSyncSDKToPublicResources) Next() pipeline.Next {
	return pipeline.InProcess(pipeline.AnnounceRelease)
}

// announceRelease tells the announcement channel the release is out.
type announceRelease struct{ env *Env }

func (s *announceRelease) ID() pipeline.StepID { return pipeline.AnnounceRelease }

func (s *announceRelease) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	return st.Snapshot(ctx).Step8.ReleaseGithubURL != nil, nil
}

func (s *announceRelease) Execute(ctx context.Context, st *state.Store, _ *pipeline.Prereqs) error {
	doc := st.Snapshot(ctx)
	release, err := releaseVersion(s.ID(), doc)
	if err != nil {
		return err
	}
	return s.env.post(ctx, s.env.announceChannel(), fmt.Sprintf(
		"[Pipeline] CameraKit SDK %s release is complete, details in: %s", release, *doc.Step8.ReleaseGithubURL))
}

func (s *announceRelease) Next() pipeline.Next { return pipeline.Terminal() }
