package release

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"relpipe/internal/pipeline"
	"relpipe/internal/scm"
	"relpipe/internal/state"
	"relpipe/internal/version"
)

// buildsDevelopment reports whether the development line differs from the
// release, which is the case for every scope but PATCH.
func buildsDevelopment(doc *state.Document) bool {
	dev, rel := doc.Step2.DevelopmentVersion, doc.Step1.ReleaseVersion
	return dev == nil || rel == nil || !dev.Equal(*rel)
}

func releaseVersion(step pipeline.StepID, doc *state.Document) (version.Version, error) {
	if doc.Step1.ReleaseVersion == nil {
		return version.Version{}, &StepLogicError{Step: step.String(), Reason: "release version has not been determined"}
	}
	return *doc.Step1.ReleaseVersion, nil
}

func coordinationChannel(step pipeline.StepID, doc *state.Document) (string, error) {
	if doc.Step1.ReleaseCoordinationSlackChannel == nil {
		return "", &StepLogicError{Step: step.String(), Reason: "coordination channel has not been created"}
	}
	return *doc.Step1.ReleaseCoordinationSlackChannel, nil
}

// sdkBuilds starts the internal SDK publish jobs for the release candidate
// and, unless patching, the development line.
type sdkBuilds struct{ env *Env }

func (s *sdkBuilds) ID() pipeline.StepID { return pipeline.SdkBuilds }

func (s *sdkBuilds) ShouldExecute(context.Context, *state.Store) (bool, error) { return true, nil }

func (s *sdkBuilds) Execute(ctx context.Context, st *state.Store, prereqs *pipeline.Prereqs) error {
	e := s.env
	doc := st.Snapshot(ctx)
	release, err := releaseVersion(s.ID(), doc)
	if err != nil {
		return err
	}
	rc := e.releaseBranch(release)
	dev := e.testBranch(e.Settings.SDKBranch)
	withDev := buildsDevelopment(doc)

	if doc.Step3.AndroidReleaseCandidateSdkBuild == nil {
		err := e.publishAndroid(ctx, prereqs, rc, publishJobID(JobAndroidPublish, rc),
			"Upload SDK Builds: Android Release Candidate Build", true, false)
		if err != nil {
			return err
		}
	}
	if doc.Step3.AndroidDevSdkBuild == nil && withDev {
		err := e.publishAndroid(ctx, prereqs, dev, publishJobID(JobAndroidPublish, dev),
			"Upload SDK Builds: Android Development Build", true, false)
		if err != nil {
			return err
		}
	}
	if doc.Step3.IOSReleaseCandidateSdkBuild == nil {
		err := e.publishIOS(ctx, prereqs, rc, publishJobID(JobIOSPublish, rc),
			"Upload SDK Builds: iOS Release Candidate Build", false)
		if err != nil {
			return err
		}
	}
	if doc.Step3.IOSDevSdkBuild == nil && withDev {
		err := e.publishIOS(ctx, prereqs, dev, publishJobID(JobIOSPublish, dev),
			"Upload SDK Builds: iOS Development Build", false)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *sdkBuilds) Next() pipeline.Next {
	return pipeline.Dynamic(pipeline.ProcessBuildSdks, "3: Build SDKs", nil)
}

// processBuildSdks records the SDK builds the publish jobs produced.
type processBuildSdks struct{ env *Env }

func (s *processBuildSdks) ID() pipeline.StepID { return pipeline.ProcessBuildSdks }

func (s *processBuildSdks) ShouldExecute(context.Context, *state.Store) (bool, error) { return true, nil }

func (s *processBuildSdks) Execute(ctx context.Context, st *state.Store, _ *pipeline.Prereqs) error {
	e := s.env
	return st.Update(ctx, func(ctx context.Context, doc *state.Document) error {
		release, err := releaseVersion(s.ID(), doc)
		if err != nil {
			return err
		}
		rc := e.releaseBranch(release)
		dev := e.testBranch(e.Settings.SDKBranch)
		withDev := buildsDevelopment(doc)
		devVersion := release
		if doc.Step2.DevelopmentVersion != nil {
			devVersion = *doc.Step2.DevelopmentVersion
		}

		if doc.Step3.AndroidReleaseCandidateSdkBuild == nil {
			b, err := e.androidBuild(ctx, e.Inputs, publishJobID(JobAndroidPublish, rc))
			if err != nil {
				return err
			}
			doc.Step3.AndroidReleaseCandidateSdkBuild = b
			slog.Info("Recorded release candidate Android SDK build.", "version", b.Version, "commit", b.Commit)
		}
		if doc.Step3.AndroidDevSdkBuild == nil && withDev {
			b, err := e.androidBuild(ctx, e.Inputs, publishJobID(JobAndroidPublish, dev))
			if err != nil {
				return err
			}
			doc.Step3.AndroidDevSdkBuild = b
			slog.Info("Recorded development Android SDK build.", "version", b.Version, "commit", b.Commit)
		}
		if doc.Step3.IOSReleaseCandidateSdkBuild == nil {
			b, err := e.iosBuild(ctx, e.Inputs, publishJobID(JobIOSPublish, rc), release)
			if err != nil {
				return err
			}
			doc.Step3.IOSReleaseCandidateSdkBuild = b
			slog.Info("Recorded release candidate iOS SDK build.", "version", b.Version, "commit", b.Commit)
		}
		if doc.Step3.IOSDevSdkBuild == nil && withDev {
			b, err := e.iosBuild(ctx, e.Inputs, publishJobID(JobIOSPublish, dev), devVersion)
			if err != nil {
				return err
			}
			doc.Step3.IOSDevSdkBuild = b
			slog.Info("Recorded development iOS SDK build.", "version", b.Version, "commit", b.Commit)
		}
		return nil
	})
}

func (s *processBuildSdks) Next() pipeline.Next {
	return pipeline.InProcess(pipeline.UpdateSdkDistributionVersion)
}

// updateSdkDistributionVersion points the distribution at the new SDK
// builds: the release branch gets the release candidates and, for minor
// releases, the main branch moves to the development builds.
type updateSdkDistributionVersion struct{ env *Env }

func (s *updateSdkDistributionVersion) ID() pipeline.StepID {
	return pipeline.UpdateSdkDistributionVersion
}

func (s *updateSdkDistributionVersion) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	return st.Snapshot(ctx).Step4.ReleaseCandidateSdkBuildsCommitSha == nil, nil
}

type announcedUpdate struct {
	update  scm.DistributionUpdate
	comment string
}

func (s *updateSdkDistributionVersion) Execute(ctx context.Context, st *state.Store, _ *pipeline.Prereqs) error {
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
	repo := e.Settings.Repos.Distribution
	rc := e.releaseBranch(release)
	mainBranch := e.testBranch(e.Settings.DistributionBranch)
	minor := doc.Step1.ReleaseScope != nil && *doc.Step1.ReleaseScope == state.ScopeMinor

	rcUpdate := scm.DistributionUpdate{
		Repo:       repo,
		BaseBranch: rc,
		Version:    release,
		Android:    doc.Step3.AndroidReleaseCandidateSdkBuild,
		IOS:        doc.Step3.IOSReleaseCandidateSdkBuild,
	}
	if minor {
		rcUpdate.BaseBranch = mainBranch
		rcUpdate.NewBranch = rc
	}
	updates := []announcedUpdate{{update: rcUpdate, comment: CommentFire}}
	if minor {
		if doc.Step2.DevelopmentVersion == nil {
			return &StepLogicError{Step: s.ID().String(), Reason: "development version has not been determined"}
		}
		updates = append(updates, announcedUpdate{
			update: scm.DistributionUpdate{
				Repo:       repo,
				BaseBranch: mainBranch,
				Version:    *doc.Step2.DevelopmentVersion,
				Android:    doc.Step3.AndroidDevSdkBuild,
				IOS:        doc.Step3.IOSDevSdkBuild,
			},
			comment: CommentCool,
		})
	}

	// Pull requests are opened one at a time and then followed up on
	// concurrently.
	prs := make([]scm.PullRequest, 0, len(updates))
	for _, u := range updates {
		pr, err := e.SCM.UpdateDistribution(ctx, u.update)
		if err != nil {
			return fmt.Errorf("update distribution on %s: %w", u.update.BaseBranch, err)
		}
		prs = append(prs, pr)
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, pr := range prs {
		g.Go(func() error {
			if err := e.announcePR(gctx, pr, channel, updates[i].comment); err != nil {
				return err
			}
			slog.Info("Distribution pull request closed.", "url", pr.HTMLURL)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sha, err := e.SCM.HeadCommit(ctx, repo, rc)
	if err != nil {
		return err
	}
	return st.Update(ctx, func(_ context.Context, doc *state.Document) error {
		doc.Step4.ReleaseCandidateSdkBuildsCommitSha = &sha
		return nil
	})
}

func (s *updateSdkDistributionVersion) Next() pipeline.Next {
	return pipeline.InProcess(pipeline.ReleaseBuilds)
}

// releaseBuilds builds the release candidate distribution and sample apps
// at the commit that picked up the release candidate SDKs.
type releaseBuilds struct{ env *Env }

func (s *releaseBuilds) ID() pipeline.StepID { return pipeline.ReleaseBuilds }

func (s *releaseBuilds) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	return len(st.Snapshot(ctx).Step4.ReleaseCandidateBinaryBuilds) == 0, nil
}

func (s *releaseBuilds) Execute(ctx context.Context, st *state.Store, prereqs *pipeline.Prereqs) error {
	doc := st.Snapshot(ctx)
	release, err := releaseVersion(s.ID(), doc)
	if err != nil {
		return err
	}
	commit := ""
	if sha := doc.Step4.ReleaseCandidateSdkBuildsCommitSha; sha != nil {
		commit = *sha
	}
	return s.env.waitForDistributionBuild(ctx, prereqs, s.env.releaseBranch(release), commit, false)
}

func (s *releaseBuilds) Next() pipeline.Next {
	return pipeline.Dynamic(pipeline.ProcessReleaseBuilds, "4: Release Builds", nil)
}

// processReleaseBuilds records the release candidate binaries and shares
// them on the verification ticket.
type processReleaseBuilds struct{ env *Env }

func (s *processReleaseBuilds) ID() pipeline.StepID { return pipeline.ProcessReleaseBuilds }

func (s *processReleaseBuilds) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	return len(st.Snapshot(ctx).Step4.ReleaseCandidateBinaryBuilds) == 0, nil
}

func (s *processReleaseBuilds) Execute(ctx context.Context, st *state.Store, _ *pipeline.Prereqs) error {
	e := s.env
	doc := st.Snapshot(ctx)
	release, err := releaseVersion(s.ID(), doc)
	if err != nil {
		return err
	}
	if doc.Step1.ReleaseVerificationIssueKey == nil {
		return &StepLogicError{Step: s.ID().String(), Reason: "verification issue has not been created"}
	}

	builds, err := e.binaryBuildsFromInputs(ctx, release)
	if err != nil {
		return err
	}
	if err := st.Update(ctx, func(_ context.Context, doc *state.Document) error {
		doc.Step4.ReleaseCandidateBinaryBuilds = builds
		return nil
	}); err != nil {
		return err
	}
	msg := releaseCandidateMessage(release, builds, e.Settings.PipelineURL)
	return e.Tracker.Comment(ctx, *doc.Step1.ReleaseVerificationIssueKey, msg)
}

func (s *processReleaseBuilds) Next() pipeline.Next {
	return pipeline.Dynamic(pipeline.ReleaseVerification, "5: Release Verification", nil)
}
