package release

import (
	"context"
	"fmt"
	"log/slog"

	"relpipe/internal/pipeline"
	"relpipe/internal/scm"
	"relpipe/internal/state"
)

// finalAndroidSDKBuild drops the release candidate qualifier from the
// Android SDK and publishes the final build. The iOS SDK ships its last
// release candidate as is.
type finalAndroidSDKBuild struct{ env *Env }

func (s *finalAndroidSDKBuild) ID() pipeline.StepID { return pipeline.FinalAndroidSDKBuild }

func (s *finalAndroidSDKBuild) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	doc := st.Snapshot(ctx)
	return doc.Step5.ReleaseVerificationComplete && doc.Step6.ReleaseAndroidSdkBuild == nil, nil
}

func (s *finalAndroidSDKBuild) Execute(ctx context.Context, st *state.Store, prereqs *pipeline.Prereqs) error {
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
	branch := e.releaseBranch(release)

	if err := e.bumpVersion(ctx, e.Settings.Repos.Android, JobAndroidVersionUpdate, branch, release, channel); err != nil {
		return err
	}
	return e.publishAndroid(ctx, prereqs, branch, "", "Upload SDK Builds: Android Release Build", true, false)
}

func (s *finalAndroidSDKBuild) Next() pipeline.Next {
	return pipeline.Dynamic(pipeline.ProcessFinalSDKBuild, "6: SDK Release Builds", nil)
}

// processFinalSDKBuild records the final SDK builds and points the
// distribution release branch at the final Android SDK.
type processFinalSDKBuild struct{ env *Env }

func (s *processFinalSDKBuild) ID() pipeline.StepID { return pipeline.ProcessFinalSDKBuild }

func (s *processFinalSDKBuild) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	doc := st.Snapshot(ctx)
	return doc.Step5.ReleaseVerificationComplete &&
		(doc.Step6.ReleaseAndroidSdkBuild == nil || doc.Step6.ReleaseIosSdkBuild == nil), nil
}

func (s *processFinalSDKBuild) Execute(ctx context.Context, st *state.Store, _ *pipeline.Prereqs) error {
	e := s.env
	if err := st.Update(ctx, func(ctx context.Context, doc *state.Document) error {
		if doc.Step6.ReleaseAndroidSdkBuild != nil {
			return nil
		}
		b, err := e.androidBuild(ctx, e.Inputs, JobAndroidPublish)
		if err != nil {
			return err
		}
		doc.Step6.ReleaseAndroidSdkBuild = b
		slog.Info("Recorded release Android SDK build.", "version", b.Version, "commit", b.Commit)
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
	pr, err := e.SCM.UpdateDistribution(ctx, scm.DistributionUpdate{
		Repo:       e.Settings.Repos.Distribution,
		BaseBranch: e.releaseBranch(release),
		Version:    release,
		Android:    doc.Step6.ReleaseAndroidSdkBuild,
	})
	if err != nil {
		return err
	}
	if err := e.announcePR(ctx, pr, channel, CommentFire); err != nil {
		return err
	}

	return st.Update(ctx, func(_ context.Context, doc *state.Document) error {
		if doc.Step6.ReleaseIosSdkBuild != nil {
			return nil
		}
		ios := firstBuild(doc.Step5.ReleaseCandidateIosSdkBuild, doc.Step3.IOSReleaseCandidateSdkBuild)
		if ios == nil {
			return &StepLogicError{
				Step:   s.ID().String(),
				Reason: fmt.Sprintf("Expected the %s iOS SDK release candidate build to not be null!", release),
			}
		}
		doc.Step6.ReleaseIosSdkBuild = ios
		return nil
	})
}

func (s *processFinalSDKBuild) Next() pipeline.Next { return pipeline.InProcess(pipeline.UpdateChangeLog) }

// updateChangeLog dates the unreleased changelog section on the release
// branch.
type updateChangeLog struct{ env *Env }

func (s *updateChangeLog) ID() pipeline.StepID { return pipeline.UpdateChangeLog }

func (s *updateChangeLog) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	doc := st.Snapshot(ctx)
	return doc.Step5.ReleaseVerificationComplete &&
		doc.Step6.ReleaseAndroidSdkBuild != nil &&
		doc.Step6.ReleaseIosSdkBuild != nil &&
		len(doc.Step8.ReleaseBinaryBuilds) == 0, nil
}

func (s *updateChangeLog) Execute(ctx context.Context, st *state.Store, _ *pipeline.Prereqs) error {
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

	err = func() error {
		pr, err := e.SCM.UpdateChangelog(ctx, e.Settings.Repos.Distribution, e.releaseBranch(release), release)
		if err != nil {
			return err
		}
		// Cool, not fire: the changelog update is cherry-picked downstream
		// and conflicts are resolved by hand.
		return e.announcePR(ctx, pr, channel, CommentCool)
	}()
	if err != nil {
		msg := fmt.Sprintf("Failure while updating CHANGELOG for the %s release due to: %v", release, err)
		if perr := e.post(ctx, channel, msg); perr != nil {
			slog.Warn("Failed to report changelog failure.", "err", perr)
		}
		return fmt.Errorf("update changelog for %s: %w", release, err)
	}
	return nil
}

func (s *updateChangeLog) Next() pipeline.Next {
	return pipeline.InProcess(pipeline.BuildDistributionRelease)
}
