package release

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"relpipe/internal/jobs"
	"relpipe/internal/pipeline"
	"relpipe/internal/remote"
	"relpipe/internal/scm"
	"relpipe/internal/state"
)

// Issue statuses that mark the release candidate as verified.
var verifiedStatuses = []string{"Complete", "Done"}

// releaseVerification waits for testers to sign off the release candidate.
// Meanwhile it rebuilds the SDKs and the distribution whenever their
// release branches move, so testers always verify the branch heads.
type releaseVerification struct{ env *Env }

func (s *releaseVerification) ID() pipeline.StepID { return pipeline.ReleaseVerification }

func (s *releaseVerification) ShouldExecute(ctx context.Context, st *state.Store) (bool, error) {
	return !st.Snapshot(ctx).Step5.ReleaseVerificationComplete, nil
}

func (s *releaseVerification) Execute(ctx context.Context, st *state.Store, _ *pipeline.Prereqs) error {
	doc := st.Snapshot(ctx)
	if doc.Step1.ReleaseVersion == nil || doc.Step1.ReleaseVerificationIssueKey == nil || doc.Step1.ReleaseCoordinationSlackChannel == nil {
		return &StepLogicError{Step: s.ID().String(), Reason: "release scope step has not completed"}
	}

	// verified wakes sleeping workers once sign-off is recorded. The
	// document stays the source of truth.
	verified := make(chan struct{})
	var once sync.Once
	markVerified := func() { once.Do(func() { close(verified) }) }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.awaitVerification(gctx, st, markVerified); err != nil {
			return fmt.Errorf("await verification: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.rebuildSDKs(gctx, st, verified); err != nil {
			return fmt.Errorf("rebuild sdks: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.rebuildDistribution(gctx, st, verified); err != nil {
			return fmt.Errorf("rebuild distribution: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *releaseVerification) Next() pipeline.Next {
	return pipeline.InProcess(pipeline.FinalAndroidSDKBuild)
}

func (s *releaseVerification) awaitVerification(ctx context.Context, st *state.Store, markVerified func()) error {
	e := s.env
	for {
		doc := st.Snapshot(ctx)
		key := *doc.Step1.ReleaseVerificationIssueKey
		channel := *doc.Step1.ReleaseCoordinationSlackChannel
		release := *doc.Step1.ReleaseVersion

		status, err := e.Tracker.IssueStatus(ctx, key)
		if err != nil {
			return err
		}
		slog.Info("Checked verification issue.", "issue", key, "status", status)

		if slices.Contains(verifiedStatuses, status) {
			ts := doc.Step5.ReleaseVerificationPromptMessageTimestamp
			if ts == nil {
				msg := fmt.Sprintf("Release candidate for %s appears to be verified in %s, react with :%s: to continue with the release",
					release, e.Tracker.IssueURL(key), remote.ApprovalReaction)
				posted, err := e.Chat.Post(ctx, channel, msg)
				if err != nil {
					return err
				}
				if err := st.Update(ctx, func(_ context.Context, doc *state.Document) error {
					doc.Step5.ReleaseVerificationPromptMessageTimestamp = &posted
					return nil
				}); err != nil {
					return err
				}
				ts = &posted
			}

			if err := remote.WaitForApproval(ctx, e.Chat, channel, *ts, e.Settings.Approvers, e.Settings.PollInterval); err != nil {
				return err
			}
			err := e.Tracker.Comment(ctx, key, fmt.Sprintf(
				"Release candidate for %s appears to be verified, proceeding on to the final release steps in: %s",
				release, e.Settings.PipelineURL))
			if err != nil {
				return err
			}
			if err := st.Update(ctx, func(_ context.Context, doc *state.Document) error {
				doc.Step5.ReleaseVerificationComplete = true
				return nil
			}); err != nil {
				return err
			}
			slog.Info("Release candidate verified.", "version", release)
			markVerified()
			return nil
		}

		slog.Info("Waiting for verification issue to be marked Complete or Done.", "issue", key)
		if err := e.sleep(ctx, nil); err != nil {
			return err
		}
	}
}

// rebuildSDKs publishes new release candidate SDKs when the SDK release
// branches gain commits and points the distribution at them.
func (s *releaseVerification) rebuildSDKs(ctx context.Context, st *state.Store, verified <-chan struct{}) error {
	e := s.env
	for {
		doc := st.Snapshot(ctx)
		if doc.Step5.ReleaseVerificationComplete {
			return nil
		}
		release := *doc.Step1.ReleaseVersion
		channel := *doc.Step1.ReleaseCoordinationSlackChannel
		android := firstBuild(doc.Step5.ReleaseCandidateAndroidSdkBuild, doc.Step3.AndroidReleaseCandidateSdkBuild)
		ios := firstBuild(doc.Step5.ReleaseCandidateIosSdkBuild, doc.Step3.IOSReleaseCandidateSdkBuild)
		if android == nil || ios == nil {
			return &StepLogicError{Step: s.ID().String(), Reason: "missing release candidate SDK builds"}
		}
		branch := e.releaseBranch(release)

		var androidBuilt, iosBuilt bool
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			androidBuilt, err = s.rebuildAndroid(gctx, st, branch, android, channel)
			return err
		})
		g.Go(func() error {
			var err error
			iosBuilt, err = s.rebuildIOS(gctx, st, branch, ios)
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}

		doc = st.Snapshot(ctx)
		if !doc.Step5.ReleaseVerificationComplete && (androidBuilt || iosBuilt) {
			slog.Info("Updating distribution with rebuilt SDKs.", "android", androidBuilt, "ios", iosBuilt)
			pr, err := e.SCM.UpdateDistribution(ctx, scm.DistributionUpdate{
				Repo:       e.Settings.Repos.Distribution,
				BaseBranch: branch,
				Version:    release,
				Android:    doc.Step5.ReleaseCandidateAndroidSdkBuild,
				IOS:        doc.Step5.ReleaseCandidateIosSdkBuild,
			})
			if err != nil {
				return err
			}
			if err := e.announcePR(ctx, pr, channel, CommentFire); err != nil {
				return err
			}
		}

		if err := e.sleep(ctx, verified); err != nil {
			return err
		}
	}
}

func firstBuild(builds ...*state.SdkBuild) *state.SdkBuild {
	for _, b := range builds {
		if b != nil {
			return b
		}
	}
	return nil
}

func (s *releaseVerification) rebuildAndroid(ctx context.Context, st *state.Store, branch string, build *state.SdkBuild, channel string) (bool, error) {
	e := s.env
	repo := e.Settings.Repos.Android
	head, err := e.SCM.HeadCommit(ctx, repo, branch)
	if err != nil {
		return false, err
	}
	slog.Debug("Compared Android SDK commits.", "head", head, "build", build.Commit)
	if head == build.Commit {
		return false, nil
	}

	next := build.Version.BumpReleaseCandidate()
	slog.Info("Android SDK release branch has new commits, rebuilding.", "branch", branch, "version", next)
	if err := e.bumpVersion(ctx, repo, JobAndroidVersionUpdate, branch, next, channel); err != nil {
		return false, err
	}

	pid, err := e.triggerAndWatch(ctx, jobs.Label(repo, branch, "", JobAndroidPublish))
	if err != nil {
		return false, err
	}
	b, err := e.androidBuild(ctx, e.Artifacts, JobAndroidPublish+"/"+pid)
	if err != nil {
		return false, err
	}
	return true, st.Update(ctx, func(_ context.Context, doc *state.Document) error {
		doc.Step5.ReleaseCandidateAndroidSdkBuild = b
		return nil
	})
}

func (s *releaseVerification) rebuildIOS(ctx context.Context, st *state.Store, branch string, build *state.SdkBuild) (bool, error) {
	e := s.env
	repo := e.Settings.Repos.IOS
	head, err := e.SCM.HeadCommit(ctx, repo, branch)
	if err != nil {
		return false, err
	}
	slog.Debug("Compared iOS SDK commits.", "head", head, "build", build.Commit)
	if head == build.Commit {
		return false, nil
	}

	slog.Info("iOS SDK release branch has new commits, rebuilding.", "branch", branch)
	pid, err := e.triggerAndWatch(ctx, jobs.Label(repo, branch, "", JobIOSPublish))
	if err != nil {
		return false, err
	}
	release := st.Snapshot(ctx).Step1.ReleaseVersion
	b, err := e.iosBuild(ctx, e.Artifacts, JobIOSPublish+"/"+pid, *release)
	if err != nil {
		return false, err
	}
	return true, st.Update(ctx, func(_ context.Context, doc *state.Document) error {
		doc.Step5.ReleaseCandidateIosSdkBuild = b
		return nil
	})
}

// triggerAndWatch runs a publish pipeline to completion.
func (e *Env) triggerAndWatch(ctx context.Context, label string) (string, error) {
	pid, err := e.Pipelines.Trigger(ctx, label, jobs.Params{"test_mode": strconv.FormatBool(e.Settings.TestMode)})
	if err != nil {
		return "", err
	}
	slog.Info("Watching pipeline.", "label", label, "url", e.pipelineURL(pid))
	if err := e.Pipelines.Watch(ctx, pid); err != nil {
		return "", err
	}
	return pid, nil
}

// rebuildDistribution rebuilds the release candidate binaries when the
// distribution release branch moves past the last build.
func (s *releaseVerification) rebuildDistribution(ctx context.Context, st *state.Store, verified <-chan struct{}) error {
	e := s.env
	for {
		doc := st.Snapshot(ctx)
		if doc.Step5.ReleaseVerificationComplete {
			return nil
		}
		release := *doc.Step1.ReleaseVersion
		channel := *doc.Step1.ReleaseCoordinationSlackChannel
		key := *doc.Step1.ReleaseVerificationIssueKey
		branch := e.releaseBranch(release)

		builds := doc.Step5.ReleaseCandidateBinaryBuilds
		if len(builds) == 0 {
			builds = doc.Step4.ReleaseCandidateBinaryBuilds
		}
		dist, ok := builds[KeyDistributionBuild]
		if !ok {
			return &StepLogicError{Step: s.ID().String(), Reason: "missing distribution build in release candidate builds"}
		}

		head, err := e.SCM.HeadCommit(ctx, e.Settings.Repos.Distribution, branch)
		if err != nil {
			return err
		}
		slog.Debug("Compared distribution commits.", "head", head, "build", dist.Commit)
		if head == dist.Commit {
			if err := e.sleep(ctx, verified); err != nil {
				return err
			}
			continue
		}

		slog.Info("Distribution release branch has new commits, rebuilding.", "branch", branch, "commit", head)
		rebuilt, err := e.buildDistribution(ctx, release, head, channel)
		if err != nil {
			return err
		}
		if err := st.Update(ctx, func(_ context.Context, doc *state.Document) error {
			doc.Step5.ReleaseCandidateBinaryBuilds = rebuilt
			return nil
		}); err != nil {
			return err
		}
		if st.Snapshot(ctx).Step5.ReleaseVerificationComplete {
			return nil
		}
		if err := e.Tracker.Comment(ctx, key, releaseCandidateMessage(release, rebuilt, e.Settings.PipelineURL)); err != nil {
			return err
		}
	}
}
