package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"relpipe/internal/artifacts"
	"relpipe/internal/jobs"
	"relpipe/internal/pipeline"
	"relpipe/internal/scm"
	"relpipe/internal/state"
	"relpipe/internal/version"
)

const distributionZip = "camerakit-distribution.zip"

// publishJobID names a publish job per branch so the development and
// release candidate builds of one platform can run side by side.
func publishJobID(job, branch string) string {
	return job + "-" + branch
}

func (e *Env) releaseBranch(v version.Version) string {
	return scm.ReleaseBranch(v, e.Settings.TestMode)
}

// owner is the organisation pull requests opened by CI jobs live in.
func (e *Env) owner() string {
	o, _, _ := strings.Cut(e.Settings.Repos.Distribution, "/")
	return o
}

func (e *Env) sdkBuild(info artifacts.BuildInfo, v version.Version, job string) *state.SdkBuild {
	return &state.SdkBuild{Build: state.Build{
		Version:     v,
		Branch:      info.Branch,
		Commit:      info.Commit,
		PipelineID:  info.PipelineID,
		BuildNumber: info.BuildNumber,
		BuildJob:    job,
		BuildHost:   e.Settings.CIHost,
	}}
}

// androidBuild reads an Android publish job's outputs. The version comes
// from the first Maven publication.
func (e *Env) androidBuild(ctx context.Context, r artifacts.Reader, prefix string) (*state.SdkBuild, error) {
	info, err := artifacts.ReadBuildInfo(ctx, r, prefix)
	if err != nil {
		return nil, err
	}
	v, err := artifacts.ReadPublishedVersion(ctx, r, prefix)
	if err != nil {
		return nil, err
	}
	return e.sdkBuild(info, v, JobAndroidPublish), nil
}

// iosBuild reads an iOS publish job's outputs. The job does not report a
// version so the caller supplies it.
func (e *Env) iosBuild(ctx context.Context, r artifacts.Reader, prefix string, v version.Version) (*state.SdkBuild, error) {
	info, err := artifacts.ReadBuildInfo(ctx, r, prefix)
	if err != nil {
		return nil, err
	}
	return e.sdkBuild(info, v, JobIOSPublish), nil
}

func (e *Env) publishAndroid(ctx context.Context, prereqs *pipeline.Prereqs, branch, id, display string, internal, testMode bool) error {
	repo := "maven_sonatype_staging"
	if internal {
		repo = "maven_snap_internal"
	}
	_, err := prereqs.WaitFor(ctx, pipeline.JobRequest{
		Repo:        e.Settings.Repos.Android,
		Branch:      branch,
		Job:         JobAndroidPublish,
		DisplayName: display,
		ID:          id,
		Params: jobs.Params{
			"maven_repository": repo,
			"test_mode":        strconv.FormatBool(testMode),
		},
		Outputs: []string{artifacts.FilePublications, artifacts.FileBuildInfo},
	})
	return err
}

func (e *Env) publishIOS(ctx context.Context, prereqs *pipeline.Prereqs, branch, id, display string, testMode bool) error {
	_, err := prereqs.WaitFor(ctx, pipeline.JobRequest{
		Repo:        e.Settings.Repos.IOS,
		Branch:      branch,
		Job:         JobIOSPublish,
		DisplayName: display,
		ID:          id,
		Params:      jobs.Params{"test_mode": strconv.FormatBool(testMode)},
		Outputs:     []string{artifacts.FileBuildInfo},
	})
	return err
}

// versionUpdateParams ask a version bump job to open a pull request moving
// branch to next.
func (e *Env) versionUpdateParams(branch string, next version.Version) jobs.Params {
	return jobs.Params{
		"branch":        branch,
		"commit":        "HEAD",
		"next_version":  next.String(),
		"branch_prefix": e.branchPrefix(),
	}
}

type distributionJob struct {
	job     string
	key     string
	display string
	outputs []string
}

var distributionJobs = []distributionJob{
	{
		job:     JobDistributionBuild,
		key:     KeyDistributionBuild,
		display: "Build: CameraKit Distribution",
		outputs: []string{artifacts.FileBuildInfo},
	},
	{
		job:     JobDistributionIOSPublish,
		key:     KeySampleIOS,
		display: "Publish: iOS Sample App",
		outputs: []string{artifacts.FileReleaseInfo, artifacts.FileBuildInfo},
	},
	{
		job:     JobDistributionAndroidPublish,
		key:     KeySampleAndroid,
		display: "Publish: Android Sample App",
		outputs: []string{artifacts.FileReleaseInfo, artifacts.FileBuildInfo},
	},
}

// waitForDistributionBuild registers the distribution bundle and sample
// app jobs as prerequisites of the next step.
func (e *Env) waitForDistributionBuild(ctx context.Context, prereqs *pipeline.Prereqs, branch, commit string, testMode bool) error {
	pull := "N/A"
	if e.Settings.TestMode {
		pull = "1"
	}
	for _, j := range distributionJobs {
		_, err := prereqs.WaitFor(ctx, pipeline.JobRequest{
			Repo:        e.Settings.Repos.Distribution,
			Branch:      branch,
			Commit:      commit,
			Job:         j.job,
			DisplayName: j.display,
			Params: jobs.Params{
				"pull_number": pull,
				"test_mode":   strconv.FormatBool(testMode),
			},
			Outputs: j.outputs,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// distributionURLs locates the bundle a distribution build archived under
// jobPath ({job}/{pipeline_id}).
func (e *Env) distributionURLs(jobPath string) (htmlURL, downloadURI string) {
	p := e.Settings.ArtifactBucket + "/" + jobPath + "/" + distributionZip
	return "https://console.cloud.google.com/storage/browser/_details/" + p, "gs://" + p
}

func (e *Env) binaryBuild(v version.Version, branch string, info artifacts.BuildInfo, job, htmlURL string, download *string) state.BinaryBuild {
	return state.BinaryBuild{
		Build: state.Build{
			Version:     v,
			Branch:      branch,
			Commit:      info.Commit,
			PipelineID:  info.PipelineID,
			BuildNumber: info.BuildNumber,
			BuildJob:    job,
			BuildHost:   e.Settings.CIHost,
		},
		HTMLURL:     htmlURL,
		DownloadURI: download,
	}
}

// binaryBuildsFromInputs collects the outputs of the distribution jobs a
// dynamic step waited for.
func (e *Env) binaryBuildsFromInputs(ctx context.Context, v version.Version) (map[string]state.BinaryBuild, error) {
	branch := e.releaseBranch(v)
	out := make(map[string]state.BinaryBuild, len(distributionJobs))
	for _, j := range distributionJobs {
		var (
			htmlURL  string
			download *string
		)
		if j.job == JobDistributionBuild {
			h, d := e.distributionURLs(JobDistributionBuild + "/" + e.Settings.PipelineID)
			htmlURL, download = h, &d
		} else {
			u, err := artifacts.ReadDownloadURL(ctx, e.Inputs, j.job)
			if err != nil {
				return nil, err
			}
			htmlURL = u
		}
		info, err := artifacts.ReadBuildInfo(ctx, e.Inputs, j.job)
		if err != nil {
			return nil, err
		}
		out[j.key] = e.binaryBuild(v, branch, info, j.job, htmlURL, download)
	}
	return out, nil
}

// buildDistribution triggers the distribution jobs at commit as standalone
// pipelines, waits for all of them and collects their archived outputs.
func (e *Env) buildDistribution(ctx context.Context, v version.Version, commit, channel string) (map[string]state.BinaryBuild, error) {
	branch := e.releaseBranch(v)
	builds := make([]state.BinaryBuild, len(distributionJobs))

	g, ctx := errgroup.WithContext(ctx)
	for i, j := range distributionJobs {
		g.Go(func() error {
			label := jobs.Label(e.Settings.Repos.Distribution, branch, commit, j.job)
			pid, err := e.Pipelines.Trigger(ctx, label, nil)
			if err != nil {
				return err
			}
			slog.Info("Watching pipeline.", "job", j.key, "url", e.pipelineURL(pid))
			if err := e.Pipelines.Watch(ctx, pid); err != nil {
				msg := fmt.Sprintf("❌ Pipeline %s failed %s", j.key, e.pipelineURL(pid))
				if perr := e.post(ctx, channel, msg); perr != nil {
					slog.Warn("Failed to report pipeline failure.", "err", perr)
				}
				return fmt.Errorf("pipeline %s failed: %w", j.key, err)
			}

			jobPath := j.job + "/" + pid
			var (
				htmlURL  string
				download *string
			)
			if j.job == JobDistributionBuild {
				h, d := e.distributionURLs(jobPath)
				htmlURL, download = h, &d
			} else {
				u, err := artifacts.ReadDownloadURL(ctx, e.Artifacts, jobPath)
				if err != nil {
					return err
				}
				htmlURL = u
			}
			info, err := artifacts.ReadBuildInfo(ctx, e.Artifacts, jobPath)
			if err != nil {
				return err
			}
			builds[i] = e.binaryBuild(v, branch, info, jobPath, htmlURL, download)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]state.BinaryBuild, len(builds))
	for i, j := range distributionJobs {
		out[j.key] = builds[i]
	}
	return out, nil
}

// releaseCandidateMessage lists the builds testers should verify.
func releaseCandidateMessage(v version.Version, builds map[string]state.BinaryBuild, pipelineURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Release candidate builds for %s are ready for testing:\n", v)
	for _, j := range distributionJobs {
		build, ok := builds[j.key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "h3. %s:\nVersion %s (%s):\n%s\nbuilt by %s\n",
			j.key, build.Version, build.BuildNumber, build.HTMLURL, build.URL())
	}
	fmt.Fprintf(&b, "\nh6. Generated in: %s", pipelineURL)
	return b.String()
}

// announcePR posts a pull request to channel and blocks until it is
// approved, commented on and closed.
func (e *Env) announcePR(ctx context.Context, pr scm.PullRequest, channel, comment string) error {
	if err := e.post(ctx, channel, fmt.Sprintf("%s: %s", pr.Title, pr.HTMLURL)); err != nil {
		return err
	}
	return e.SCM.CommentWhenApprovedAndWaitClosed(ctx, pr.Repo, pr.Number, comment)
}

// followUpJobPR handles a pull request a version bump job opened as a
// draft: it is marked ready, then announced and awaited.
func (e *Env) followUpJobPR(ctx context.Context, pr artifacts.PullRequest, channel, comment string) error {
	repo := pr.Repo(e.owner())
	slog.Info("Readying pull request.", "url", pr.HTMLURL)
	if err := e.SCM.MarkPRReady(ctx, repo, pr.Number); err != nil {
		return err
	}
	return e.announcePR(ctx, scm.PullRequest{Repo: repo, Number: pr.Number, Title: pr.Title, HTMLURL: pr.HTMLURL}, channel, comment)
}

// bumpVersion triggers the version update job on branch, waits for it and
// follows up on the pull request it opened. The job exits without a pull
// request when no bump is needed, so missing output is only logged.
func (e *Env) bumpVersion(ctx context.Context, repo, job, branch string, next version.Version, channel string) error {
	label := jobs.Label(repo, branch, "", job)
	pid, err := e.Pipelines.Trigger(ctx, label, e.versionUpdateParams(branch, next))
	if err != nil {
		return err
	}
	slog.Info("Watching pipeline.", "job", job, "url", e.pipelineURL(pid))
	if err := e.Pipelines.Watch(ctx, pid); err != nil {
		slog.Warn("Version update pipeline did not succeed.", "job", job, "pipeline", pid, "err", err)
	}

	pr, err := artifacts.ReadPullRequest(ctx, e.Artifacts, job+"/"+pid)
	if err != nil {
		slog.Info("No version update pull request, assuming no update was needed.", "job", job, "err", err)
		return nil
	}
	if err := e.followUpJobPR(ctx, pr, channel, CommentFire); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("Failed to follow up on version update pull request.", "url", pr.HTMLURL, "err", err)
	}
	return nil
}

// buildName is the human-readable name of the CI build.
func (e *Env) buildName(scope state.ReleaseScope, v version.Version) (string, error) {
	if e.Settings.BuildNumber == "" {
		return "", errors.New("build number is not set")
	}
	suffix := ""
	if e.Settings.TestMode {
		suffix = "_test"
	}
	return fmt.Sprintf("%s%s_%s_%s", e.Settings.BuildNumber, suffix, strings.ToLower(scope.String()), v), nil
}
