// Package release implements the Camera Kit SDK release flow as a chain of
// pipeline steps. Each step reads the checkpointed document, drives the
// collaborating services (issue tracker, chat, source control, CI jobs) and
// records what it achieved so a resumed run skips finished work.
package release

import (
	"context"
	"fmt"
	"time"

	"relpipe/internal/artifacts"
	"relpipe/internal/blob"
	"relpipe/internal/jobs"
	"relpipe/internal/remote"
	"relpipe/internal/scm"
)

// CI jobs the flow starts.
const (
	JobAndroidPublish             = "camkit_android_publish"
	JobIOSPublish                 = "publish-sdk"
	JobCocoaPodsPublish           = "cocoapods-publish"
	JobAndroidVersionUpdate       = "camerakit-android-version-update"
	JobIOSVersionUpdate           = "camerakit-ios-version-update"
	JobDistributionBuild          = "camkit_distribution_build"
	JobDistributionAndroidPublish = "camkit_distribution_android_publish"
	JobDistributionIOSPublish     = "camkit_distribution_ios_publish"
	JobDistributionPublishGithub  = "camkit_distribution_publish_github"
	JobDistributionPublishAPIDocs = "camkit_distribution_publsh_api_ref_docs_to_gcs"
)

// Keys of binary build maps.
const (
	KeyDistributionBuild = "SDK distribution build"
	KeySampleAndroid     = "SDK distribution Android sample app build"
	KeySampleIOS         = "SDK distribution iOS sample app build"
)

// Pull request comments that trigger downstream merge automation.
const (
	CommentCool = ":cool:"
	CommentFire = ":fire:"
)

// Repos names the repositories the flow touches, as owner/name.
type Repos struct {
	Android         string
	IOS             string
	Distribution    string
	Docs            string
	ReferencePublic string
	ReferenceTest   string
}

// Settings is the immutable configuration of a run.
type Settings struct {
	TestMode bool
	// ReleaseScope and PatchVersion are the run's requested scope and, for
	// patch releases, the released version being patched.
	ReleaseScope string
	PatchVersion string

	PipelineURL string
	PipelineID  string
	BuildNumber string
	OutputsDir  string

	CIHost string
	// ArtifactBucket is the bare bucket name CI jobs archive outputs to.
	ArtifactBucket string
	Repos          Repos

	SDKBranch          string
	DistributionBranch string
	DocsBranch         string

	TrackerProject   string
	TrackerIssueType string
	TestChannel      string
	AnnounceChannel  string
	Approvers        []string

	MavenCentralURL     string
	CocoaPodsSpecsURL   string
	DocsBucketPublic    string
	DocsBucketStaging   string
	PrereleaseMavenRepo string
	CocoaPodsGCSBucket  string

	PollInterval time.Duration
}

// DefaultSettings returns the production constants of the Camera Kit
// release flow.
func DefaultSettings() Settings {
	return Settings{
		CIHost:         "ci-portal.mesh.sc-corp.net",
		ArtifactBucket: "snapengine-builder-artifacts",
		Repos: Repos{
			Android:         "Snapchat/camera-kit-android-sdk",
			IOS:             "Snapchat/camera-kit-ios-sdk",
			Distribution:    "Snapchat/camera-kit-distribution",
			Docs:            "Snapchat/snap-docs",
			ReferencePublic: "Snapchat/camera-kit-reference",
			ReferenceTest:   "Snap-Kit/camera-kit-reference-test",
		},
		SDKBranch:           "main",
		DistributionBranch:  "master",
		DocsBranch:          "main",
		TrackerProject:      "CAMKIT",
		TrackerIssueType:    "Task",
		TestChannel:         "#camkit-mobile-ops-pipeline-test",
		AnnounceChannel:     "#camkit-mobile-sdk-release-coordination",
		Approvers:           []string{"U07LWTZCSAD", "U03JG3C3VNJ", "U02KMAKEAF4", "U0284PSL84U"},
		MavenCentralURL:     "https://repo1.maven.org/maven2/com/snap/camerakit/camerakit",
		CocoaPodsSpecsURL:   "https://raw.githubusercontent.com/CocoaPods/Specs/master/Specs/d/c/6/SCCameraKit",
		DocsBucketPublic:    "gs://snap-kit-reference-docs/CameraKit",
		DocsBucketStaging:   "gs://snap-kit-reference-docs-staging/CameraKit",
		PrereleaseMavenRepo: "gcs://snapengine-maven-publish/releases",
		CocoaPodsGCSBucket:  "gs://snap-kit-build/scsdk/camera-kit-ios/release",
		PollInterval:        60 * time.Second,
	}
}

// Env bundles the collaborators every step uses.
type Env struct {
	Settings Settings
	Tracker  remote.Tracker
	Chat     remote.Chat
	SCM      scm.SourceControl
	// Inputs holds renamed outputs of the jobs a dynamic step waited for.
	Inputs artifacts.Reader
	// Artifacts holds outputs of pipelines triggered and watched in-process.
	Artifacts artifacts.Reader
	Pipelines jobs.PipelineRunner
	// Blobs downloads release assets.
	Blobs blob.Store
	Probe remote.Probe
	// Sizes is optional; release notes omit size details without it.
	Sizes SizeLookup
	// WorkDir receives downloaded release assets. Defaults to the temp dir.
	WorkDir string
}

// StepLogicError is a business rule violation that stops the flow.
type StepLogicError struct {
	Step   string
	Reason string
}

func (e *StepLogicError) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Reason)
}

func (e *Env) announceChannel() string {
	if e.Settings.TestMode {
		return e.Settings.TestChannel
	}
	return e.Settings.AnnounceChannel
}

func (e *Env) testBranch(branch string) string {
	return scm.TestBranch(branch, e.Settings.TestMode)
}

// branchPrefix is passed to version update jobs, which expect "N/A" when
// no prefix applies.
func (e *Env) branchPrefix() string {
	if e.Settings.TestMode {
		return scm.TestBranchPrefix
	}
	return "N/A"
}

func (e *Env) pipelineURL(id string) string {
	return fmt.Sprintf("https://%s/cp/pipelines/p/%s", e.Settings.CIHost, id)
}

// post sends a chat message.
func (e *Env) post(ctx context.Context, channel, text string) error {
	if _, err := e.Chat.Post(ctx, channel, text); err != nil {
		return err
	}
	return nil
}

// sleep waits one poll interval. It returns early when stop closes.
func (e *Env) sleep(ctx context.Context, stop <-chan struct{}) error {
	t := time.NewTimer(e.Settings.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	case <-t.C:
		return nil
	}
}
