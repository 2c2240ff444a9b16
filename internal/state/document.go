package state

import (
	"strings"

	"relpipe/internal/version"
)

// Build describes one execution of an artifact-producing CI job.
type Build struct {
	Version     version.Version `json:"version"`
	Branch      string          `json:"branch"`
	Commit      string          `json:"commit"`
	PipelineID  string          `json:"pipeline_id"`
	BuildNumber string          `json:"build_number"`
	BuildJob    string          `json:"build_job"`
	BuildHost   string          `json:"build_host"`
}

// URL is the CI status page of the build.
func (b Build) URL() string {
	host := strings.TrimSuffix(b.BuildHost, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return host + "/cp/pipelines/p/" + b.PipelineID
}

// SdkBuild is a published SDK build.
type SdkBuild struct {
	Build
}

// BinaryBuild is a distributable binary (SDK bundle or sample app).
type BinaryBuild struct {
	Build
	HTMLURL     string  `json:"htmlUrl"`
	DownloadURI *string `json:"downloadUri"`
}

type Step1 struct {
	ReleaseScope                    *ReleaseScope    `json:"releaseScope"`
	ReleaseVersion                  *version.Version `json:"releaseVersion"`
	ReleaseVerificationIssueKey     *string          `json:"releaseVerificationIssueKey"`
	ReleaseCoordinationSlackChannel *string          `json:"releaseCoordinationSlackChannel"`
}

type Step2 struct {
	DevelopmentVersion *version.Version `json:"developmentVersion"`
}

type Step3 struct {
	AndroidDevSdkBuild              *SdkBuild `json:"androidDevSdkBuild"`
	AndroidReleaseCandidateSdkBuild *SdkBuild `json:"androidReleaseCandidateSdkBuild"`
	IOSDevSdkBuild                  *SdkBuild `json:"iOSDevSdkBuild"`
	IOSReleaseCandidateSdkBuild     *SdkBuild `json:"iOSReleaseCandidateSdkBuild"`
}

type Step4 struct {
	ReleaseCandidateBinaryBuilds       map[string]BinaryBuild `json:"releaseCandidateBinaryBuilds"`
	ReleaseCandidateSdkBuildsCommitSha *string                `json:"releaseCandidateSdkBuildsCommitSha"`
}

type Step5 struct {
	ReleaseVerificationPromptMessageTimestamp *string                `json:"releaseVerificationPromptMessageTimestamp"`
	ReleaseVerificationComplete               bool                   `json:"releaseVerificationComplete"`
	ReleaseCandidateAndroidSdkBuild           *SdkBuild              `json:"releaseCandidateAndroidSdkBuild"`
	ReleaseCandidateIosSdkBuild               *SdkBuild              `json:"releaseCandidateIosSdkBuild"`
	ReleaseCandidateBinaryBuilds              map[string]BinaryBuild `json:"releaseCandidateBinaryBuilds"`
}

type Step6 struct {
	ReleaseAndroidSdkBuild *SdkBuild `json:"releaseAndroidSdkBuild"`
	ReleaseIosSdkBuild     *SdkBuild `json:"releaseIosSdkBuild"`
}

type Step7 struct{}

type Step8 struct {
	ReleaseBinaryBuilds map[string]BinaryBuild `json:"releaseBinaryBuilds"`
	ReleaseGithubURL    *string                `json:"releaseGithubUrl"`
}

type Step9 struct {
	AndroidSdkPublishedToMavenCentral bool `json:"androidSdkPublishedToMavenCentral"`
	IosSdkPublishedToCocoapods        bool `json:"iosSdkPublishedToCocoapods"`
}

type Step10 struct {
	SdkAPIReferenceSyncedToPublicGithub bool `json:"sdkApiReferenceSyncedToPublicGithub"`
	SdkAPIReferenceSyncedToSnapDocs     bool `json:"sdkApiReferenceSyncedToSnapDocs"`
}

type Step11 struct{}

// Document is the checkpointed pipeline state. Fields are effectively
// append-only: once a step records a fact, later invocations treat it as
// done and skip the work that produced it.
type Document struct {
	Step1  Step1  `json:"step1"`
	Step2  Step2  `json:"step2"`
	Step3  Step3  `json:"step3"`
	Step4  Step4  `json:"step4"`
	Step5  Step5  `json:"step5"`
	Step6  Step6  `json:"step6"`
	Step7  Step7  `json:"step7"`
	Step8  Step8  `json:"step8"`
	Step9  Step9  `json:"step9"`
	Step10 Step10 `json:"step10"`
	Step11 Step11 `json:"step11"`
}

// NewDocument returns the empty document a fresh pipeline starts with.
func NewDocument() *Document {
	d := &Document{}
	d.normalize()
	return d
}

func (d *Document) normalize() {
	if d.Step4.ReleaseCandidateBinaryBuilds == nil {
		d.Step4.ReleaseCandidateBinaryBuilds = make(map[string]BinaryBuild)
	}
	if d.Step5.ReleaseCandidateBinaryBuilds == nil {
		d.Step5.ReleaseCandidateBinaryBuilds = make(map[string]BinaryBuild)
	}
	if d.Step8.ReleaseBinaryBuilds == nil {
		d.Step8.ReleaseBinaryBuilds = make(map[string]BinaryBuild)
	}
}

// Clone returns a deep copy. Update scopes mutate a clone so a failed
// mutation never reaches the live document.
func (d *Document) Clone() *Document {
	if d == nil {
		return NewDocument()
	}
	c := &Document{
		Step1: Step1{
			ReleaseScope:                    clonePtr(d.Step1.ReleaseScope),
			ReleaseVersion:                  clonePtr(d.Step1.ReleaseVersion),
			ReleaseVerificationIssueKey:     clonePtr(d.Step1.ReleaseVerificationIssueKey),
			ReleaseCoordinationSlackChannel: clonePtr(d.Step1.ReleaseCoordinationSlackChannel),
		},
		Step2: Step2{DevelopmentVersion: clonePtr(d.Step2.DevelopmentVersion)},
		Step3: Step3{
			AndroidDevSdkBuild:              clonePtr(d.Step3.AndroidDevSdkBuild),
			AndroidReleaseCandidateSdkBuild: clonePtr(d.Step3.AndroidReleaseCandidateSdkBuild),
			IOSDevSdkBuild:                  clonePtr(d.Step3.IOSDevSdkBuild),
			IOSReleaseCandidateSdkBuild:     clonePtr(d.Step3.IOSReleaseCandidateSdkBuild),
		},
		Step4: Step4{
			ReleaseCandidateBinaryBuilds:       cloneBinaryBuilds(d.Step4.ReleaseCandidateBinaryBuilds),
			ReleaseCandidateSdkBuildsCommitSha: clonePtr(d.Step4.ReleaseCandidateSdkBuildsCommitSha),
		},
		Step5: Step5{
			ReleaseVerificationPromptMessageTimestamp: clonePtr(d.Step5.ReleaseVerificationPromptMessageTimestamp),
			ReleaseVerificationComplete:               d.Step5.ReleaseVerificationComplete,
			ReleaseCandidateAndroidSdkBuild:           clonePtr(d.Step5.ReleaseCandidateAndroidSdkBuild),
			ReleaseCandidateIosSdkBuild:               clonePtr(d.Step5.ReleaseCandidateIosSdkBuild),
			ReleaseCandidateBinaryBuilds:              cloneBinaryBuilds(d.Step5.ReleaseCandidateBinaryBuilds),
		},
		Step6: Step6{
			ReleaseAndroidSdkBuild: clonePtr(d.Step6.ReleaseAndroidSdkBuild),
			ReleaseIosSdkBuild:     clonePtr(d.Step6.ReleaseIosSdkBuild),
		},
		Step8: Step8{
			ReleaseBinaryBuilds: cloneBinaryBuilds(d.Step8.ReleaseBinaryBuilds),
			ReleaseGithubURL:    clonePtr(d.Step8.ReleaseGithubURL),
		},
		Step9:  d.Step9,
		Step10: d.Step10,
	}
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneBinaryBuilds(in map[string]BinaryBuild) map[string]BinaryBuild {
	out := make(map[string]BinaryBuild, len(in))
	for k, b := range in {
		b.DownloadURI = clonePtr(b.DownloadURI)
		out[k] = b
	}
	return out
}

// Ptr returns a pointer to v. Convenience for optional document fields.
func Ptr[T any](v T) *T {
	return &v
}
