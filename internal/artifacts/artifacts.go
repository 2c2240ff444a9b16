// Package artifacts reads the files finished jobs hand to the pipeline:
// build info, Maven publications, pull request responses and sample app
// release info. Files arrive either as renamed inputs in a local directory
// or in the artifact bucket under {job}/{pipeline_id}/.
package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"relpipe/internal/blob"
	"relpipe/internal/version"
)

// Output files produced by pipeline jobs.
const (
	FileBuildInfo    = "build_info.json"
	FilePublications = "publications.txt"
	FilePullRequest  = "pr_request_response.json"
	FileReleaseInfo  = "applivery_release_info.json"
)

// ErrNoInputs is returned when the job inputs directory is not configured
// or does not exist.
var ErrNoInputs = errors.New("job inputs directory not available")

// Reader loads one output file of a job.
// Production: Inputs (renamed inputs), Bucket (artifact storage)
// Testing: Inputs over t.TempDir
type Reader interface {
	Read(ctx context.Context, prefix, file string) ([]byte, error)
}

// Inputs reads renamed job outputs from the inputs directory, where the
// scheduler places them as {prefix}-{file}.
type Inputs struct {
	Dir string
}

func (in Inputs) Path(prefix, file string) string {
	return filepath.Join(in.Dir, prefix+"-"+file)
}

func (in Inputs) Read(_ context.Context, prefix, file string) ([]byte, error) {
	if in.Dir == "" {
		return nil, ErrNoInputs
	}
	if _, err := os.Stat(in.Dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoInputs, in.Dir)
		}
		return nil, fmt.Errorf("stat inputs dir: %w", err)
	}
	data, err := os.ReadFile(in.Path(prefix, file))
	if err != nil {
		return nil, fmt.Errorf("read job input %s-%s: %w", prefix, file, err)
	}
	return data, nil
}

// Bucket reads job outputs archived in blob storage under
// {base}/{prefix}/{file}, where prefix is usually {job}/{pipeline_id}.
type Bucket struct {
	Blobs blob.Store
	Base  string
}

func (b Bucket) URI(prefix, file string) string {
	return blob.Join(b.Base, prefix+"/"+file)
}

func (b Bucket) Read(ctx context.Context, prefix, file string) ([]byte, error) {
	uri := b.URI(prefix, file)
	data, err := b.Blobs.Get(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", uri, err)
	}
	return data, nil
}

// ReadJSON decodes one JSON output file into v.
func ReadJSON(ctx context.Context, r Reader, prefix, file string, v any) error {
	data, err := r.Read(ctx, prefix, file)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s-%s: %w", prefix, file, err)
	}
	return nil
}

// BuildInfo is the build_info.json a publishing job writes.
type BuildInfo struct {
	Commit      string
	BuildNumber string
	Branch      string
	PipelineID  string
}

// UnmarshalJSON accepts build numbers and pipeline ids as either JSON
// numbers or strings; CI jobs emit both.
func (b *BuildInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Commit      string          `json:"commit"`
		BuildNumber json.RawMessage `json:"build_number"`
		Branch      string          `json:"branch"`
		PipelineID  json.RawMessage `json:"pipeline_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	number, err := scalar(raw.BuildNumber)
	if err != nil {
		return fmt.Errorf("build_number: %w", err)
	}
	pipelineID, err := scalar(raw.PipelineID)
	if err != nil {
		return fmt.Errorf("pipeline_id: %w", err)
	}
	*b = BuildInfo{Commit: raw.Commit, BuildNumber: number, Branch: raw.Branch, PipelineID: pipelineID}
	return nil
}

func scalar(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func ReadBuildInfo(ctx context.Context, r Reader, prefix string) (BuildInfo, error) {
	var info BuildInfo
	err := ReadJSON(ctx, r, prefix, FileBuildInfo, &info)
	return info, err
}

// ParsePublications extracts the version of the first publication line,
// "group:artifact:version".
func ParsePublications(data []byte) (version.Version, error) {
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimSpace(line)
	i := strings.LastIndex(line, ":")
	if i < 0 {
		return version.Version{}, fmt.Errorf("malformed publication %q", line)
	}
	return version.Parse(strings.TrimSpace(line[i+1:]))
}

func ReadPublishedVersion(ctx context.Context, r Reader, prefix string) (version.Version, error) {
	data, err := r.Read(ctx, prefix, FilePublications)
	if err != nil {
		return version.Version{}, err
	}
	v, err := ParsePublications(data)
	if err != nil {
		return version.Version{}, fmt.Errorf("read %s-%s: %w", prefix, FilePublications, err)
	}
	return v, nil
}

// ReadDownloadURL returns the sample app download link.
func ReadDownloadURL(ctx context.Context, r Reader, prefix string) (string, error) {
	var info struct {
		DownloadURL string `json:"download_url"`
	}
	if err := ReadJSON(ctx, r, prefix, FileReleaseInfo, &info); err != nil {
		return "", err
	}
	if info.DownloadURL == "" {
		return "", fmt.Errorf("%s-%s: missing download_url", prefix, FileReleaseInfo)
	}
	return info.DownloadURL, nil
}

// PullRequest is the subset of a GitHub pull request response the
// pipeline follows up on.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
	Head    struct {
		Repo struct {
			Name string `json:"name"`
		} `json:"repo"`
	} `json:"head"`
}

// Repo is the owner/name of the head repository.
func (p PullRequest) Repo(owner string) string {
	return owner + "/" + p.Head.Repo.Name
}

func ReadPullRequest(ctx context.Context, r Reader, prefix string) (PullRequest, error) {
	var pr PullRequest
	err := ReadJSON(ctx, r, prefix, FilePullRequest, &pr)
	return pr, err
}
