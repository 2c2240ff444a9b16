package scm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"relpipe/internal/version"
)

// SDK version sources.
const (
	AndroidVersionFile = "core/ext.gradle"
	IOSVersionFile     = "SDKs/CameraKit/CameraKit/VERSION"
)

var gradleVersion = regexp.MustCompile(`def version = '([^']+)'`)

// ParseGradleVersion finds the `def version = '...'` declaration.
func ParseGradleVersion(content []byte) (version.Version, error) {
	m := gradleVersion.FindSubmatch(content)
	if m == nil {
		return version.Version{}, fmt.Errorf("no version declaration in %s", AndroidVersionFile)
	}
	return version.Parse(string(m[1]))
}

// ParseVersionFile parses the first line of a VERSION file.
func ParseVersionFile(content []byte) (version.Version, error) {
	line, _, _ := strings.Cut(string(content), "\n")
	return version.Parse(strings.TrimSpace(line))
}

// AndroidSDKVersion reads the development version declared on branch.
func AndroidSDKVersion(ctx context.Context, sc SourceControl, repo, branch string) (version.Version, error) {
	data, err := sc.ReadFile(ctx, repo, branch, AndroidVersionFile)
	if err != nil {
		return version.Version{}, err
	}
	return ParseGradleVersion(data)
}

func IOSSDKVersion(ctx context.Context, sc SourceControl, repo, branch string) (version.Version, error) {
	data, err := sc.ReadFile(ctx, repo, branch, IOSVersionFile)
	if err != nil {
		return version.Version{}, err
	}
	return ParseVersionFile(data)
}

// DistributionVersion reads the VERSION file at the distribution root.
func DistributionVersion(ctx context.Context, sc SourceControl, repo, branch string) (version.Version, error) {
	data, err := sc.ReadFile(ctx, repo, branch, FileVersion)
	if err != nil {
		return version.Version{}, err
	}
	return ParseVersionFile(data)
}
