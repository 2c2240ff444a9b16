package release

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"relpipe/internal/scm"
	"relpipe/internal/shell"
	"relpipe/internal/state"
	"relpipe/internal/version"
)

// Size is the footprint an SDK build adds to an app.
type Size struct {
	InstallBytes  int64
	DownloadBytes int64
}

// SizeLookup finds the measured size of an SDK build.
// Production: BigQuerySizes
// Testing: func literal
type SizeLookup interface {
	// SDKSize returns nil when no measurement exists.
	SDKSize(ctx context.Context, platform, branch, commit string) (*Size, error)
}

// SizeLookupFunc adapts a function to SizeLookup.
type SizeLookupFunc func(ctx context.Context, platform, branch, commit string) (*Size, error)

func (f SizeLookupFunc) SDKSize(ctx context.Context, platform, branch, commit string) (*Size, error) {
	return f(ctx, platform, branch, commit)
}

// BigQuerySizes queries the app size metrics table with the bq tool.
type BigQuerySizes struct {
	Run     shell.Runner
	Project string
}

func NewBigQuerySizes(run shell.Runner) *BigQuerySizes {
	return &BigQuerySizes{Run: run, Project: "everybodysaydance"}
}

func (b *BigQuerySizes) SDKSize(ctx context.Context, platform, branch, commit string) (*Size, error) {
	query := fmt.Sprintf("SELECT app_size.download_size, app_size.install_size "+
		"FROM `ci-metrics.app_size.app_size` as app_size "+
		"WHERE app_size.app_name=\"CameraKit\" "+
		"and app_size.platform=%q "+
		"and app_size.build_info.commit_sha=%q "+
		"and app_size.build_info.commit_branch=%q", platform, commit, branch)
	out, err := b.Run.Run(ctx, shell.Command{
		Name: "bq",
		Args: []string{"query", "--nouse_legacy_sql", "--format=prettyjson", "--project_id=" + b.Project, query},
	})
	if err != nil {
		return nil, fmt.Errorf("query sdk size: %w", err)
	}
	return parseSizeRows([]byte(out))
}

// parseSizeRows reads the first row of a bq JSON result. bq renders
// integers as strings.
func parseSizeRows(data []byte) (*Size, error) {
	var rows []struct {
		DownloadSize json.Number `json:"download_size"`
		InstallSize  json.Number `json:"install_size"`
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode sdk size: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	install, _ := rows[0].InstallSize.Int64()
	download, _ := rows[0].DownloadSize.Int64()
	return &Size{InstallBytes: install, DownloadBytes: download}, nil
}

const sizeReportURL = "https://looker.sc-corp.net/dashboards/3515"

// releaseNotes renders the GitHub release body: the changelog section of
// the release, then the SDK builds with their sizes and the sample apps.
func (e *Env) releaseNotes(ctx context.Context, changelog string, v version.Version,
	android, ios *state.SdkBuild, binaries map[string]state.BinaryBuild,
) string {
	public, ok := scm.ChangelogSection(changelog, v)
	if !ok {
		public = "No notable changes recorded."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## *Public*\n%s", public)
	b.WriteString("\n\n## *Internal*")
	b.WriteString("\n### SDKs")
	e.writeSDKInfo(ctx, &b, "Android", android)
	e.writeSDKInfo(ctx, &b, "iOS", ios)
	b.WriteString("\n### Samples")
	writeSampleInfo(&b, "Android", binaries[KeySampleAndroid])
	writeSampleInfo(&b, "iOS", binaries[KeySampleIOS])
	return b.String()
}

func (e *Env) writeSDKInfo(ctx context.Context, b *strings.Builder, platform string, build *state.SdkBuild) {
	if build == nil {
		return
	}
	fmt.Fprintf(b, "\n- **%s**:", platform)
	b.WriteString("\n\t- Build:")
	fmt.Fprintf(b, "\n\t\t- Branch: %s", build.Branch)
	fmt.Fprintf(b, "\n\t\t- Commit: %s", build.Commit)
	fmt.Fprintf(b, "\n\t\t- Job: %s", build.URL())

	if e.Sizes == nil {
		return
	}
	short := build.Commit
	if len(short) > 10 {
		short = short[:10]
	}
	p := strings.ToLower(platform)
	size, err := e.Sizes.SDKSize(ctx, p, build.Branch, short)
	if err != nil {
		slog.Warn("Failed to look up SDK size.", "platform", p, "commit", short, "err", err)
		return
	}
	if size == nil {
		return
	}
	b.WriteString("\n\t- Size:")
	fmt.Fprintf(b, "\n\t\t- Install: %d bytes", size.InstallBytes)
	fmt.Fprintf(b, "\n\t\t- Download: %d bytes", size.DownloadBytes)
	fmt.Fprintf(b, "\n\t\t- Report: %s?App+Name=camerakit&App+Platform=%s&Variant=release&Commit+Sha=%s",
		sizeReportURL, p, short)
}

func writeSampleInfo(b *strings.Builder, platform string, build state.BinaryBuild) {
	fmt.Fprintf(b, "\n- **%s**:", platform)
	fmt.Fprintf(b, "\n\t- Download: %s", build.HTMLURL)
}
