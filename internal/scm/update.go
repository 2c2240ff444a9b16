package scm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"relpipe/internal/jobs"
	"relpipe/internal/version"
)

// Files the release flow edits.
const (
	FileVersion   = "VERSION"
	FileChangelog = "CHANGELOG.md"
)

// unreleasedHeader opens the changelog section for upcoming changes.
const unreleasedHeader = "<a name=\"unreleased\"></a>\n## [Unreleased]"

// docsFiles hold the API reference links on the docs site.
var docsFiles = []string{"sidebars/api-sidebar.js", "docs/api/home.mdx"}

var apiRefLink = regexp.MustCompile(`reference/CameraKit/(android|ios)/[0-9]+\.[0-9]+\.[0-9]+/`)

func (c *Client) UpdateDistribution(ctx context.Context, u DistributionUpdate) (PullRequest, error) {
	slog.Info("Updating distribution with new SDK builds.",
		"base", u.BaseBranch, "new_branch", u.NewBranch, "version", u.Version,
		"android", u.Android != nil, "ios", u.IOS != nil)

	ws, err := c.Checkout(ctx, u.Repo, u.BaseBranch)
	if err != nil {
		return PullRequest{}, err
	}
	defer ws.Close()

	base := u.BaseBranch
	if u.NewBranch != "" {
		if _, err := ws.Git(ctx, "checkout", "-B", u.NewBranch); err != nil {
			return PullRequest{}, err
		}
		if err := ws.Push(ctx, u.NewBranch, true); err != nil {
			return PullRequest{}, err
		}
		base = u.NewBranch
	}

	head := fmt.Sprintf("update/%s/%d", u.Version, c.now().UnixMilli())
	if _, err := ws.Git(ctx, "checkout", "-B", head); err != nil {
		return PullRequest{}, err
	}
	if err := ws.WriteFile(FileVersion, []byte(u.Version.String()+"\n")); err != nil {
		return PullRequest{}, fmt.Errorf("write %s: %w", FileVersion, err)
	}
	committed, err := ws.Commit(ctx, fmt.Sprintf("[Build] Bump version to %s", u.Version), FileVersion)
	if err != nil {
		return PullRequest{}, err
	}
	if !committed {
		slog.Info("Distribution version already current.", "version", u.Version)
	}

	if b := u.Android; b != nil {
		err := ws.Exec(ctx, ".buildscript/android/update.sh",
			"-v", b.Version.String(), "-r", b.Commit, "-b", b.BuildNumber, "--no-branch")
		if err != nil {
			return PullRequest{}, err
		}
	}
	if b := u.IOS; b != nil {
		err := ws.Exec(ctx, ".buildscript/ios/update.sh",
			"-r", b.Commit, "-b", b.BuildNumber, "--no-branch")
		if err != nil {
			return PullRequest{}, err
		}
	}
	if err := ws.Push(ctx, head, false); err != nil {
		return PullRequest{}, err
	}

	title := fmt.Sprintf("[Build] Update SDKs for the %s version", u.Version)
	body := fmt.Sprintf("This PR updates the SDKs to the latest builds targeting the version: %s. "+
		"\n\nPlease refer to the individual commit messages to see a list of included changes in each SDK.", u.Version)

	var pr PullRequest
	err = jobs.Retry(ctx, c.attempts, func(ctx context.Context) error {
		var err error
		pr, err = c.createPR(ctx, ws.Dir, u.Repo, title, body, base, head)
		return err
	})
	if err != nil {
		return PullRequest{}, err
	}
	slog.Info("Opened distribution pull request.", "url", pr.HTMLURL)
	return pr, nil
}

// AddChangelogRelease opens a dated section for v below the unreleased
// header. Content without the header is returned unchanged.
func AddChangelogRelease(content string, v version.Version, date string) string {
	section := fmt.Sprintf("%s\n\n<a name=\"%s\"></a>\n## [%s] - %s", unreleasedHeader, v, v, date)
	return strings.Replace(content, unreleasedHeader, section, 1)
}

// ChangelogSection extracts the notes recorded for v: the text after its
// anchor up to the next anchor, minus the heading lines. ok is false when
// the changelog has no entry for v.
func ChangelogSection(content string, v version.Version) (string, bool) {
	anchor := fmt.Sprintf("<a name=\"%s\"></a>", v)
	i := strings.Index(content, anchor)
	if i < 0 {
		return "", false
	}
	rest := strings.TrimLeft(content[i+len(anchor):], " \t\r\n")
	if j := strings.Index(rest, "<a"); j >= 0 {
		rest = rest[:j]
	}
	lines := strings.Split(strings.TrimRight(rest, "\n"), "\n")
	if len(lines) <= 2 {
		return "", true
	}
	return strings.Join(lines[2:], "\n"), true
}

func (c *Client) UpdateChangelog(ctx context.Context, repo, branch string, v version.Version) (PullRequest, error) {
	ws, err := c.Checkout(ctx, repo, branch)
	if err != nil {
		return PullRequest{}, err
	}
	defer ws.Close()

	head := fmt.Sprintf("update/%s/changelog/%d", v, c.now().UnixMilli())
	if _, err := ws.Git(ctx, "checkout", "-B", head); err != nil {
		return PullRequest{}, err
	}
	content, err := ws.ReadFile(FileChangelog)
	if err != nil {
		return PullRequest{}, fmt.Errorf("read %s: %w", FileChangelog, err)
	}
	updated := AddChangelogRelease(string(content), v, c.now().Format("2006-01-02"))
	if err := ws.WriteFile(FileChangelog, []byte(updated)); err != nil {
		return PullRequest{}, fmt.Errorf("write %s: %w", FileChangelog, err)
	}

	title := fmt.Sprintf("[Doc] Update CHANGELOG for %s release", v)
	committed, err := ws.Commit(ctx, title, FileChangelog)
	if err != nil {
		return PullRequest{}, err
	}
	if !committed {
		return PullRequest{}, fmt.Errorf("update %s: no unreleased section to date", FileChangelog)
	}
	if err := ws.Push(ctx, head, false); err != nil {
		return PullRequest{}, err
	}

	body := fmt.Sprintf("This PR updates the CHANGELOG targeting the %s release. "+
		"Please double check if all items look good and add or remove any that might be needed for this release.", v)
	return c.createPR(ctx, ws.Dir, repo, title, body, branch, head)
}

// RepointAPIReference rewrites versioned API reference links to v.
func RepointAPIReference(content string, v version.Version) string {
	return apiRefLink.ReplaceAllString(content, "reference/CameraKit/${1}/"+v.String()+"/")
}

func (c *Client) UpdateDocsVersion(ctx context.Context, u DocsUpdate) (*PullRequest, error) {
	ws, err := c.Checkout(ctx, u.Repo, u.Branch)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	head := fmt.Sprintf("camerakit/update-api-ref/%s/%d", u.Version, c.now().UnixMilli())
	if _, err := ws.Git(ctx, "checkout", "-B", head); err != nil {
		return nil, err
	}
	for _, name := range docsFiles {
		content, err := ws.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if err := ws.WriteFile(name, []byte(RepointAPIReference(string(content), u.Version))); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}

	title := fmt.Sprintf("[CameraKit] Update API reference doc links to %s", u.Version)
	committed, err := ws.Commit(ctx, title, docsFiles...)
	if err != nil {
		return nil, err
	}
	if !committed {
		slog.Info("API reference links already current.", "version", u.Version)
		return nil, nil
	}
	if err := ws.Push(ctx, head, false); err != nil {
		return nil, err
	}

	body := fmt.Sprintf("This PR updates the CameraKit API reference doc links to track the %s version resources.\n"+
		"API reference docs synced in: %s", u.Version, u.PipelineURL)
	pr, err := c.createPR(ctx, ws.Dir, u.Repo, title, body, u.Branch, head)
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

// CreateRelease publishes r and returns the release URL.
func (c *Client) CreateRelease(ctx context.Context, r Release) (string, error) {
	args := []string{"release", "create", r.Tag,
		"--target", r.Target, "--title", r.Title, "--notes", r.Notes, "--repo", c.hostRepo(r.Repo)}
	if r.Draft {
		args = append(args, "--draft")
	}
	args = append(args, r.Assets...)
	out, err := c.gh(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("create release %s: %w", r.Tag, err)
	}
	slog.Info("Created release.", "tag", r.Tag, "url", out)
	return out, nil
}
