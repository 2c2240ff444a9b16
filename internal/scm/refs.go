package scm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"relpipe/internal/shell"
)

func (c *Client) HeadCommit(ctx context.Context, repo, branch string) (string, error) {
	out, err := c.gh(ctx, "api", fmt.Sprintf("/repos/%s/git/ref/heads/%s", repo, branch))
	if err != nil {
		return "", fmt.Errorf("head commit of %s@%s: %w", repo, branch, err)
	}
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := json.Unmarshal([]byte(out), &ref); err != nil {
		return "", fmt.Errorf("decode ref %s@%s: %w", repo, branch, err)
	}
	if ref.Object.SHA == "" {
		return "", fmt.Errorf("head commit of %s@%s: empty sha", repo, branch)
	}
	return ref.Object.SHA, nil
}

// DeleteBranch removes branch. A branch that does not exist is not an error.
func (c *Client) DeleteBranch(ctx context.Context, repo, branch string) error {
	path := fmt.Sprintf("/repos/%s/git/refs/heads/%s", repo, branch)
	_, err := c.gh(ctx, "api", "--method", "DELETE", path)
	if err == nil {
		slog.Info("Deleted branch.", "repo", repo, "branch", branch)
		return nil
	}
	if _, lookupErr := c.gh(ctx, "api", "--method", "GET", path); lookupErr == nil {
		return fmt.Errorf("delete branch %s in %s: %w", branch, repo, err)
	}
	slog.Warn("Branch does not exist, nothing to delete.", "repo", repo, "branch", branch)
	return nil
}

func (c *Client) CreateBranch(ctx context.Context, repo, branch, sha string) error {
	_, err := c.run.Run(ctx, shell.Command{
		Name: "gh",
		Args: []string{"api", "--method", "POST", fmt.Sprintf("/repos/%s/git/refs", repo),
			"-f", "ref=refs/heads/" + branch, "-f", "sha=" + sha},
		Env: []string{"GH_REPO=" + repo},
	})
	if err != nil {
		return fmt.Errorf("create branch %s in %s: %w", branch, repo, err)
	}
	return nil
}

func (c *Client) ResetTestBranch(ctx context.Context, repo, branch string) error {
	base := strings.ReplaceAll(branch, TestBranchPrefix, "")
	if base == branch {
		return fmt.Errorf("reset test branch %s: missing %q prefix", branch, TestBranchPrefix)
	}
	if err := c.DeleteBranch(ctx, repo, branch); err != nil {
		return err
	}
	sha, err := c.HeadCommit(ctx, repo, base)
	if err != nil {
		return err
	}
	if err := c.CreateBranch(ctx, repo, branch, sha); err != nil {
		return err
	}
	slog.Info("Reset test branch.", "repo", repo, "branch", branch, "from", base, "sha", sha)
	return nil
}

// ReadFile fetches the raw content of path at branch.
func (c *Client) ReadFile(ctx context.Context, repo, branch, path string) ([]byte, error) {
	endpoint := fmt.Sprintf("/repos/%s/contents/%s?ref=%s", repo, strings.TrimPrefix(path, "/"), url.QueryEscape(branch))
	out, err := c.gh(ctx, "api", "-H", "Accept: application/vnd.github.raw", endpoint)
	if err != nil {
		return nil, fmt.Errorf("read %s from %s@%s: %w", path, repo, branch, err)
	}
	return []byte(out), nil
}
