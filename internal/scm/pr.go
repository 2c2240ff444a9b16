package scm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"relpipe/internal/remote"
)

// Pull request states and review decisions reported by gh.
const (
	stateClosed      = "CLOSED"
	stateMerged      = "MERGED"
	decisionApproved = "APPROVED"
)

type prStatus struct {
	IsDraft        bool   `json:"isDraft"`
	State          string `json:"state"`
	ReviewDecision string `json:"reviewDecision"`
}

func (s prStatus) closed() bool {
	return s.State == stateClosed || s.State == stateMerged
}

func (c *Client) viewPR(ctx context.Context, repo string, number int, fields string) (prStatus, error) {
	out, err := c.gh(ctx, "pr", "view", strconv.Itoa(number), "--repo", repo, "--json", fields)
	if err != nil {
		return prStatus{}, err
	}
	var st prStatus
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		return prStatus{}, fmt.Errorf("decode pr #%d status: %w", number, err)
	}
	return st, nil
}

func (c *Client) MarkPRReady(ctx context.Context, repo string, number int) error {
	st, err := c.viewPR(ctx, repo, number, "isDraft")
	if err != nil {
		return fmt.Errorf("mark pr #%d in %s ready: %w", number, repo, err)
	}
	if !st.IsDraft {
		slog.Info("Pull request already ready for review.", "repo", repo, "pr", number)
		return nil
	}
	if _, err := c.gh(ctx, "pr", "ready", strconv.Itoa(number), "--repo", repo); err != nil {
		return fmt.Errorf("mark pr #%d in %s ready: %w", number, repo, err)
	}
	slog.Info("Marked pull request ready for review.", "repo", repo, "pr", number)
	return nil
}

// WaitApprovedOrClosed polls until the pull request is approved or closed
// and reports whether it was approved. Status lookup failures are logged
// and retried on the next poll.
func (c *Client) WaitApprovedOrClosed(ctx context.Context, repo string, number int) (bool, error) {
	approved := false
	err := remote.WaitUntil(ctx, c.pollInterval, func(ctx context.Context) (bool, error) {
		st, err := c.viewPR(ctx, repo, number, "reviewDecision,state")
		if err != nil {
			slog.Warn("Checking pull request status failed.", "repo", repo, "pr", number, "err", err)
			return false, nil
		}
		approved = st.ReviewDecision == decisionApproved
		if approved || st.closed() {
			return true, nil
		}
		slog.Info("Waiting for pull request to be approved or closed.", "repo", repo, "pr", number)
		return false, nil
	})
	return approved, err
}

// WaitClosed polls until the pull request is closed or merged.
func (c *Client) WaitClosed(ctx context.Context, repo string, number int) error {
	return remote.WaitUntil(ctx, c.pollInterval, func(ctx context.Context) (bool, error) {
		st, err := c.viewPR(ctx, repo, number, "state")
		if err != nil {
			return false, fmt.Errorf("pr #%d in %s status: %w", number, repo, err)
		}
		if st.closed() {
			slog.Info("Pull request closed.", "repo", repo, "pr", number, "state", st.State)
			return true, nil
		}
		slog.Info("Waiting for pull request to close.", "repo", repo, "pr", number, "state", st.State)
		return false, nil
	})
}

func (c *Client) CommentWhenApprovedAndWaitClosed(ctx context.Context, repo string, number int, comment string) error {
	approved, err := c.WaitApprovedOrClosed(ctx, repo, number)
	if err != nil {
		return err
	}
	if !approved {
		return nil
	}
	if _, err := c.gh(ctx, "pr", "comment", strconv.Itoa(number), "--repo", repo, "--body", comment); err != nil {
		return fmt.Errorf("comment on pr #%d in %s: %w", number, repo, err)
	}
	slog.Info("Commented on pull request.", "repo", repo, "pr", number, "comment", comment)
	return c.WaitClosed(ctx, repo, number)
}

// createPR opens a pull request and resolves its number from the URL gh
// prints.
func (c *Client) createPR(ctx context.Context, dir, repo, title, body, base, head string) (PullRequest, error) {
	hostRepo := c.hostRepo(repo)
	out, err := c.run.Run(ctx, ghCommand(dir, "pr", "create",
		"--title", title, "--body", body, "--base", base, "--head", head, "--repo", hostRepo))
	if err != nil {
		return PullRequest{}, fmt.Errorf("create pull request %q: %w", title, err)
	}
	return parseCreatedPR(hostRepo, title, out)
}

func parseCreatedPR(hostRepo, title, out string) (PullRequest, error) {
	out = strings.TrimSpace(out)
	if i := strings.LastIndex(out, "\n"); i >= 0 {
		out = out[i+1:]
	}
	seg := out[strings.LastIndex(out, "/")+1:]
	number, err := strconv.Atoi(seg)
	if err != nil {
		return PullRequest{}, fmt.Errorf("parse pull request number from %q: %w", out, err)
	}
	return PullRequest{
		Repo:    hostRepo,
		Number:  number,
		Title:   title,
		HTMLURL: fmt.Sprintf("https://%s/pull/%d", hostRepo, number),
	}, nil
}
