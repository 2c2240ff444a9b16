package scm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"relpipe/internal/shell"
)

// Workspace is a temporary clone with one branch checked out.
type Workspace struct {
	Dir  string
	run  shell.Runner
	repo string
}

func ghCommand(dir string, args ...string) shell.Command {
	return shell.Command{Name: "gh", Args: args, Dir: dir}
}

// Checkout clones repo into a fresh directory and checks out the remote
// head of branch. Callers Close the workspace when done.
func (c *Client) Checkout(ctx context.Context, repo, branch string) (*Workspace, error) {
	dir, err := os.MkdirTemp(c.workDir, "ci_workspace_")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	ws := &Workspace{Dir: dir, run: c.run, repo: repo}

	if _, err := c.run.Run(ctx, shell.Command{Name: "git", Args: []string{"clone", "--no-checkout", c.cloneURL(repo), dir}}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("clone %s: %w", repo, err)
	}
	if _, err := ws.Git(ctx, "fetch", "origin", branch); err != nil {
		ws.Close()
		return nil, err
	}
	sha, err := ws.Git(ctx, "rev-parse", "origin/"+branch)
	if err != nil {
		ws.Close()
		return nil, err
	}
	if _, err := ws.Git(ctx, "checkout", "-f", sha); err != nil {
		ws.Close()
		return nil, err
	}
	if _, err := ws.Git(ctx, "checkout", "-B", branch, sha); err != nil {
		ws.Close()
		return nil, err
	}
	slog.Info("Checked out branch.", "repo", repo, "branch", branch, "sha", sha, "dir", dir)
	return ws, nil
}

// Git runs a git subcommand inside the workspace.
func (w *Workspace) Git(ctx context.Context, args ...string) (string, error) {
	out, err := w.run.Run(ctx, shell.Command{Name: "git", Args: args, Dir: w.Dir})
	if err != nil {
		return "", fmt.Errorf("git %s in %s: %w", args[0], w.repo, err)
	}
	return out, nil
}

// Exec runs a repository script, name relative to the workspace root.
func (w *Workspace) Exec(ctx context.Context, name string, args ...string) error {
	_, err := w.run.Run(ctx, shell.Command{Name: filepath.Join(w.Dir, name), Args: args, Dir: w.Dir})
	if err != nil {
		return fmt.Errorf("run %s in %s: %w", name, w.repo, err)
	}
	return nil
}

func (w *Workspace) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(w.Dir, name))
}

func (w *Workspace) WriteFile(name string, data []byte) error {
	return os.WriteFile(filepath.Join(w.Dir, name), data, 0o644)
}

// Commit stages paths and commits them. It reports false when there was
// nothing to commit.
func (w *Workspace) Commit(ctx context.Context, message string, paths ...string) (bool, error) {
	if _, err := w.Git(ctx, append([]string{"add"}, paths...)...); err != nil {
		return false, err
	}
	staged, err := w.Git(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return false, err
	}
	if staged == "" {
		return false, nil
	}
	if _, err := w.Git(ctx, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Workspace) Push(ctx context.Context, branch string, force bool) error {
	args := []string{"push"}
	if force {
		args = append(args, "-f")
	}
	_, err := w.Git(ctx, append(args, "origin", branch)...)
	return err
}

func (w *Workspace) Close() {
	if err := os.RemoveAll(w.Dir); err != nil {
		slog.Warn("Failed to remove workspace.", "dir", w.Dir, "err", err)
	}
}
