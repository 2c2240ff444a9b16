// Package scm drives the Git hosting side of a release through the gh and
// git command-line tools: branch refs, pull requests that bump the
// distribution, changelog and docs updates, and the final GitHub release.
package scm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relpipe/internal/shell"
	"relpipe/internal/state"
	"relpipe/internal/version"
)

// TestBranchPrefix namespaces every branch a test-mode run touches.
const TestBranchPrefix = "camkit-pipeline-test/"

// DefaultPollInterval paces pull request status checks.
const DefaultPollInterval = 60 * time.Second

// DefaultRetryAttempts bounds pull request creation.
const DefaultRetryAttempts = 3

// TestBranch prefixes branch with TestBranchPrefix in test mode.
func TestBranch(branch string, testMode bool) string {
	if testMode {
		return TestBranchPrefix + branch
	}
	return branch
}

// ReleaseBranch is the maintenance branch of v, "release/M.N.x".
func ReleaseBranch(v version.Version, testMode bool) string {
	return TestBranch(v.ReleaseBranch(), testMode)
}

// PullRequest identifies an opened pull request.
type PullRequest struct {
	Repo    string
	Number  int
	Title   string
	HTMLURL string
}

// DistributionUpdate describes a pull request that points the distribution
// repository at new SDK builds.
type DistributionUpdate struct {
	Repo string
	// BaseBranch is checked out first.
	BaseBranch string
	// NewBranch, when set, is (re)created from BaseBranch, pushed, and
	// becomes the pull request base.
	NewBranch string
	Version   version.Version
	Android   *state.SdkBuild
	IOS       *state.SdkBuild
}

// DocsUpdate repoints the API reference links of the docs site.
type DocsUpdate struct {
	Repo        string
	Branch      string
	Version     version.Version
	PipelineURL string
}

// Release is a GitHub release with attached assets.
type Release struct {
	Repo   string
	Tag    string
	Target string
	Title  string
	Notes  string
	Draft  bool
	Assets []string
}

// SourceControl is everything the release flow needs from Git hosting.
// Production: Client
// Testing: in-memory fake in the release package
type SourceControl interface {
	HeadCommit(ctx context.Context, repo, branch string) (string, error)
	// ResetTestBranch recreates a prefixed test branch from its base.
	ResetTestBranch(ctx context.Context, repo, branch string) error
	ReadFile(ctx context.Context, repo, branch, path string) ([]byte, error)
	MarkPRReady(ctx context.Context, repo string, number int) error
	// CommentWhenApprovedAndWaitClosed blocks until the pull request is
	// approved or closed. Approved pull requests get comment and are then
	// waited on until they close.
	CommentWhenApprovedAndWaitClosed(ctx context.Context, repo string, number int, comment string) error
	UpdateDistribution(ctx context.Context, u DistributionUpdate) (PullRequest, error)
	UpdateChangelog(ctx context.Context, repo, branch string, v version.Version) (PullRequest, error)
	// UpdateDocsVersion returns nil when the links already point at the
	// version.
	UpdateDocsVersion(ctx context.Context, u DocsUpdate) (*PullRequest, error)
	CreateRelease(ctx context.Context, r Release) (string, error)
}

// Client implements SourceControl with gh and git.
type Client struct {
	run          shell.Runner
	host         string
	workDir      string
	pollInterval time.Duration
	attempts     int
	now          func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHost sets the Git host used for clones and pull request links.
func WithHost(host string) Option {
	return func(c *Client) {
		c.host = host
	}
}

// WithWorkDir sets where temporary clones are created. Defaults to the
// system temp dir.
func WithWorkDir(dir string) Option {
	return func(c *Client) {
		c.workDir = dir
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithRetryAttempts caps immediate retries of pull request creation.
func WithRetryAttempts(n int) Option {
	return func(c *Client) {
		c.attempts = n
	}
}

// WithClock overrides the time source for branch names and dates.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(run shell.Runner, opts ...Option) *Client {
	c := &Client{
		run:          run,
		host:         "github.com",
		pollInterval: DefaultPollInterval,
		attempts:     DefaultRetryAttempts,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) gh(ctx context.Context, args ...string) (string, error) {
	return c.run.Run(ctx, shell.Command{Name: "gh", Args: args})
}

// hostRepo qualifies repo with the host for gh commands that create things.
func (c *Client) hostRepo(repo string) string {
	if strings.HasPrefix(repo, c.host+"/") {
		return repo
	}
	return c.host + "/" + repo
}

func (c *Client) cloneURL(repo string) string {
	return fmt.Sprintf("git@%s:%s.git", c.host, strings.TrimPrefix(repo, c.host+"/"))
}
