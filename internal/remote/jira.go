package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// JiraClient is the Tracker backed by the Jira REST API (v2).
type JiraClient struct {
	*client
	browseHost string
}

// NewJiraClient creates a client for apiURL (".../rest/api/2"). Issue links
// point at https://{browseHost}/browse/{key}.
func NewJiraClient(apiURL, browseHost string, opts ...Option) (*JiraClient, error) {
	c, err := newClient(apiURL, opts)
	if err != nil {
		return nil, fmt.Errorf("jira: %w", err)
	}
	return &JiraClient{client: c, browseHost: browseHost}, nil
}

func (j *JiraClient) CreateIssue(ctx context.Context, project, issueType, summary, description string) (string, error) {
	type named struct {
		Name string `json:"name,omitempty"`
		Key  string `json:"key,omitempty"`
	}
	req := map[string]any{
		"fields": map[string]any{
			"project":     named{Key: project},
			"summary":     summary,
			"description": EscapeNewlines(description),
			"issuetype":   named{Name: issueType},
		},
	}
	var resp struct {
		Key string `json:"key"`
	}
	if err := j.do(ctx, http.MethodPost, "issue", nil, req, &resp); err != nil {
		return "", fmt.Errorf("create issue in %s: %w", project, err)
	}
	if resp.Key == "" {
		return "", fmt.Errorf("create issue in %s: response has no key", project)
	}
	return resp.Key, nil
}

func (j *JiraClient) Comment(ctx context.Context, key, body string) error {
	req := map[string]string{"body": body}
	if err := j.do(ctx, http.MethodPost, "issue/"+url.PathEscape(key)+"/comment", nil, req, nil); err != nil {
		return fmt.Errorf("comment on %s: %w", key, err)
	}
	return nil
}

func (j *JiraClient) IssueStatus(ctx context.Context, key string) (string, error) {
	var resp struct {
		Fields struct {
			Status struct {
				Name string `json:"name"`
			} `json:"status"`
		} `json:"fields"`
	}
	query := url.Values{"fields": {"status"}}
	if err := j.do(ctx, http.MethodGet, "issue/"+url.PathEscape(key), query, nil, &resp); err != nil {
		return "", fmt.Errorf("look up %s: %w", key, err)
	}
	return resp.Fields.Status.Name, nil
}

func (j *JiraClient) IssueURL(key string) string {
	return "https://" + strings.TrimSuffix(j.browseHost, "/") + "/browse/" + key
}
