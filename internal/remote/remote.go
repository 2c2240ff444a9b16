// Package remote talks to the collaboration services the release flow
// reports to: the issue tracker holding the verification ticket and the
// chat workspace used for coordination and sign-off.
package remote

import (
	"context"
	"regexp"
	"slices"
)

// ApprovalReaction is the reaction that signs off a chat prompt.
const ApprovalReaction = "lgtm"

// Tracker manages verification issues.
// Production: JiraClient
// Testing: FakeTracker
type Tracker interface {
	// CreateIssue returns the new issue key.
	CreateIssue(ctx context.Context, project, issueType, summary, description string) (string, error)
	Comment(ctx context.Context, key, body string) error
	// IssueStatus returns the workflow status name, e.g. "Done".
	IssueStatus(ctx context.Context, key string) (string, error)
	IssueURL(key string) string
}

// Chat posts coordination messages.
// Production: SlackClient
// Testing: FakeChat
type Chat interface {
	// CreateChannel returns the channel id.
	CreateChannel(ctx context.Context, name string, private bool) (string, error)
	// Post returns the message timestamp that identifies it.
	Post(ctx context.Context, channel, text string) (string, error)
	// Reactors lists the users that reacted to the message with reaction.
	Reactors(ctx context.Context, channel, ts, reaction string) ([]string, error)
}

// HasApproval reports whether any of approvers reacted to the message with
// ApprovalReaction.
func HasApproval(ctx context.Context, chat Chat, channel, ts string, approvers []string) (bool, error) {
	users, err := chat.Reactors(ctx, channel, ts, ApprovalReaction)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if slices.Contains(approvers, u) {
			return true, nil
		}
	}
	return false, nil
}

var newlines = regexp.MustCompile(`(\r\n|\r|\n)+`)

// EscapeNewlines collapses line breaks into a literal `\n`, the form the
// tracker's issue description field renders as a line break.
func EscapeNewlines(text string) string {
	return newlines.ReplaceAllString(text, `\n`)
}
