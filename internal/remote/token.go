package remote

import (
	"context"
	"errors"
	"fmt"

	"relpipe/internal/shell"
)

// TokenSource issues the token sent with each service request.
// Production: LCATokens
// Testing: StaticToken
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("empty static token")
	}
	return string(t), nil
}

// LCATokens issues a short-lived token for the active gcloud account on
// every call.
type LCATokens struct {
	Run      shell.Runner
	Audience string
}

func (l LCATokens) Token(ctx context.Context) (string, error) {
	account, err := l.Run.Run(ctx, shell.Command{
		Name: "gcloud",
		Args: []string{"auth", "list", "--filter=status:ACTIVE", "--format=value(account)"},
	})
	if err != nil {
		return "", fmt.Errorf("find active account: %w", err)
	}
	if account == "" {
		return "", errors.New("no active gcloud account")
	}
	token, err := l.Run.Run(ctx, shell.Command{
		Name: "lcaexec",
		Args: []string{"issue", "google", account, l.Audience, "--ttl", "300"},
	})
	if err != nil {
		return "", fmt.Errorf("issue token for %s: %w", l.Audience, err)
	}
	return token, nil
}
