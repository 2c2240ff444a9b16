package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// BotName is the display name of pipeline messages.
const BotName = "Release Bot"

// SlackClient is the Chat backed by a Slack Web API proxy.
type SlackClient struct {
	*client
}

func NewSlackClient(apiURL string, opts ...Option) (*SlackClient, error) {
	c, err := newClient(apiURL, opts)
	if err != nil {
		return nil, fmt.Errorf("slack: %w", err)
	}
	return &SlackClient{client: c}, nil
}

func (s *SlackClient) CreateChannel(ctx context.Context, name string, private bool) (string, error) {
	req := struct {
		Name      string `json:"name"`
		IsPrivate bool   `json:"is_private"`
	}{name, private}
	var resp struct {
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	if err := s.do(ctx, http.MethodPost, "conversations.create", nil, req, &resp); err != nil {
		return "", fmt.Errorf("create channel %s: %w", name, err)
	}
	if resp.Channel.ID == "" {
		return "", fmt.Errorf("create channel %s: response has no channel id", name)
	}
	return resp.Channel.ID, nil
}

func (s *SlackClient) Post(ctx context.Context, channel, text string) (string, error) {
	req := struct {
		Channel  string `json:"channel"`
		Text     string `json:"text"`
		Username string `json:"username"`
	}{channel, text, BotName}
	var resp struct {
		TS string `json:"ts"`
	}
	if err := s.do(ctx, http.MethodPost, "chat.postMessage", nil, req, &resp); err != nil {
		return "", fmt.Errorf("post to %s: %w", channel, err)
	}
	return resp.TS, nil
}

func (s *SlackClient) Reactors(ctx context.Context, channel, ts, reaction string) ([]string, error) {
	var resp struct {
		Message *struct {
			Reactions []struct {
				Name  string   `json:"name"`
				Users []string `json:"users"`
			} `json:"reactions"`
		} `json:"message"`
	}
	query := url.Values{"timestamp": {ts}, "channel": {channel}}
	if err := s.do(ctx, http.MethodGet, "reactions.get", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("get reactions in %s: %w", channel, err)
	}
	if resp.Message == nil {
		return nil, nil
	}
	for _, r := range resp.Message.Reactions {
		if r.Name == reaction {
			return r.Users, nil
		}
	}
	return nil, nil
}
