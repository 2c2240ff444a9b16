package remote

import (
	"context"
	"fmt"
	"sync"
)

// Comment is a recorded tracker comment.
type Comment struct {
	Key  string
	Body string
}

// FakeTracker is an in-memory Tracker. Issues are keyed PROJECT-N.
type FakeTracker struct {
	mu       sync.Mutex
	seq      int
	Issues   map[string]string // key -> summary
	Comments []Comment
	// Statuses answers IssueStatus; unknown keys report "Open".
	Statuses map[string]string
}

func NewFakeTracker() *FakeTracker {
	return &FakeTracker{Issues: make(map[string]string), Statuses: make(map[string]string)}
}

func (f *FakeTracker) CreateIssue(_ context.Context, project, _, summary, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	key := fmt.Sprintf("%s-%d", project, f.seq)
	f.Issues[key] = summary
	return key, nil
}

func (f *FakeTracker) Comment(_ context.Context, key, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Comments = append(f.Comments, Comment{Key: key, Body: body})
	return nil
}

func (f *FakeTracker) IssueStatus(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Statuses[key]; ok {
		return s, nil
	}
	return "Open", nil
}

func (f *FakeTracker) SetStatus(key, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statuses[key] = status
}

func (f *FakeTracker) IssueURL(key string) string {
	return "https://tracker.test/browse/" + key
}

// CommentBodies returns the recorded comment bodies in order.
func (f *FakeTracker) CommentBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Comments))
	for _, c := range f.Comments {
		out = append(out, c.Body)
	}
	return out
}

// Message is a recorded chat post.
type Message struct {
	Channel string
	Text    string
	TS      string
}

// FakeChat is an in-memory Chat.
type FakeChat struct {
	mu       sync.Mutex
	seq      int
	Channels map[string]string // name -> id
	Messages []Message
	// Reactions maps a message ts to its reaction name -> users.
	Reactions map[string]map[string][]string
}

func NewFakeChat() *FakeChat {
	return &FakeChat{Channels: make(map[string]string), Reactions: make(map[string]map[string][]string)}
}

func (f *FakeChat) CreateChannel(_ context.Context, name string, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("C%03d", f.seq)
	f.Channels[name] = id
	return id, nil
}

func (f *FakeChat) Post(_ context.Context, channel, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ts := fmt.Sprintf("1700000000.%06d", f.seq)
	f.Messages = append(f.Messages, Message{Channel: channel, Text: text, TS: ts})
	return ts, nil
}

func (f *FakeChat) Reactors(_ context.Context, _, ts, reaction string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Reactions[ts][reaction]...), nil
}

// React records users reacting to the message ts.
func (f *FakeChat) React(ts, reaction string, users ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Reactions[ts] == nil {
		f.Reactions[ts] = make(map[string][]string)
	}
	f.Reactions[ts][reaction] = append(f.Reactions[ts][reaction], users...)
}

// Texts returns the posted texts in order.
func (f *FakeChat) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Messages))
	for _, m := range f.Messages {
		out = append(out, m.Text)
	}
	return out
}
