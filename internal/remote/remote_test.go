package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"relpipe/internal/shell"
)

func noDelay() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestJiraCreateIssue(t *testing.T) {
	type ref struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	}
	var got struct {
		Fields struct {
			Project     ref    `json:"project"`
			Summary     string `json:"summary"`
			Description string `json:"description"`
			IssueType   ref    `json:"issuetype"`
		} `json:"fields"`
	}
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/api/2/issue" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		token = r.Header.Get(TokenHeader)
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"key":"CAMKIT-7"}`))
	}))
	defer srv.Close()

	jira, err := NewJiraClient(srv.URL+"/rest/api/2", "jira.example.net", WithTokens(StaticToken("tok")), WithBackoff(noDelay))
	if err != nil {
		t.Fatalf("NewJiraClient() error = %v", err)
	}
	key, err := jira.CreateIssue(context.Background(), "CAMKIT", "Task", "SDK 1.38.0 sign off", "line one\n\nline two")
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if key != "CAMKIT-7" {
		t.Fatalf("CreateIssue() = %q, want CAMKIT-7", key)
	}
	if token != "tok" {
		t.Fatalf("token header = %q, want tok", token)
	}
	if got.Fields.Project.Key != "CAMKIT" || got.Fields.IssueType.Name != "Task" {
		t.Fatalf("fields = %+v", got.Fields)
	}
	if got.Fields.Description != `line one\nline two` {
		t.Fatalf("description = %q, want escaped newlines", got.Fields.Description)
	}
	if u := jira.IssueURL("CAMKIT-7"); u != "https://jira.example.net/browse/CAMKIT-7" {
		t.Fatalf("IssueURL() = %q", u)
	}
}

func TestJiraIssueStatusRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fields") != "status" {
			t.Errorf("fields query = %q", r.URL.Query().Get("fields"))
		}
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"fields":{"status":{"name":"Done"}}}`))
	}))
	defer srv.Close()

	jira, _ := NewJiraClient(srv.URL, "jira", WithBackoff(noDelay))
	status, err := jira.IssueStatus(context.Background(), "CAMKIT-1")
	if err != nil {
		t.Fatalf("IssueStatus() error = %v", err)
	}
	if status != "Done" || calls.Load() != 3 {
		t.Fatalf("IssueStatus() = %q after %d calls, want Done after 3", status, calls.Load())
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	jira, _ := NewJiraClient(srv.URL, "jira", WithBackoff(noDelay))
	err := jira.Comment(context.Background(), "CAMKIT-1", "hi")
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusServiceUnavailable {
		t.Fatalf("Comment() error = %v, want StatusError 503", err)
	}
	if calls.Load() != MaxAttempts {
		t.Fatalf("calls = %d, want %d", calls.Load(), MaxAttempts)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	jira, _ := NewJiraClient(srv.URL, "jira", WithBackoff(noDelay))
	if _, err := jira.IssueStatus(context.Background(), "CAMKIT-404"); err == nil {
		t.Fatal("IssueStatus() error = nil, want 404")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestSlackPostAndReactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat.postMessage":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["username"] != BotName || body["channel"] != "C1" {
				t.Errorf("post body = %v", body)
			}
			w.Write([]byte(`{"ok":true,"ts":"171.01"}`))
		case "/api/conversations.create":
			w.Write([]byte(`{"channel":{"id":"C9"}}`))
		case "/api/reactions.get":
			if r.URL.Query().Get("timestamp") != "171.01" {
				t.Errorf("timestamp = %q", r.URL.Query().Get("timestamp"))
			}
			w.Write([]byte(`{"message":{"reactions":[{"name":"eyes","users":["U1"]},{"name":"lgtm","users":["U2","U3"]}]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	slack, err := NewSlackClient(srv.URL+"/api", WithBackoff(noDelay))
	if err != nil {
		t.Fatalf("NewSlackClient() error = %v", err)
	}
	ts, err := slack.Post(ctx, "C1", "hello")
	if err != nil || ts != "171.01" {
		t.Fatalf("Post() = %q, %v", ts, err)
	}
	id, err := slack.CreateChannel(ctx, "camkit-1-release-1-38-0", false)
	if err != nil || id != "C9" {
		t.Fatalf("CreateChannel() = %q, %v", id, err)
	}

	ok, err := HasApproval(ctx, slack, "C1", ts, []string{"U3"})
	if err != nil || !ok {
		t.Fatalf("HasApproval(U3) = %v, %v, want true", ok, err)
	}
	ok, err = HasApproval(ctx, slack, "C1", ts, []string{"U1"})
	if err != nil || ok {
		t.Fatalf("HasApproval(U1) = %v, %v, want false", ok, err)
	}
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/moved":
			http.Redirect(w, r, "/ok", http.StatusFound)
		case "/ok":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	probe := HTTPProbe(srv.Client())
	ctx := context.Background()
	if !probe(ctx, srv.URL+"/moved") {
		t.Fatal("probe(/moved) = false, want true")
	}
	if probe(ctx, srv.URL+"/missing") {
		t.Fatal("probe(/missing) = true, want false")
	}
	if probe(ctx, "http://127.0.0.1:1/unreachable") {
		t.Fatal("probe(unreachable) = true, want false")
	}
}

func TestWaitUntil(t *testing.T) {
	ctx := context.Background()
	n := 0
	err := WaitUntil(ctx, time.Millisecond, func(context.Context) (bool, error) {
		n++
		return n == 3, nil
	})
	if err != nil || n != 3 {
		t.Fatalf("WaitUntil() = %v after %d calls", err, n)
	}

	boom := errors.New("boom")
	if err := WaitUntil(ctx, time.Millisecond, func(context.Context) (bool, error) { return false, boom }); !errors.Is(err, boom) {
		t.Fatalf("WaitUntil() error = %v, want boom", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = WaitUntil(cctx, time.Hour, func(context.Context) (bool, error) { return false, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitUntil(canceled) error = %v", err)
	}
}

func TestWaitForApproval(t *testing.T) {
	chat := NewFakeChat()
	ctx := context.Background()
	ts, _ := chat.Post(ctx, "C1", "react with :lgtm:")
	chat.React(ts, ApprovalReaction, "U-stranger")

	go func() {
		time.Sleep(5 * time.Millisecond)
		chat.React(ts, ApprovalReaction, "U-owner")
	}()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := WaitForApproval(ctx, chat, "C1", ts, []string{"U-owner"}, time.Millisecond); err != nil {
		t.Fatalf("WaitForApproval() error = %v", err)
	}
}

func TestLCATokens(t *testing.T) {
	run := shell.NewFake().
		On("gcloud auth list", "ci@project.iam.gserviceaccount.com").
		On("lcaexec issue google ci@project.iam.gserviceaccount.com ats.example --ttl 300", "lca-token")

	token, err := LCATokens{Run: run, Audience: "ats.example"}.Token(context.Background())
	if err != nil || token != "lca-token" {
		t.Fatalf("Token() = %q, %v", token, err)
	}

	if _, err := (LCATokens{Run: shell.NewFake(), Audience: "a"}).Token(context.Background()); err == nil {
		t.Fatal("Token() error = nil, want no active account")
	}
}

func TestEscapeNewlines(t *testing.T) {
	if got := EscapeNewlines("a\r\n\nb\rc"); got != `a\nb\nc` {
		t.Fatalf("EscapeNewlines() = %q", got)
	}
}
