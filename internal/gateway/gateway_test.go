package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lanternai/lantern/internal/adapter"
	"github.com/lanternai/lantern/internal/canonical"
	"github.com/lanternai/lantern/internal/config"
	"github.com/lanternai/lantern/internal/db"
	"github.com/lanternai/lantern/internal/hooks"
	"github.com/lanternai/lantern/internal/injector"
)

// fakeAdapter echoes the last user message.
type fakeAdapter struct {
	id       string
	lastReq  *canonical.Request
	complete func(req *canonical.Request) *canonical.Response
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) Capabilities() adapter.CapabilitySet {
	return adapter.CapabilitySet{Streaming: true, ToolCalls: true, Thinking: true}
}

func (f *fakeAdapter) Complete(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	f.lastReq = req
	if f.complete != nil {
		return f.complete(req), nil
	}
	last := req.Messages[len(req.Messages)-1]
	return &canonical.Response{
		Message:    canonical.NewText(canonical.RoleAssistant, "echo: "+last.Text()),
		StopReason: "end_turn",
		Usage:      canonical.TokenUsage{Input: 10, Output: 5},
	}, nil
}

func (f *fakeAdapter) Stream(ctx context.Context, req *canonical.Request) (<-chan adapter.StreamEvent, error) {
	f.lastReq = req
	events := make(chan adapter.StreamEvent, 8)
	go func() {
		defer close(events)
		for _, chunk := range []string{"hello ", "world"} {
			select {
			case events <- adapter.StreamEvent{Type: adapter.EventTypeText, Text: chunk}:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		events <- adapter.StreamEvent{Type: adapter.EventTypeUsage, Usage: &canonical.TokenUsage{Input: 8, Output: 2}}
		events <- adapter.StreamEvent{Type: adapter.EventTypeDone}
	}()
	return events, nil
}

func newTestGateway(t *testing.T) (*Gateway, *fakeAdapter) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.DefaultProvider = "fake"
	cfg.Hooks.SettingsPath = filepath.Join(cfg.DataDir, "settings.json")

	conn, err := db.Open(filepath.Join(cfg.DataDir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	g, err := New(t.Context(), config.NewStore(cfg), conn)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	fake := &fakeAdapter{id: "fake"}
	g.registry.Register(fake)
	return g, fake
}

func TestChatAppendsTurn(t *testing.T) {
	g, _ := newTestGateway(t)

	resp, err := g.Chat(t.Context(), &ChatRequest{Prompt: "hi there"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Message.Text() != "echo: hi there" {
		t.Errorf("message = %q", resp.Message.Text())
	}
	if resp.SessionID == "" {
		t.Fatal("no session id assigned")
	}

	turns, err := g.sessions.Turns(t.Context(), resp.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || len(turns[0].Messages) != 2 {
		t.Fatalf("turns = %+v, want one user+assistant turn", turns)
	}
	if turns[0].Usage.Total() != 15 {
		t.Errorf("turn usage = %+v", turns[0].Usage)
	}
}

func TestChatContinuesSession(t *testing.T) {
	g, fake := newTestGateway(t)
	ctx := t.Context()

	first, err := g.Chat(ctx, &ChatRequest{Prompt: "one"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Chat(ctx, &ChatRequest{SessionID: first.SessionID, Prompt: "two"}); err != nil {
		t.Fatal(err)
	}

	// History from the first exchange reaches the provider
	if len(fake.lastReq.Messages) != 3 {
		t.Errorf("request messages = %d, want prior turn + new prompt", len(fake.lastReq.Messages))
	}

	sess, _ := g.sessions.Get(ctx, first.SessionID)
	if sess.Usage.Total() != 30 {
		t.Errorf("session usage = %+v, want accumulation across exchanges", sess.Usage)
	}
}

func TestChatBlockedByHook(t *testing.T) {
	g, _ := newTestGateway(t)
	g.hooks.Register(hooks.UserPromptSubmit, "", hooks.CommandHandler{
		Command: `echo "not allowed" >&2; exit 2`,
	})

	_, err := g.Chat(t.Context(), &ChatRequest{SessionID: "blocked-session", Prompt: "do the thing"})
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("want BlockedError, got %v", err)
	}

	turns, _ := g.sessions.Turns(t.Context(), "blocked-session")
	if len(turns) != 0 {
		t.Errorf("blocked exchange appended %d turns", len(turns))
	}
}

func TestChatStreamEmitsAndPersists(t *testing.T) {
	g, _ := newTestGateway(t)

	var texts []string
	resp, err := g.ChatStream(t.Context(), &ChatRequest{Prompt: "stream it"}, func(ev adapter.StreamEvent) {
		if ev.Type == adapter.EventTypeText {
			texts = append(texts, ev.Text)
		}
	})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}
	if len(texts) != 2 {
		t.Errorf("emitted %d text events, want 2", len(texts))
	}
	if resp.Message.Text() != "hello world" {
		t.Errorf("reassembled = %q", resp.Message.Text())
	}
	if resp.Incomplete {
		t.Error("complete stream marked incomplete")
	}

	turns, _ := g.sessions.Turns(t.Context(), resp.SessionID)
	if len(turns) != 1 {
		t.Errorf("persisted %d turns", len(turns))
	}
}

func TestCancelledStreamAppendsNoTurn(t *testing.T) {
	g, _ := newTestGateway(t)

	ctx, cancel := context.WithCancel(t.Context())
	var resp *ChatResponse
	var err error
	resp, err = g.ChatStream(ctx, &ChatRequest{SessionID: "cancel-me", Prompt: "stream it"}, func(ev adapter.StreamEvent) {
		// Disconnect after the first chunk
		cancel()
	})
	if err != nil && resp != nil {
		t.Fatalf("unexpected: resp and err both set: %v", err)
	}

	turns, _ := g.sessions.Turns(t.Context(), "cancel-me")
	if len(turns) != 0 {
		t.Errorf("cancelled exchange appended %d turns", len(turns))
	}
}

func TestRemindersNotPersistedToTurnLog(t *testing.T) {
	g, fake := newTestGateway(t)
	g.inject.AddReminderSource(injector.SourceFunc{SourceName: "note", Fn: func(context.Context) (string, error) {
		return "transient note", nil
	}})
	ctx := t.Context()

	resp, err := g.Chat(ctx, &ChatRequest{Prompt: "first"})
	if err != nil {
		t.Fatal(err)
	}

	// The provider sees the reminder on the outgoing message
	sent := fake.lastReq.Messages[len(fake.lastReq.Messages)-1]
	if !strings.Contains(sent.Text(), "<system-reminder>") {
		t.Error("reminder missing from provider request")
	}

	// The persisted turn carries only the raw prompt
	turns, err := g.sessions.Turns(ctx, resp.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got := turns[0].Messages[0].Text(); got != "first" {
		t.Errorf("persisted user message = %q, want raw prompt only", got)
	}

	// A later exchange must not replay the earlier reminder as history
	if _, err := g.Chat(ctx, &ChatRequest{SessionID: resp.SessionID, Prompt: "second"}); err != nil {
		t.Fatal(err)
	}
	history := fake.lastReq.Messages[0]
	if strings.Contains(history.Text(), "<system-reminder>") {
		t.Error("reminder compounded into replayed history")
	}
}

func TestDegradationSurfacedToClient(t *testing.T) {
	g, fake := newTestGateway(t)
	fake.complete = func(req *canonical.Request) *canonical.Response {
		req.AddDegradation("thinking not supported")
		return &canonical.Response{Message: canonical.NewText(canonical.RoleAssistant, "ok")}
	}

	resp, err := g.Chat(t.Context(), &ChatRequest{
		Prompt:   "think hard",
		Thinking: &canonical.ThinkingConfig{Enabled: true, BudgetTokens: 2048},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Degradations == "" {
		t.Error("degradation note not surfaced")
	}
}

func TestHTTPChatEndpoint(t *testing.T) {
	g, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Router())
	defer srv.Close()

	body, _ := json.Marshal(ChatRequest{Prompt: "over http"})
	resp, err := http.Post(srv.URL+"/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Message.Text() != "echo: over http" {
		t.Errorf("message = %q", out.Message.Text())
	}

	// Session admin surface sees the new session
	list, err := http.Get(srv.URL + "/v1/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer list.Body.Close()
	var sessions []json.RawMessage
	json.NewDecoder(list.Body).Decode(&sessions)
	if len(sessions) != 1 {
		t.Errorf("listed %d sessions", len(sessions))
	}
}

func TestHTTPMemoryEndpoints(t *testing.T) {
	g, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Router())
	defer srv.Close()

	body := bytes.NewReader([]byte(`{"text":"the linter config is strict"}`))
	resp, err := http.Post(srv.URL+"/v1/memory/", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("save status = %d", resp.StatusCode)
	}

	search, err := http.Get(srv.URL + "/v1/memory/search?q=linter")
	if err != nil {
		t.Fatal(err)
	}
	defer search.Body.Close()
	var results []json.RawMessage
	json.NewDecoder(search.Body).Decode(&results)
	if len(results) != 1 {
		t.Errorf("search returned %d results", len(results))
	}
}
