package compactor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lanternai/lantern/internal/canonical"
	"github.com/lanternai/lantern/internal/db"
	"github.com/lanternai/lantern/internal/hooks"
	"github.com/lanternai/lantern/internal/session"
)

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

func validSummary() string {
	var b strings.Builder
	b.WriteString("Summary of the session so far.\n")
	for i, name := range SummarySections {
		fmt.Fprintf(&b, "\n%d. %s\nDetails here.\n", i+1, name)
	}
	return b.String()
}

func openTestSessions(t *testing.T) *session.Manager {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return session.NewManager(conn, 0)
}

func seedSession(t *testing.T, mgr *session.Manager, id string, texts ...string) {
	t.Helper()
	ctx := t.Context()
	if _, err := mgr.GetOrCreate(ctx, id, "anthropic", "claude-sonnet-4-5"); err != nil {
		t.Fatal(err)
	}
	for _, text := range texts {
		turn := canonical.NewTurn(
			canonical.NewText(canonical.RoleUser, text),
			canonical.NewText(canonical.RoleAssistant, "ack: "+text),
		)
		if err := mgr.AppendTurn(ctx, id, turn); err != nil {
			t.Fatal(err)
		}
	}
}

func textTurn(chars int) canonical.Turn {
	return canonical.NewTurn(canonical.NewText(canonical.RoleUser, strings.Repeat("word ", chars/5)))
}

func TestShouldCompactTriggersOverBudget(t *testing.T) {
	e := NewEngine(nil, nil, nil, Config{MaxContextTokens: 1000, Threshold: 1.0})
	// reserve exceeds the window, so the full window is the budget

	turns := []canonical.Turn{textTurn(800), textTurn(800), textTurn(800)}
	incoming := textTurn(2000)

	need, total := e.ShouldCompact(turns, incoming, "test-model")
	if !need {
		t.Errorf("ShouldCompact = false with total %d over budget %d", total, e.Budget("test-model"))
	}

	need, _ = e.ShouldCompact(turns[:1], textTurn(100), "test-model")
	if need {
		t.Error("ShouldCompact = true well under budget")
	}
}

func TestCompactReplacesPrefixWithSummary(t *testing.T) {
	mgr := openTestSessions(t)
	seedSession(t, mgr, "s1", "a", "b", "c", "d", "e", "f")

	summ := &stubSummarizer{summary: validSummary()}
	e := NewEngine(mgr, nil, summ, Config{PreserveRecent: 2})

	if err := e.Compact(t.Context(), "s1", "claude-sonnet-4-5"); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	turns, err := mgr.Turns(t.Context(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want summary + 2 preserved", len(turns))
	}
	if !turns[0].IsSummary() {
		t.Error("first turn is not the summary")
	}
	if turns[1].Messages[0].Text() != "e" || turns[2].Messages[0].Text() != "f" {
		t.Errorf("recent turns not preserved: %q, %q",
			turns[1].Messages[0].Text(), turns[2].Messages[0].Text())
	}

	sess, err := mgr.Get(t.Context(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != canonical.SessionActive {
		t.Errorf("status = %q after compaction", sess.Status)
	}
}

func TestCompactNeverLeavesAdjacentSummaries(t *testing.T) {
	mgr := openTestSessions(t)
	seedSession(t, mgr, "s1", "a", "b", "c", "d", "e", "f")

	summ := &stubSummarizer{summary: validSummary()}
	e := NewEngine(mgr, nil, summ, Config{PreserveRecent: 2})
	ctx := t.Context()

	if err := e.Compact(ctx, "s1", "claude-sonnet-4-5"); err != nil {
		t.Fatal(err)
	}
	// More turns arrive, then a second compaction folds the old summary in
	for _, text := range []string{"g", "h"} {
		mgr.AppendTurn(ctx, "s1", canonical.NewTurn(canonical.NewText(canonical.RoleUser, text)))
	}
	if err := e.Compact(ctx, "s1", "claude-sonnet-4-5"); err != nil {
		t.Fatal(err)
	}

	turns, _ := mgr.Turns(ctx, "s1")
	summaries := 0
	for i, turn := range turns {
		if turn.IsSummary() {
			summaries++
			if i != 0 {
				t.Errorf("summary at position %d, want only position 0", i)
			}
		}
	}
	if summaries != 1 {
		t.Errorf("got %d summaries, want exactly 1", summaries)
	}
}

func TestCompactNoopWhenNothingToCompact(t *testing.T) {
	mgr := openTestSessions(t)
	seedSession(t, mgr, "s1", "a", "b")

	summ := &stubSummarizer{summary: validSummary()}
	e := NewEngine(mgr, nil, summ, Config{PreserveRecent: 4})

	if err := e.Compact(t.Context(), "s1", "claude-sonnet-4-5"); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if summ.calls != 0 {
		t.Errorf("summarizer called %d times for a short session", summ.calls)
	}
}

func TestCompactDefersOnSummarizerFailure(t *testing.T) {
	mgr := openTestSessions(t)
	seedSession(t, mgr, "s1", "a", "b", "c", "d", "e", "f")

	summ := &stubSummarizer{err: errors.New("upstream 500")}
	e := NewEngine(mgr, nil, summ, Config{PreserveRecent: 2})

	err := e.Compact(t.Context(), "s1", "claude-sonnet-4-5")
	var def *Deferred
	if !errors.As(err, &def) {
		t.Fatalf("want Deferred, got %v", err)
	}

	// History untouched, session back to active
	turns, _ := mgr.Turns(t.Context(), "s1")
	if len(turns) != 6 {
		t.Errorf("history modified on failure: %d turns", len(turns))
	}
	sess, _ := mgr.Get(t.Context(), "s1")
	if sess.Status != canonical.SessionActive {
		t.Errorf("status = %q, want active restored", sess.Status)
	}
}

func TestCancelledCompactionRestoresStatus(t *testing.T) {
	mgr := openTestSessions(t)
	seedSession(t, mgr, "s1", "a", "b", "c", "d", "e", "f")

	ctx, cancel := context.WithCancel(t.Context())
	summ := &cancellingSummarizer{cancel: cancel}
	e := NewEngine(mgr, nil, summ, Config{PreserveRecent: 2})

	err := e.Compact(ctx, "s1", "claude-sonnet-4-5")
	var def *Deferred
	if !errors.As(err, &def) {
		t.Fatalf("want Deferred, got %v", err)
	}

	sess, err := mgr.Get(t.Context(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != canonical.SessionActive {
		t.Errorf("status = %q, want active restored despite cancellation", sess.Status)
	}
}

// cancellingSummarizer cancels the request context mid-call, the way a
// client disconnect lands during summarization.
type cancellingSummarizer struct {
	cancel context.CancelFunc
}

func (s *cancellingSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	s.cancel()
	return "", ctx.Err()
}

func TestCompactDefersOnMalformedSummary(t *testing.T) {
	mgr := openTestSessions(t)
	seedSession(t, mgr, "s1", "a", "b", "c", "d", "e", "f")

	summ := &stubSummarizer{summary: "just a blob of text with no sections"}
	e := NewEngine(mgr, nil, summ, Config{PreserveRecent: 2})

	err := e.Compact(t.Context(), "s1", "claude-sonnet-4-5")
	var def *Deferred
	if !errors.As(err, &def) {
		t.Fatalf("want Deferred, got %v", err)
	}
	turns, _ := mgr.Turns(t.Context(), "s1")
	if len(turns) != 6 {
		t.Errorf("history modified on malformed summary: %d turns", len(turns))
	}
}

func TestCompactBlockedByHook(t *testing.T) {
	mgr := openTestSessions(t)
	seedSession(t, mgr, "s1", "a", "b", "c", "d", "e", "f")

	he, err := hooks.NewEngine(hooks.Settings{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	he.Register(hooks.PreCompact, "", hooks.CommandHandler{
		Command: `echo "not now" >&2; exit 2`,
	})

	summ := &stubSummarizer{summary: validSummary()}
	e := NewEngine(mgr, he, summ, Config{PreserveRecent: 2})

	err = e.Compact(t.Context(), "s1", "claude-sonnet-4-5")
	if !errors.Is(err, ErrHookBlocked) {
		t.Fatalf("want ErrHookBlocked, got %v", err)
	}
	if summ.calls != 0 {
		t.Error("summarizer called despite hook veto")
	}
	turns, _ := mgr.Turns(t.Context(), "s1")
	if len(turns) != 6 {
		t.Errorf("history modified despite veto: %d turns", len(turns))
	}
}

func TestValidateSummary(t *testing.T) {
	if err := ValidateSummary(validSummary()); err != nil {
		t.Errorf("valid summary rejected: %v", err)
	}
	if err := ValidateSummary(""); err == nil {
		t.Error("empty summary accepted")
	}
	partial := strings.Replace(validSummary(), "Pending Tasks", "Stuff To Do", 1)
	err := ValidateSummary(partial)
	if err == nil || !strings.Contains(err.Error(), "Pending Tasks") {
		t.Errorf("partial summary error = %v, want missing section named", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d", got)
	}
	// 1000 chars of 5-char words: chars/4 = 250, words*4/3 = 266, avg 258
	text := strings.Repeat("word ", 200)
	got := EstimateTokens(text)
	if got < 200 || got > 320 {
		t.Errorf("EstimateTokens = %d, want roughly 250", got)
	}
}

func TestContextWindow(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"claude-sonnet-4-5", 200_000},
		{"gpt-4o-mini", 128_000},
		{"deepseek-chat", 64_000},
		{"some-unknown-model", DefaultContextWindow},
	}
	for _, tc := range cases {
		if got := ContextWindow(tc.model); got != tc.want {
			t.Errorf("ContextWindow(%q) = %d, want %d", tc.model, got, tc.want)
		}
	}
}
