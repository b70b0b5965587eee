package injector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lanternai/lantern/internal/canonical"
	"github.com/lanternai/lantern/internal/rules"
)

func staticSource(name, text string) Source {
	return SourceFunc{SourceName: name, Fn: func(context.Context) (string, error) {
		return text, nil
	}}
}

func TestBuildTierOrder(t *testing.T) {
	inj := New([]rules.Rule{{Path: "/p/LANTERN.md", Content: "always use tabs"}})
	inj.AddSystemSource(staticSource("core", "<core_memory>persona</core_memory>"))

	history := []canonical.Turn{
		canonical.NewTurn(
			canonical.NewText(canonical.RoleUser, "earlier question"),
			canonical.NewText(canonical.RoleAssistant, "earlier answer"),
		),
	}

	req := inj.Build(t.Context(), Input{
		Turns:        history,
		Prompt:       "what now?",
		Model:        "claude-sonnet-4-5",
		SystemPrefix: "You are a helpful assistant.",
		SystemSuffix: "Be brief.",
	})

	sys := req.System
	for _, want := range []string{"You are a helpful assistant.", "always use tabs", "<core_memory>", "Be brief."} {
		if !strings.Contains(sys, want) {
			t.Errorf("system context missing %q:\n%s", want, sys)
		}
	}
	if strings.Index(sys, "You are a helpful") > strings.Index(sys, "always use tabs") {
		t.Error("prefix should precede rules")
	}
	if strings.Index(sys, "<core_memory>") > strings.Index(sys, "Be brief.") {
		t.Error("suffix should come last")
	}

	if len(req.Messages) != 3 {
		t.Fatalf("got %d messages, want history + triggering", len(req.Messages))
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != canonical.RoleUser || last.Text() != "what now?" {
		t.Errorf("triggering message not last: %+v", last)
	}
}

func TestBuildAttachmentsPrecedePrompt(t *testing.T) {
	inj := New(nil)
	req := inj.Build(t.Context(), Input{
		Prompt:      "describe this",
		Attachments: []canonical.AttachmentRef{{URI: "file:///tmp/x.png", MediaType: "image/png"}},
	})

	last := req.Messages[len(req.Messages)-1]
	if len(last.Segments) != 2 {
		t.Fatalf("segments = %d, want attachment + text", len(last.Segments))
	}
	if last.Segments[0].Type != canonical.SegmentAttachment {
		t.Errorf("first segment = %s, want attachment", last.Segments[0].Type)
	}
	if last.Segments[1].Text != "describe this" {
		t.Errorf("prompt text not last")
	}
}

func TestBuildRemindersWrapped(t *testing.T) {
	inj := New(nil)
	inj.AddReminderSource(staticSource("activity", "recently edited main.go"))

	req := inj.Build(t.Context(), Input{Prompt: "continue"})
	last := req.Messages[len(req.Messages)-1]
	text := last.Text()
	if !strings.Contains(text, "<system-reminder>") || !strings.Contains(text, "recently edited main.go") {
		t.Errorf("reminder not injected: %q", text)
	}
	if !strings.HasSuffix(text, "continue") {
		t.Errorf("prompt should end the message, got %q", text)
	}
}

func TestFailingSourceIsSkipped(t *testing.T) {
	inj := New(nil)
	inj.AddSystemSource(SourceFunc{SourceName: "broken", Fn: func(context.Context) (string, error) {
		return "", errors.New("db locked")
	}})
	inj.AddSystemSource(staticSource("ok", "still here"))

	req := inj.Build(t.Context(), Input{Prompt: "hi"})
	if !strings.Contains(req.System, "still here") {
		t.Error("healthy source dropped alongside failing one")
	}
}

func TestSlowSourceTimesOut(t *testing.T) {
	inj := New(nil)
	inj.AddSystemSource(SourceFunc{SourceName: "slow", Fn: func(ctx context.Context) (string, error) {
		select {
		case <-time.After(10 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}})
	// This one never checks its context at all
	inj.AddSystemSource(SourceFunc{SourceName: "stubborn", Fn: func(context.Context) (string, error) {
		time.Sleep(10 * time.Second)
		return "way too late", nil
	}})
	inj.AddSystemSource(staticSource("ok", "still here"))

	start := time.Now()
	req := inj.Build(t.Context(), Input{Prompt: "hi"})
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("build took %v, source timeout not enforced", elapsed)
	}
	for _, leak := range []string{"too late", "way too late"} {
		if strings.Contains(req.System, leak) {
			t.Errorf("timed-out source contributed %q", leak)
		}
	}
	if !strings.Contains(req.System, "still here") {
		t.Error("healthy source dropped alongside abandoned ones")
	}
}
