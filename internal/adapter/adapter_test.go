package adapter

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/lanternai/lantern/internal/canonical"
)

func TestCollectPreservesOrderAndUsage(t *testing.T) {
	events := make(chan StreamEvent, 10)
	events <- StreamEvent{Type: EventTypeThinking, Text: "hmm"}
	events <- StreamEvent{Type: EventTypeText, Text: "Hello, "}
	events <- StreamEvent{Type: EventTypeText, Text: "world"}
	events <- StreamEvent{Type: EventTypeToolCall, ToolCall: &canonical.ToolCall{
		ID: "tc-1", Name: "read_file", Input: json.RawMessage(`{"path":"a.txt"}`),
	}}
	events <- StreamEvent{Type: EventTypeUsage, Usage: &canonical.TokenUsage{Input: 10, Output: 5}}
	events <- StreamEvent{Type: EventTypeDone}
	close(events)

	resp, err := Collect(events)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if resp.Incomplete {
		t.Error("expected complete response")
	}
	if got := resp.Message.Text(); got != "Hello, world" {
		t.Errorf("text = %q, want %q", got, "Hello, world")
	}
	if got := resp.Message.Thinking(); got != "hmm" {
		t.Errorf("thinking = %q", got)
	}
	calls := resp.Message.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "tc-1" || calls[0].Name != "read_file" {
		t.Errorf("tool calls = %+v", calls)
	}
	if resp.Usage.Input != 10 || resp.Usage.Output != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCollectTruncatedStreamMarksIncomplete(t *testing.T) {
	events := make(chan StreamEvent, 4)
	events <- StreamEvent{Type: EventTypeText, Text: "partial answer"}
	close(events)

	resp, err := Collect(events)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if !resp.Incomplete {
		t.Error("stream without done event should be incomplete")
	}
	if resp.Message.Text() != "partial answer" {
		t.Errorf("received content should be preserved, got %q", resp.Message.Text())
	}
}

func TestCollectErrorAfterContentKeepsContent(t *testing.T) {
	events := make(chan StreamEvent, 4)
	events <- StreamEvent{Type: EventTypeText, Text: "some text"}
	events <- StreamEvent{Type: EventTypeError, Err: errors.New("connection reset")}
	close(events)

	resp, err := Collect(events)
	if err != nil {
		t.Fatalf("error after content should not discard it: %v", err)
	}
	if !resp.Incomplete {
		t.Error("expected incomplete response")
	}
	if resp.Message.Text() != "some text" {
		t.Errorf("content lost: %q", resp.Message.Text())
	}
}

func TestCollectErrorBeforeContentFails(t *testing.T) {
	events := make(chan StreamEvent, 2)
	events <- StreamEvent{Type: EventTypeError, Err: errors.New("boom")}
	close(events)

	if _, err := Collect(events); err == nil {
		t.Fatal("expected error when stream fails before any content")
	}
}

func TestAnthropicToWireMapsRolesAndTools(t *testing.T) {
	a := NewAnthropic("test-key", "claude-sonnet-4-5")

	req := &canonical.Request{
		System: "be terse",
		Messages: []canonical.Message{
			canonical.NewText(canonical.RoleUser, "list the files"),
			{
				ID:   "m2",
				Role: canonical.RoleAssistant,
				Segments: []canonical.Segment{
					{Type: canonical.SegmentText, Text: "listing"},
					{Type: canonical.SegmentToolCall, ToolCall: &canonical.ToolCall{
						ID: "tc-1", Name: "ls", Input: json.RawMessage(`{"path":"."}`),
					}},
				},
			},
			canonical.NewToolResults(canonical.ToolResult{ToolCallID: "tc-1", Content: "a.txt"}),
		},
		MaxTokens: 2048,
	}

	params, err := a.toWire(req)
	if err != nil {
		t.Fatalf("toWire failed: %v", err)
	}
	if params.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d", params.MaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "be terse" {
		t.Errorf("system not mapped: %+v", params.System)
	}
	// user, assistant, tool-result-as-user
	if len(params.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(params.Messages))
	}
	if string(params.Messages[1].Role) != "assistant" {
		t.Errorf("role = %s", params.Messages[1].Role)
	}
}

func TestAnthropicToWireFiltersOrphans(t *testing.T) {
	a := NewAnthropic("test-key", "claude-sonnet-4-5")

	req := &canonical.Request{
		Messages: []canonical.Message{
			canonical.NewText(canonical.RoleUser, "go"),
			{
				ID:   "m2",
				Role: canonical.RoleAssistant,
				Segments: []canonical.Segment{
					{Type: canonical.SegmentToolCall, ToolCall: &canonical.ToolCall{
						ID: "unanswered", Name: "ls", Input: json.RawMessage(`{}`),
					}},
				},
			},
			canonical.NewToolResults(canonical.ToolResult{ToolCallID: "no-such-call", Content: "x"}),
		},
	}

	params, err := a.toWire(req)
	if err != nil {
		t.Fatalf("toWire failed: %v", err)
	}
	// Only the user message survives: the tool call has no response and
	// the result has no call.
	if len(params.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(params.Messages))
	}
}

func TestAnthropicThinkingBudgetFloor(t *testing.T) {
	a := NewAnthropic("test-key", "claude-sonnet-4-5")

	req := &canonical.Request{
		Messages: []canonical.Message{canonical.NewText(canonical.RoleUser, "think hard")},
		Thinking: &canonical.ThinkingConfig{Enabled: true, BudgetTokens: 100},
	}
	params, err := a.toWire(req)
	if err != nil {
		t.Fatalf("toWire failed: %v", err)
	}
	if params.Thinking.OfEnabled == nil {
		t.Fatal("thinking not enabled on wire request")
	}
	if got := params.Thinking.OfEnabled.BudgetTokens; got != anthropicMinThinkingBudget {
		t.Errorf("budget = %d, want floor %d", got, anthropicMinThinkingBudget)
	}
	if req.Metadata[canonical.Degradations] != "" {
		t.Errorf("unexpected degradation note: %q", req.Metadata[canonical.Degradations])
	}
}

func TestOpenAIToWireRoundTripsToolIdentity(t *testing.T) {
	a := NewOpenAI("test-key", "gpt-4.1")

	req := &canonical.Request{
		System: "sys",
		Messages: []canonical.Message{
			canonical.NewText(canonical.RoleUser, "hello"),
			{
				ID:   "m2",
				Role: canonical.RoleAssistant,
				Segments: []canonical.Segment{
					{Type: canonical.SegmentToolCall, ToolCall: &canonical.ToolCall{
						ID: "call_9", Name: "grep", Input: json.RawMessage(`{"q":"x"}`),
					}},
				},
			},
			canonical.NewToolResults(canonical.ToolResult{ToolCallID: "call_9", Content: "match"}),
		},
	}

	params, _, err := a.toWire(req)
	if err != nil {
		t.Fatalf("toWire failed: %v", err)
	}
	// system + user + assistant + tool
	if len(params.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(params.Messages))
	}
	assistant := params.Messages[2].OfAssistant
	if assistant == nil || len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant tool calls not mapped: %+v", params.Messages[2])
	}
	if assistant.ToolCalls[0].ID != "call_9" || assistant.ToolCalls[0].Function.Name != "grep" {
		t.Errorf("tool identity lost: %+v", assistant.ToolCalls[0])
	}
}

func TestOpenAIReasoningEffortFromBudget(t *testing.T) {
	a := NewOpenAI("test-key", "o4-mini")

	req := &canonical.Request{
		Messages: []canonical.Message{canonical.NewText(canonical.RoleUser, "hi")},
		Thinking: &canonical.ThinkingConfig{Enabled: true, BudgetTokens: 16000},
	}
	params, _, err := a.toWire(req)
	if err != nil {
		t.Fatalf("toWire failed: %v", err)
	}
	if string(params.ReasoningEffort) != "high" {
		t.Errorf("reasoning effort = %q, want high", params.ReasoningEffort)
	}
}

func TestUnsupportedThinkingDegradesWithNote(t *testing.T) {
	a := NewOllama("", "qwen3:4b")

	req := &canonical.Request{
		Messages: []canonical.Message{canonical.NewText(canonical.RoleUser, "hi")},
		Thinking: &canonical.ThinkingConfig{Enabled: true, BudgetTokens: 4096},
	}
	chatReq := a.toWire(req)
	if chatReq == nil {
		t.Fatal("toWire returned nil")
	}
	note := req.Metadata[canonical.Degradations]
	if !strings.Contains(note, "thinking") {
		t.Errorf("expected degradation note, got %q", note)
	}
}

func TestOllamaToWireMapsToolResults(t *testing.T) {
	a := NewOllama("", "qwen3:4b")

	req := &canonical.Request{
		System: "sys",
		Messages: []canonical.Message{
			canonical.NewText(canonical.RoleUser, "go"),
			{
				ID:   "m2",
				Role: canonical.RoleAssistant,
				Segments: []canonical.Segment{
					{Type: canonical.SegmentToolCall, ToolCall: &canonical.ToolCall{
						ID: "c1", Name: "fetch", Input: json.RawMessage(`{"url":"http://x"}`),
					}},
				},
			},
			canonical.NewToolResults(canonical.ToolResult{ToolCallID: "c1", Content: "ok"}),
		},
	}
	chatReq := a.toWire(req)
	// system + user + assistant + tool
	if len(chatReq.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(chatReq.Messages))
	}
	last := chatReq.Messages[3]
	if last.Role != "tool" || last.ToolCallID != "c1" || last.ToolName != "fetch" {
		t.Errorf("tool result not mapped: %+v", last)
	}
}

func TestRegistryUnknownProviderIsConfigError(t *testing.T) {
	_, err := New(t.Context(), ProviderConfig{ID: "does-not-exist"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("want ConfigError, got %T", err)
	}
}

func TestUpstreamErrorClassifiers(t *testing.T) {
	rate := &UpstreamError{Provider: "openai", Status: 429, Body: "slow down"}
	if !IsRateLimitOrAuth(rate) {
		t.Error("429 should classify as rate limit")
	}
	overflow := &UpstreamError{Provider: "anthropic", Status: 400, Body: "prompt is too long: maximum context length exceeded"}
	if !IsContextOverflow(overflow) {
		t.Error("context overflow not detected")
	}
	if IsRateLimitOrAuth(errors.New("plain")) {
		t.Error("plain error misclassified")
	}
}
