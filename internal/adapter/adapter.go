// Package adapter translates between the canonical conversation model
// and each upstream provider's wire dialect, in both directions,
// including streaming reassembly and thinking-parameter mapping.
package adapter

import (
	"context"

	"github.com/lanternai/lantern/internal/canonical"
)

// CapabilitySet declares what an upstream dialect supports. Adapters are
// selected and degraded against it; callers never inspect provider names.
type CapabilitySet struct {
	Streaming bool
	ToolCalls bool
	Thinking  bool
	// ThinkingParam names the provider's reasoning parameter, e.g.
	// "thinking.budget_tokens" or "reasoning_effort". Empty when
	// Thinking is false.
	ThinkingParam string
}

// StreamEventType defines the type of streaming event
type StreamEventType string

const (
	EventTypeText     StreamEventType = "text"
	EventTypeThinking StreamEventType = "thinking"
	EventTypeToolCall StreamEventType = "tool_call"
	EventTypeUsage    StreamEventType = "usage"
	EventTypeError    StreamEventType = "error"
	EventTypeDone     StreamEventType = "done"
)

// StreamEvent is one reassembled unit of a streaming response. Chunk
// ordering is preserved from the upstream stream.
type StreamEvent struct {
	Type     StreamEventType       `json:"type"`
	Text     string                `json:"text,omitempty"`
	ToolCall *canonical.ToolCall   `json:"tool_call,omitempty"`
	Usage    *canonical.TokenUsage `json:"usage,omitempty"`
	Err      error                 `json:"-"`
}

// Adapter is the translation contract for one upstream provider.
// Complete performs a blocking chat call; Stream returns reassembled
// events on a channel that is closed when the upstream stream ends.
// Both honor ctx cancellation promptly.
type Adapter interface {
	// ID returns the provider identifier, e.g. "anthropic", "deepseek"
	ID() string

	// Capabilities reports the declared feature support of the dialect
	Capabilities() CapabilitySet

	// Complete sends a non-streaming request
	Complete(ctx context.Context, req *canonical.Request) (*canonical.Response, error)

	// Stream sends a request and returns a channel of streaming events
	Stream(ctx context.Context, req *canonical.Request) (<-chan StreamEvent, error)
}

// Collect drains a stream into a canonical response. A stream that ends
// without a done event, or that ends in an error after content was
// already received, yields an Incomplete response rather than discarding
// what arrived. An error before any content is returned as the error.
func Collect(events <-chan StreamEvent) (*canonical.Response, error) {
	resp := &canonical.Response{
		Message: canonical.Message{Role: canonical.RoleAssistant},
	}
	done := false
	var streamErr error

	for ev := range events {
		switch ev.Type {
		case EventTypeText:
			appendText(&resp.Message, canonical.SegmentText, ev.Text)
		case EventTypeThinking:
			appendText(&resp.Message, canonical.SegmentThinking, ev.Text)
		case EventTypeToolCall:
			if ev.ToolCall != nil {
				tc := *ev.ToolCall
				resp.Message.Segments = append(resp.Message.Segments,
					canonical.Segment{Type: canonical.SegmentToolCall, ToolCall: &tc})
			}
		case EventTypeUsage:
			if ev.Usage != nil {
				resp.Usage.Add(*ev.Usage)
			}
		case EventTypeError:
			streamErr = ev.Err
		case EventTypeDone:
			done = true
		}
	}

	if streamErr != nil {
		if len(resp.Message.Segments) == 0 {
			return nil, streamErr
		}
		resp.Incomplete = true
		return resp, nil
	}
	if !done {
		resp.Incomplete = true
	}
	return resp, nil
}

// appendText extends the trailing segment of the same type, keeping the
// segment list compact while preserving chunk order.
func appendText(m *canonical.Message, typ canonical.SegmentType, text string) {
	if text == "" {
		return
	}
	if n := len(m.Segments); n > 0 && m.Segments[n-1].Type == typ {
		m.Segments[n-1].Text += text
		return
	}
	m.Segments = append(m.Segments, canonical.Segment{Type: typ, Text: text})
}

// degradeThinking drops an unsupported thinking request, recording a
// note on the request metadata instead of failing.
func degradeThinking(req *canonical.Request, caps CapabilitySet, providerID string) bool {
	if req.Thinking == nil || !req.Thinking.Enabled {
		return false
	}
	if caps.Thinking {
		return true
	}
	req.AddDegradation("thinking not supported by provider " + providerID + ", parameter dropped")
	return false
}
