// Package canonical defines the provider-independent conversation model.
// Every adapter translates between these types and one upstream wire
// dialect; everything above the adapter layer speaks only this model.
package canonical

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// SegmentType identifies the kind of a content segment.
type SegmentType string

const (
	SegmentText       SegmentType = "text"
	SegmentToolCall   SegmentType = "tool_call"
	SegmentToolResult SegmentType = "tool_result"
	SegmentThinking   SegmentType = "thinking"
	SegmentAttachment SegmentType = "attachment"
)

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult carries the outcome of one tool invocation back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// AttachmentRef points at out-of-band data attached to a message.
// The resolver that dereferences it lives outside this package.
type AttachmentRef struct {
	URI       string `json:"uri"`
	MediaType string `json:"media_type,omitempty"`
}

// Segment is one typed unit of message content. Exactly one of the
// pointer fields is set for non-text segment types; Text carries the
// body for both text and thinking segments.
type Segment struct {
	Type       SegmentType    `json:"type"`
	Text       string         `json:"text,omitempty"`
	ToolCall   *ToolCall      `json:"tool_call,omitempty"`
	ToolResult *ToolResult    `json:"tool_result,omitempty"`
	Attachment *AttachmentRef `json:"attachment,omitempty"`
}

// Message is one conversation entry. Immutable once created; callers
// build a new Message rather than editing one in place.
type Message struct {
	ID       string    `json:"id"`
	Role     Role      `json:"role"`
	Segments []Segment `json:"segments"`
}

// NewText builds a single-segment text message.
func NewText(role Role, text string) Message {
	return Message{
		ID:       uuid.NewString(),
		Role:     role,
		Segments: []Segment{{Type: SegmentText, Text: text}},
	}
}

// NewToolResults builds a tool-role message carrying one or more results.
func NewToolResults(results ...ToolResult) Message {
	segs := make([]Segment, 0, len(results))
	for i := range results {
		r := results[i]
		segs = append(segs, Segment{Type: SegmentToolResult, ToolResult: &r})
	}
	return Message{ID: uuid.NewString(), Role: RoleTool, Segments: segs}
}

// Text returns the concatenated text segments of the message.
// Thinking segments are excluded.
func (m Message) Text() string {
	var b strings.Builder
	for _, s := range m.Segments {
		if s.Type == SegmentText {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Thinking returns the concatenated thinking segments.
func (m Message) Thinking() string {
	var b strings.Builder
	for _, s := range m.Segments {
		if s.Type == SegmentThinking {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool-call segments in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, s := range m.Segments {
		if s.Type == SegmentToolCall && s.ToolCall != nil {
			calls = append(calls, *s.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the tool-result segments in order.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, s := range m.Segments {
		if s.Type == SegmentToolResult && s.ToolResult != nil {
			results = append(results, *s.ToolResult)
		}
	}
	return results
}

// IsEmpty reports whether the message carries no content at all.
func (m Message) IsEmpty() bool {
	for _, s := range m.Segments {
		switch s.Type {
		case SegmentText, SegmentThinking:
			if s.Text != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}
