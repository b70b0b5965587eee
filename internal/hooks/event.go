// Package hooks dispatches lifecycle events to externally defined
// handlers and resolves their decisions. Handlers can veto or rewrite
// the in-flight action; the engine enforces timeouts and blocking
// semantics so a misbehaving handler never stalls the pipeline.
package hooks

import "encoding/json"

// Kind is a lifecycle event kind. The set is fixed.
type Kind string

const (
	SessionStart       Kind = "session_start"
	SessionEnd         Kind = "session_end"
	UserPromptSubmit   Kind = "user_prompt_submit"
	PreToolUse         Kind = "pre_tool_use"
	PostToolUse        Kind = "post_tool_use"
	PostToolUseFailure Kind = "post_tool_use_failure"
	Stop               Kind = "stop"
	SubagentStart      Kind = "subagent_start"
	SubagentStop       Kind = "subagent_stop"
	PreCompact         Kind = "pre_compact"
	PermissionRequest  Kind = "permission_request"
	Notification       Kind = "notification"
)

// Kinds lists every event kind.
var Kinds = []Kind{
	SessionStart, SessionEnd, UserPromptSubmit,
	PreToolUse, PostToolUse, PostToolUseFailure,
	Stop, SubagentStart, SubagentStop,
	PreCompact, PermissionRequest, Notification,
}

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is the structured input delivered to every matched handler.
// Read-only to handlers; the engine never mutates it after dispatch.
type Event struct {
	Event          Kind   `json:"event"`
	SessionID      string `json:"session_id"`
	Cwd            string `json:"cwd,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`

	// Tool events
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// user_prompt_submit
	Prompt string `json:"prompt,omitempty"`

	// stop / subagent_stop / post_tool_use_failure
	Reason string `json:"reason,omitempty"`
}

// MatchTarget returns the string a handler matcher is tested against:
// the tool name for tool events, the prompt for prompt submission,
// empty otherwise (matching everything).
func (e Event) MatchTarget() string {
	switch e.Event {
	case PreToolUse, PostToolUse, PostToolUseFailure, PermissionRequest:
		return e.ToolName
	case UserPromptSubmit:
		return e.Prompt
	default:
		return ""
	}
}

// Decision values for pre_tool_use and permission_request outputs.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
	DecisionAsk   = "ask"
)

// Output is the structured result a handler produces. Zero value means
// "continue, nothing to add".
type Output struct {
	// Continue defaults to true when absent
	Continue       *bool  `json:"continue,omitempty"`
	SuppressOutput bool   `json:"suppressOutput,omitempty"`
	Decision       string `json:"decision,omitempty"`
	Reason         string `json:"reason,omitempty"`
	SystemMessage  string `json:"systemMessage,omitempty"`

	// Prompt replaces the submitted prompt (user_prompt_submit only)
	Prompt string `json:"prompt,omitempty"`

	// UpdatedInput replaces the tool input (pre_tool_use only)
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
}

// Continues reports whether the handler allows processing to proceed.
func (o Output) Continues() bool {
	return o.Continue == nil || *o.Continue
}
