package canonical

import "encoding/json"

// ThinkingConfig asks for extended reasoning from providers that support
// it. Each adapter maps this onto its own parameter name and shape; an
// adapter without thinking support drops it and records a degradation
// note on the request.
type ThinkingConfig struct {
	Enabled            bool   `json:"enabled"`
	BudgetTokens       int    `json:"budget_tokens,omitempty"`
	Effort             string `json:"effort,omitempty"`
	PreserveAcrossTurn bool   `json:"preserve_across_turns,omitempty"`
}

// EffortLevel derives a discrete effort level from the token budget for
// providers that take low/medium/high instead of a number.
func (t ThinkingConfig) EffortLevel() string {
	if t.Effort != "" {
		return t.Effort
	}
	switch {
	case t.BudgetTokens > 0 && t.BudgetTokens <= 2048:
		return "low"
	case t.BudgetTokens <= 8192:
		return "medium"
	default:
		return "high"
	}
}

// ToolDefinition describes a tool offered to the model. InputSchema is a
// JSON Schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is the provider-independent chat request handed to an adapter.
type Request struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Thinking    *ThinkingConfig  `json:"thinking,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`

	// Metadata carries non-semantic annotations such as capability
	// degradation notes. Never sent upstream.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Degradations is the metadata key under which adapters record dropped
// capabilities, newline separated.
const Degradations = "degradations"

// AddDegradation records a capability-degradation note on the request.
func (r *Request) AddDegradation(note string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	if prev := r.Metadata[Degradations]; prev != "" {
		r.Metadata[Degradations] = prev + "\n" + note
	} else {
		r.Metadata[Degradations] = note
	}
}

// Response is the provider-independent result of one chat call.
// Incomplete marks a streaming response whose final chunk was truncated;
// already-received content is preserved rather than discarded.
type Response struct {
	Message    Message    `json:"message"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      TokenUsage `json:"usage"`
	Incomplete bool       `json:"incomplete,omitempty"`
}
