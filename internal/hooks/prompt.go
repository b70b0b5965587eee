package hooks

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Completer is the narrow model-call capability a prompt handler needs.
// The gateway wires an adapter-backed implementation in; tests supply a
// stub.
type Completer interface {
	CompleteText(ctx context.Context, system, user string) (string, error)
}

// PromptHandler issues a targeted model call whose sole output is a
// decision. Used for semantic judgment where a script cannot decide.
type PromptHandler struct {
	Prompt    string
	Timeout   time.Duration
	Completer Completer
}

// Kind returns the handler kind for logging.
func (h PromptHandler) Kind() string { return "prompt" }

// Describe returns a short identifier for logging.
func (h PromptHandler) Describe() string {
	p := h.Prompt
	if len(p) > 40 {
		p = p[:40] + "..."
	}
	return "prompt(" + p + ")"
}

const promptHandlerSystem = `You are a policy check for an AI gateway. ` +
	`Evaluate the event below against the given instruction. ` +
	`Respond with a single JSON object: ` +
	`{"decision":"allow"|"deny","reason":"...","systemMessage":"..."} ` +
	`with reason and systemMessage optional. Respond with JSON only.`

// Run evaluates the event with one model call. The model's verdict maps
// onto the same Output shape command handlers produce.
func (h PromptHandler) Run(ctx context.Context, ev Event) (Output, error) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		return Output{}, err
	}

	user := "Instruction: " + h.Prompt + "\n\nEvent:\n" + string(payload)

	text, err := h.Completer.CompleteText(ctx, promptHandlerSystem, user)
	if ctx.Err() == context.DeadlineExceeded {
		return Output{}, ErrTimeout
	}
	if err != nil {
		return Output{}, err
	}

	return parseVerdict(text), nil
}

// parseVerdict extracts a decision from model output. JSON is preferred;
// a bare "allow"/"deny" works as a fallback. Anything else allows.
func parseVerdict(text string) Output {
	text = strings.TrimSpace(text)

	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			var out Output
			if err := json.Unmarshal([]byte(text[start:end+1]), &out); err == nil {
				if out.Decision == DecisionDeny && out.Continues() {
					blocked := false
					out.Continue = &blocked
					if out.Reason == "" {
						out.Reason = "denied by prompt hook"
					}
				}
				return out
			}
		}
	}

	switch strings.ToLower(strings.Fields(text + " allow")[0]) {
	case "deny", "block", "no":
		blocked := false
		return Output{Continue: &blocked, Decision: DecisionDeny, Reason: "denied by prompt hook"}
	default:
		return Output{Decision: DecisionAllow}
	}
}
