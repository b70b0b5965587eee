package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/lanternai/lantern/internal/canonical"
	"github.com/lanternai/lantern/internal/logging"
)

var googleLog = logging.Scope("google")

// GoogleAdapter translates canonical requests to the Gemini API.
type GoogleAdapter struct {
	client *genai.Client
	model  string
}

// NewGoogle creates a Gemini adapter.
func NewGoogle(ctx context.Context, apiKey, model string) (*GoogleAdapter, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GoogleAdapter{client: client, model: model}, nil
}

// ID returns the provider identifier
func (a *GoogleAdapter) ID() string { return "google" }

// Capabilities reports the declared feature support. The SDK exposes no
// thinking parameter, so thinking requests degrade with a note.
func (a *GoogleAdapter) Capabilities() CapabilitySet {
	return CapabilitySet{
		Streaming: true,
		ToolCalls: true,
	}
}

// Close releases the underlying client.
func (a *GoogleAdapter) Close() error { return a.client.Close() }

// Complete sends a non-streaming request
func (a *GoogleAdapter) Complete(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	gm, history, last, err := a.toWire(req)
	if err != nil {
		return nil, &TranslationError{Provider: a.ID(), Cause: err}
	}
	cs := gm.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return nil, err
	}
	return a.fromWire(resp), nil
}

// Stream sends a request and returns streaming events
func (a *GoogleAdapter) Stream(ctx context.Context, req *canonical.Request) (<-chan StreamEvent, error) {
	gm, history, last, err := a.toWire(req)
	if err != nil {
		return nil, &TranslationError{Provider: a.ID(), Cause: err}
	}

	googleLog.Debugf("sending request: model=%s history=%d", a.modelName(req), len(history))

	cs := gm.StartChat()
	cs.History = history
	iter := cs.SendMessageStream(ctx, last...)

	events := make(chan StreamEvent, 100)
	go a.handleStream(iter, events)
	return events, nil
}

func (a *GoogleAdapter) modelName(req *canonical.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.model
}

// toWire builds the model handle, chat history and the trailing message
// parts. Gemini takes the final message separately from history.
func (a *GoogleAdapter) toWire(req *canonical.Request) (*genai.GenerativeModel, []*genai.Content, []genai.Part, error) {
	gm := a.client.GenerativeModel(a.modelName(req))

	if req.System != "" {
		gm.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		gm.SetTemperature(float32(req.Temperature))
	}
	degradeThinking(req, a.Capabilities(), a.ID())

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			schema, err := toGenaiSchema(tool.InputSchema)
			if err != nil {
				googleLog.Warnf("failed to parse tool schema for %s: %v", tool.Name, err)
				continue
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			})
		}
		gm.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	toolNames := toolNamesByCallID(req.Messages)

	var contents []*genai.Content
	for _, msg := range req.Messages {
		parts := a.buildParts(msg, toolNames)
		if len(parts) == 0 {
			continue
		}
		role := "user"
		if msg.Role == canonical.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	if len(contents) == 0 {
		return nil, nil, nil, fmt.Errorf("request has no sendable messages")
	}

	last := contents[len(contents)-1]
	return gm, contents[:len(contents)-1], last.Parts, nil
}

// buildParts converts one canonical message to Gemini parts. Function
// results go back as user-role FunctionResponse parts.
func (a *GoogleAdapter) buildParts(msg canonical.Message, toolNames map[string]string) []genai.Part {
	var parts []genai.Part
	for _, seg := range msg.Segments {
		switch seg.Type {
		case canonical.SegmentText:
			if seg.Text != "" {
				parts = append(parts, genai.Text(seg.Text))
			}
		case canonical.SegmentToolCall:
			if seg.ToolCall == nil {
				continue
			}
			var args map[string]any
			if err := json.Unmarshal(seg.ToolCall.Input, &args); err != nil {
				args = map[string]any{}
			}
			parts = append(parts, genai.FunctionCall{
				Name: seg.ToolCall.Name,
				Args: args,
			})
		case canonical.SegmentToolResult:
			if seg.ToolResult == nil {
				continue
			}
			parts = append(parts, genai.FunctionResponse{
				Name: toolNames[seg.ToolResult.ToolCallID],
				Response: map[string]any{
					"result": seg.ToolResult.Content,
				},
			})
		}
	}
	return parts
}

// fromWire converts a full Gemini response to canonical form.
// Gemini assigns no tool-call ids, so the adapter mints them.
func (a *GoogleAdapter) fromWire(resp *genai.GenerateContentResponse) *canonical.Response {
	out := &canonical.Response{
		Message: canonical.Message{ID: uuid.NewString(), Role: canonical.RoleAssistant},
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		out.StopReason = cand.FinishReason.String()
		for _, part := range cand.Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				appendText(&out.Message, canonical.SegmentText, string(p))
			case genai.FunctionCall:
				input, _ := json.Marshal(p.Args)
				out.Message.Segments = append(out.Message.Segments, canonical.Segment{
					Type: canonical.SegmentToolCall,
					ToolCall: &canonical.ToolCall{
						ID:    "call-" + uuid.NewString(),
						Name:  p.Name,
						Input: input,
					},
				})
			}
		}
	}
	if resp.UsageMetadata != nil {
		out.Usage = canonical.TokenUsage{
			Input:     int(resp.UsageMetadata.PromptTokenCount),
			Output:    int(resp.UsageMetadata.CandidatesTokenCount),
			CacheRead: int(resp.UsageMetadata.CachedContentTokenCount),
		}
	}
	return out
}

// handleStream processes the streaming response
func (a *GoogleAdapter) handleStream(iter *genai.GenerateContentResponseIterator, events chan<- StreamEvent) {
	defer close(events)

	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			googleLog.Errorf("stream error: %v", err)
			events <- StreamEvent{Type: EventTypeError, Err: err}
			return
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				switch p := part.(type) {
				case genai.Text:
					events <- StreamEvent{Type: EventTypeText, Text: string(p)}
				case genai.FunctionCall:
					input, _ := json.Marshal(p.Args)
					events <- StreamEvent{
						Type: EventTypeToolCall,
						ToolCall: &canonical.ToolCall{
							ID:    "call-" + uuid.NewString(),
							Name:  p.Name,
							Input: input,
						},
					}
				}
			}
		}

		if resp.UsageMetadata != nil {
			events <- StreamEvent{Type: EventTypeUsage, Usage: &canonical.TokenUsage{
				Input:  int(resp.UsageMetadata.PromptTokenCount),
				Output: int(resp.UsageMetadata.CandidatesTokenCount),
			}}
		}
	}

	events <- StreamEvent{Type: EventTypeDone}
}

// toolNamesByCallID maps tool-call ids to tool names across the history.
func toolNamesByCallID(msgs []canonical.Message) map[string]string {
	names := make(map[string]string)
	for _, msg := range msgs {
		for _, tc := range msg.ToolCalls() {
			names[tc.ID] = tc.Name
		}
	}
	return names
}

// toGenaiSchema converts a JSON Schema object to the SDK schema type.
// Only the subset tools actually use is mapped.
func toGenaiSchema(raw json.RawMessage) (*genai.Schema, error) {
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}

	out := &genai.Schema{Type: genai.TypeObject}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			prop, ok := p.(map[string]any)
			if !ok {
				continue
			}
			ps := &genai.Schema{Type: genaiType(prop["type"])}
			if desc, ok := prop["description"].(string); ok {
				ps.Description = desc
			}
			if enum, ok := prop["enum"].([]any); ok {
				for _, e := range enum {
					if s, ok := e.(string); ok {
						ps.Enum = append(ps.Enum, s)
					}
				}
			}
			out.Properties[name] = ps
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out, nil
}

func genaiType(v any) genai.Type {
	s, _ := v.(string)
	switch s {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
