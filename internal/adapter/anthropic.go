package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/lanternai/lantern/internal/canonical"
	"github.com/lanternai/lantern/internal/logging"
)

const anthropicDefaultMaxTokens = 8192

// Extended thinking requires at least this budget.
const anthropicMinThinkingBudget = 1024

var anthropicLog = logging.Scope("anthropic")

// AnthropicAdapter translates canonical requests to the Anthropic
// Messages API using the official SDK.
type AnthropicAdapter struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates an Anthropic adapter. Model comes from config,
// never hardcoded here.
func NewAnthropic(apiKey, model string) *AnthropicAdapter {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicAdapter{client: client, model: model}
}

// ID returns the provider identifier
func (a *AnthropicAdapter) ID() string { return "anthropic" }

// Capabilities reports the declared feature support
func (a *AnthropicAdapter) Capabilities() CapabilitySet {
	return CapabilitySet{
		Streaming:     true,
		ToolCalls:     true,
		Thinking:      true,
		ThinkingParam: "thinking.budget_tokens",
	}
}

// Complete sends a non-streaming request
func (a *AnthropicAdapter) Complete(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	params, err := a.toWire(req)
	if err != nil {
		return nil, &TranslationError{Provider: a.ID(), Cause: err}
	}
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapAnthropicErr(err)
	}
	return a.fromWire(msg)
}

// Stream sends a request and returns streaming events
func (a *AnthropicAdapter) Stream(ctx context.Context, req *canonical.Request) (<-chan StreamEvent, error) {
	params, err := a.toWire(req)
	if err != nil {
		return nil, &TranslationError{Provider: a.ID(), Cause: err}
	}

	anthropicLog.Debugf("sending request: model=%s messages=%d tools=%d",
		params.Model, len(params.Messages), len(params.Tools))

	stream := a.client.Messages.NewStreaming(ctx, params)
	events := make(chan StreamEvent, 100)
	go a.handleStream(stream, events)
	return events, nil
}

// toWire builds the wire request. Thinking is enabled with the requested
// budget when supported; role and tool-call identity are mapped losslessly.
func (a *AnthropicAdapter) toWire(req *canonical.Request) (anthropic.MessageNewParams, error) {
	messages, err := a.buildMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	model := a.model
	if req.Model != "" {
		model = req.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(anthropicDefaultMaxTokens),
		Messages:  messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			var schema map[string]interface{}
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				anthropicLog.Warnf("failed to parse tool schema for %s: %v", tool.Name, err)
				continue
			}
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
				},
			}
			if required, ok := schema["required"].([]interface{}); ok {
				reqStrings := make([]string, len(required))
				for i, r := range required {
					reqStrings[i], _ = r.(string)
				}
				toolParam.InputSchema.Required = reqStrings
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	if degradeThinking(req, a.Capabilities(), a.ID()) {
		budget := req.Thinking.BudgetTokens
		if budget < anthropicMinThinkingBudget {
			budget = anthropicMinThinkingBudget
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
		if int64(budget)+1024 > params.MaxTokens {
			params.MaxTokens = int64(budget) + 4096
		}
	}

	return params, nil
}

// buildMessages converts canonical messages to Anthropic format.
// Tool calls without responses and tool results without calls are
// filtered so the upstream never sees orphaned entries.
func (a *AnthropicAdapter) buildMessages(msgs []canonical.Message) ([]anthropic.MessageParam, error) {
	allToolCallIDs := make(map[string]bool)
	respondedToolIDs := make(map[string]bool)
	for _, msg := range msgs {
		for _, tc := range msg.ToolCalls() {
			allToolCallIDs[tc.ID] = true
		}
		for _, r := range msg.ToolResults() {
			respondedToolIDs[r.ToolCallID] = true
		}
	}

	var result []anthropic.MessageParam

	for _, msg := range msgs {
		switch msg.Role {
		case canonical.RoleUser:
			// Empty text blocks are rejected upstream
			if msg.Text() == "" {
				continue
			}
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Text()),
			))

		case canonical.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text := msg.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range msg.ToolCalls() {
				if !respondedToolIDs[tc.ID] {
					anthropicLog.Debugf("skipping tool_use without response: %s", tc.ID)
					continue
				}
				var input map[string]interface{}
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: blocks,
				})
			}

		case canonical.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, r := range msg.ToolResults() {
				if !allToolCallIDs[r.ToolCallID] {
					anthropicLog.Debugf("skipping orphaned tool_result: %s", r.ToolCallID)
					continue
				}
				if !respondedToolIDs[r.ToolCallID] {
					continue
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(
					r.ToolCallID, r.Content, r.IsError,
				))
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.NewUserMessage(blocks...))
			}

		case canonical.RoleSystem:
			// Handled via params.System
			continue
		}
	}

	return result, nil
}

// fromWire converts a non-streaming Anthropic message to canonical form.
func (a *AnthropicAdapter) fromWire(msg *anthropic.Message) (*canonical.Response, error) {
	resp := &canonical.Response{
		Message:    canonical.Message{ID: msg.ID, Role: canonical.RoleAssistant},
		StopReason: string(msg.StopReason),
		Usage: canonical.TokenUsage{
			Input:      int(msg.Usage.InputTokens),
			Output:     int(msg.Usage.OutputTokens),
			CacheRead:  int(msg.Usage.CacheReadInputTokens),
			CacheWrite: int(msg.Usage.CacheCreationInputTokens),
		},
	}

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			appendText(&resp.Message, canonical.SegmentText, b.Text)
		case anthropic.ThinkingBlock:
			appendText(&resp.Message, canonical.SegmentThinking, b.Thinking)
		case anthropic.ToolUseBlock:
			input, err := json.Marshal(b.Input)
			if err != nil {
				return nil, &TranslationError{Provider: a.ID(), Cause: err}
			}
			resp.Message.Segments = append(resp.Message.Segments, canonical.Segment{
				Type: canonical.SegmentToolCall,
				ToolCall: &canonical.ToolCall{
					ID:    b.ID,
					Name:  b.Name,
					Input: input,
				},
			})
		}
	}

	return resp, nil
}

// handleStream processes the streaming response
func (a *AnthropicAdapter) handleStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- StreamEvent) {
	defer close(events)

	var currentToolID string
	var currentToolName string
	var inputBuffer string

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			events <- StreamEvent{Type: EventTypeUsage, Usage: &canonical.TokenUsage{
				Input:      int(ms.Message.Usage.InputTokens),
				CacheRead:  int(ms.Message.Usage.CacheReadInputTokens),
				CacheWrite: int(ms.Message.Usage.CacheCreationInputTokens),
			}}

		case "content_block_start":
			cb := event.AsContentBlockStart()
			block := cb.ContentBlock.AsAny()
			if toolUse, ok := block.(anthropic.ToolUseBlock); ok {
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				inputBuffer = ""
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			switch d := delta.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				events <- StreamEvent{Type: EventTypeText, Text: d.Text}
			case anthropic.InputJSONDelta:
				inputBuffer += d.PartialJSON
			case anthropic.ThinkingDelta:
				events <- StreamEvent{Type: EventTypeThinking, Text: d.Thinking}
			}

		case "content_block_stop":
			if currentToolID != "" {
				events <- StreamEvent{
					Type: EventTypeToolCall,
					ToolCall: &canonical.ToolCall{
						ID:    currentToolID,
						Name:  currentToolName,
						Input: json.RawMessage(inputBuffer),
					},
				}
				currentToolID = ""
				currentToolName = ""
				inputBuffer = ""
			}

		case "message_delta":
			md := event.AsMessageDelta()
			events <- StreamEvent{Type: EventTypeUsage, Usage: &canonical.TokenUsage{
				Output: int(md.Usage.OutputTokens),
			}}

		case "message_stop":
			events <- StreamEvent{Type: EventTypeDone}
			return

		case "error":
			events <- StreamEvent{
				Type: EventTypeError,
				Err:  fmt.Errorf("stream error: %s", event.RawJSON()),
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		anthropicLog.Errorf("stream error: %v", err)
		events <- StreamEvent{Type: EventTypeError, Err: wrapAnthropicErr(err)}
		return
	}

	events <- StreamEvent{Type: EventTypeDone}
}

func wrapAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &UpstreamError{Provider: "anthropic", Status: apiErr.StatusCode, Body: apiErr.Error()}
	}
	return err
}
