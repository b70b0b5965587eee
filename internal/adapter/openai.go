package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/respjson"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/lanternai/lantern/internal/canonical"
	"github.com/lanternai/lantern/internal/logging"
)

var openaiLog = logging.Scope("openai")

// thinkingMapper injects a dialect's reasoning parameter into an
// OpenAI-style request. It may mutate params or return extra request
// options for fields the typed params do not carry.
type thinkingMapper func(params *openai.ChatCompletionNewParams, t *canonical.ThinkingConfig) []option.RequestOption

// OpenAIAdapter speaks the OpenAI chat-completions dialect. Several
// providers reuse this wire format with their own base URL, capability
// set and reasoning parameter, so the adapter is parameterized rather
// than duplicated per provider.
type OpenAIAdapter struct {
	client   openai.Client
	id       string
	model    string
	caps     CapabilitySet
	thinking thinkingMapper
}

// NewOpenAI creates an adapter for the OpenAI API itself. Reasoning is
// requested through the reasoning_effort level.
func NewOpenAI(apiKey, model string) *OpenAIAdapter {
	return &OpenAIAdapter{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		id:     "openai",
		model:  model,
		caps: CapabilitySet{
			Streaming:     true,
			ToolCalls:     true,
			Thinking:      true,
			ThinkingParam: "reasoning_effort",
		},
		thinking: func(params *openai.ChatCompletionNewParams, t *canonical.ThinkingConfig) []option.RequestOption {
			params.ReasoningEffort = shared.ReasoningEffort(t.EffortLevel())
			return nil
		},
	}
}

// NewDeepSeek creates an adapter for DeepSeek. Reasoning is enabled by
// the model itself (deepseek-reasoner), no request parameter exists.
func NewDeepSeek(apiKey, model string) *OpenAIAdapter {
	return &OpenAIAdapter{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL("https://api.deepseek.com/v1"),
		),
		id:    "deepseek",
		model: model,
		caps: CapabilitySet{
			Streaming:     true,
			ToolCalls:     true,
			Thinking:      true,
			ThinkingParam: "model",
		},
		thinking: func(params *openai.ChatCompletionNewParams, t *canonical.ThinkingConfig) []option.RequestOption {
			return nil
		},
	}
}

// NewQwen creates an adapter for Qwen (DashScope compatible mode).
func NewQwen(apiKey, model string) *OpenAIAdapter {
	return &OpenAIAdapter{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL("https://dashscope.aliyuncs.com/compatible-mode/v1"),
		),
		id:    "qwen",
		model: model,
		caps: CapabilitySet{
			Streaming:     true,
			ToolCalls:     true,
			Thinking:      true,
			ThinkingParam: "enable_thinking",
		},
		thinking: func(params *openai.ChatCompletionNewParams, t *canonical.ThinkingConfig) []option.RequestOption {
			opts := []option.RequestOption{option.WithJSONSet("enable_thinking", true)}
			if t.BudgetTokens > 0 {
				opts = append(opts, option.WithJSONSet("thinking_budget", t.BudgetTokens))
			}
			return opts
		},
	}
}

// NewGLM creates an adapter for Zhipu GLM.
func NewGLM(apiKey, model string) *OpenAIAdapter {
	return &OpenAIAdapter{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL("https://open.bigmodel.cn/api/paas/v4"),
		),
		id:    "glm",
		model: model,
		caps: CapabilitySet{
			Streaming:     true,
			ToolCalls:     true,
			Thinking:      true,
			ThinkingParam: "thinking.type",
		},
		thinking: func(params *openai.ChatCompletionNewParams, t *canonical.ThinkingConfig) []option.RequestOption {
			return []option.RequestOption{
				option.WithJSONSet("thinking", map[string]any{"type": "enabled"}),
			}
		},
	}
}

// NewOpenAICompatible creates an adapter for any OpenAI-compatible
// endpoint. No thinking support is assumed; a thinking request is
// dropped with a degradation note.
func NewOpenAICompatible(id, baseURL, apiKey, model string) *OpenAIAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{
		client: openai.NewClient(opts...),
		id:     id,
		model:  model,
		caps: CapabilitySet{
			Streaming: true,
			ToolCalls: true,
		},
	}
}

// ID returns the provider identifier
func (a *OpenAIAdapter) ID() string { return a.id }

// Capabilities reports the declared feature support
func (a *OpenAIAdapter) Capabilities() CapabilitySet { return a.caps }

// Complete sends a non-streaming request
func (a *OpenAIAdapter) Complete(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	params, opts, err := a.toWire(req)
	if err != nil {
		return nil, &TranslationError{Provider: a.id, Cause: err}
	}
	completion, err := a.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return nil, a.wrapErr(err)
	}
	return a.fromWire(completion)
}

// Stream sends a request and returns streaming events
func (a *OpenAIAdapter) Stream(ctx context.Context, req *canonical.Request) (<-chan StreamEvent, error) {
	params, opts, err := a.toWire(req)
	if err != nil {
		return nil, &TranslationError{Provider: a.id, Cause: err}
	}

	openaiLog.Debugf("%s: sending request: model=%s messages=%d tools=%d",
		a.id, params.Model, len(params.Messages), len(params.Tools))

	stream := a.client.Chat.Completions.NewStreaming(ctx, params, opts...)
	events := make(chan StreamEvent, 100)
	go a.handleStream(stream, events)
	return events, nil
}

// toWire builds the wire request plus any dialect-specific options.
func (a *OpenAIAdapter) toWire(req *canonical.Request) (openai.ChatCompletionNewParams, []option.RequestOption, error) {
	messages, err := a.buildMessages(req)
	if err != nil {
		return openai.ChatCompletionNewParams{}, nil, err
	}

	model := a.model
	if req.Model != "" {
		model = req.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			var schema map[string]interface{}
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				openaiLog.Warnf("%s: failed to parse tool schema for %s: %v", a.id, tool.Name, err)
				continue
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  shared.FunctionParameters(schema),
				},
			})
		}
		params.Tools = tools
	}

	var opts []option.RequestOption
	if degradeThinking(req, a.caps, a.id) && a.thinking != nil {
		opts = a.thinking(&params, req.Thinking)
	}

	return params, opts, nil
}

// buildMessages converts canonical messages to OpenAI format
func (a *OpenAIAdapter) buildMessages(req *canonical.Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	respondedToolIDs := make(map[string]bool)
	for _, msg := range req.Messages {
		for _, r := range msg.ToolResults() {
			respondedToolIDs[r.ToolCallID] = true
		}
	}

	var result []openai.ChatCompletionMessageParamUnion

	if req.System != "" {
		result = append(result, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case canonical.RoleUser:
			result = append(result, openai.UserMessage(msg.Text()))

		case canonical.RoleAssistant:
			var toolCalls []openai.ChatCompletionMessageToolCallParam
			for _, tc := range msg.ToolCalls() {
				if !respondedToolIDs[tc.ID] {
					openaiLog.Debugf("%s: skipping tool_call without response: %s", a.id, tc.ID)
					continue
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			text := msg.Text()
			if text == "" && len(toolCalls) == 0 {
				continue
			}
			assistantMsg := openai.ChatCompletionAssistantMessageParam{
				Role: "assistant",
			}
			if text != "" {
				assistantMsg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(text),
				}
			}
			if len(toolCalls) > 0 {
				assistantMsg.ToolCalls = toolCalls
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &assistantMsg,
			})

		case canonical.RoleTool:
			for _, r := range msg.ToolResults() {
				if respondedToolIDs[r.ToolCallID] {
					result = append(result, openai.ToolMessage(r.Content, r.ToolCallID))
				}
			}

		case canonical.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Text()))
		}
	}

	return result, nil
}

// fromWire converts a non-streaming completion to canonical form.
func (a *OpenAIAdapter) fromWire(completion *openai.ChatCompletion) (*canonical.Response, error) {
	if len(completion.Choices) == 0 {
		return nil, &TranslationError{Provider: a.id, Cause: errors.New("completion has no choices")}
	}
	choice := completion.Choices[0]

	resp := &canonical.Response{
		Message:    canonical.Message{ID: completion.ID, Role: canonical.RoleAssistant},
		StopReason: string(choice.FinishReason),
		Usage: canonical.TokenUsage{
			Input:     int(completion.Usage.PromptTokens),
			Output:    int(completion.Usage.CompletionTokens),
			CacheRead: int(completion.Usage.PromptTokensDetails.CachedTokens),
		},
	}

	if reasoning := extraStringField(choice.Message.JSON.ExtraFields, "reasoning_content"); reasoning != "" {
		appendText(&resp.Message, canonical.SegmentThinking, reasoning)
	}
	appendText(&resp.Message, canonical.SegmentText, choice.Message.Content)
	for _, tc := range choice.Message.ToolCalls {
		resp.Message.Segments = append(resp.Message.Segments, canonical.Segment{
			Type: canonical.SegmentToolCall,
			ToolCall: &canonical.ToolCall{
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: json.RawMessage(tc.Function.Arguments),
			},
		})
	}

	return resp, nil
}

// handleStream processes the streaming response
func (a *OpenAIAdapter) handleStream(stream *ssestream.Stream[openai.ChatCompletionChunk], events chan<- StreamEvent) {
	defer close(events)

	acc := openai.ChatCompletionAccumulator{}

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if tool, ok := acc.JustFinishedToolCall(); ok {
			events <- StreamEvent{
				Type: EventTypeToolCall,
				ToolCall: &canonical.ToolCall{
					ID:    tool.ID,
					Name:  tool.Name,
					Input: json.RawMessage(tool.Arguments),
				},
			}
		}

		if len(chunk.Choices) > 0 {
			delta := chunk.Choices[0].Delta
			// DeepSeek-style dialects stream thinking as reasoning_content
			if reasoning := extraStringField(delta.JSON.ExtraFields, "reasoning_content"); reasoning != "" {
				events <- StreamEvent{Type: EventTypeThinking, Text: reasoning}
			}
			if delta.Content != "" {
				events <- StreamEvent{Type: EventTypeText, Text: delta.Content}
			}
		}

		if chunk.Usage.TotalTokens > 0 {
			events <- StreamEvent{Type: EventTypeUsage, Usage: &canonical.TokenUsage{
				Input:  int(chunk.Usage.PromptTokens),
				Output: int(chunk.Usage.CompletionTokens),
			}}
		}
	}

	if err := stream.Err(); err != nil {
		openaiLog.Errorf("%s: stream error: %v", a.id, err)
		events <- StreamEvent{Type: EventTypeError, Err: a.wrapErr(err)}
		return
	}

	events <- StreamEvent{Type: EventTypeDone}
}

func (a *OpenAIAdapter) wrapErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &UpstreamError{Provider: a.id, Status: apiErr.StatusCode, Body: apiErr.Error()}
	}
	return err
}

// extraStringField pulls an undocumented string field out of an SDK
// response value.
func extraStringField(fields map[string]respjson.Field, name string) string {
	f, ok := fields[name]
	if !ok || !f.Valid() {
		return ""
	}
	s, err := strconv.Unquote(f.Raw())
	if err != nil {
		return ""
	}
	return s
}
