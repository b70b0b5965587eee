package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/lanternai/lantern/internal/canonical"
	"github.com/lanternai/lantern/internal/logging"
)

var ollamaLog = logging.Scope("ollama")

// OllamaAdapter translates canonical requests to a local Ollama server
// using the official SDK.
type OllamaAdapter struct {
	client *api.Client
	model  string
}

// NewOllama creates an Ollama adapter.
func NewOllama(baseURL, model string) *OllamaAdapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		parsedURL, _ = url.Parse("http://localhost:11434")
	}

	// Local inference can be slow
	httpClient := &http.Client{Timeout: 5 * time.Minute}

	return &OllamaAdapter{
		client: api.NewClient(parsedURL, httpClient),
		model:  model,
	}
}

// ID returns the provider identifier
func (a *OllamaAdapter) ID() string { return "ollama" }

// Capabilities reports the declared feature support. Ollama has no
// reasoning parameter; thinking requests degrade with a note.
func (a *OllamaAdapter) Capabilities() CapabilitySet {
	return CapabilitySet{
		Streaming: true,
		ToolCalls: true,
	}
}

// Complete sends a non-streaming request
func (a *OllamaAdapter) Complete(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	events, err := a.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(events)
}

// Stream sends a request and streams the response
func (a *OllamaAdapter) Stream(ctx context.Context, req *canonical.Request) (<-chan StreamEvent, error) {
	chatReq := a.toWire(req)

	ollamaLog.Debugf("sending request: model=%s messages=%d tools=%d",
		chatReq.Model, len(chatReq.Messages), len(chatReq.Tools))

	events := make(chan StreamEvent, 100)

	go func() {
		defer close(events)

		toolCallCounter := 0

		err := a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			for _, ev := range a.fromWireChunk(resp, &toolCallCounter) {
				events <- ev
			}
			return nil
		})

		if err != nil {
			ollamaLog.Errorf("stream error: %v", err)
			events <- StreamEvent{Type: EventTypeError, Err: err}
		}
	}()

	return events, nil
}

// toWire converts a canonical request to the Ollama chat request.
func (a *OllamaAdapter) toWire(req *canonical.Request) *api.ChatRequest {
	chatReq := &api.ChatRequest{
		Model:    a.model,
		Messages: a.buildMessages(req),
	}
	if req.Model != "" {
		chatReq.Model = req.Model
	}

	stream := true
	chatReq.Stream = &stream

	if req.Temperature > 0 || req.MaxTokens > 0 {
		chatReq.Options = make(map[string]any)
		if req.Temperature > 0 {
			chatReq.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			chatReq.Options["num_predict"] = req.MaxTokens
		}
	}

	degradeThinking(req, a.Capabilities(), a.ID())

	if len(req.Tools) > 0 {
		chatReq.Tools = a.buildTools(req.Tools)
	}

	return chatReq
}

// fromWireChunk converts one streamed chat response to stream events.
func (a *OllamaAdapter) fromWireChunk(resp api.ChatResponse, toolCallCounter *int) []StreamEvent {
	var events []StreamEvent

	if resp.Message.Content != "" {
		events = append(events, StreamEvent{Type: EventTypeText, Text: resp.Message.Content})
	}

	for _, tc := range resp.Message.ToolCalls {
		*toolCallCounter++
		argsJSON, _ := json.Marshal(tc.Function.Arguments.ToMap())
		events = append(events, StreamEvent{
			Type: EventTypeToolCall,
			ToolCall: &canonical.ToolCall{
				ID:    fmt.Sprintf("ollama-call-%d", *toolCallCounter),
				Name:  tc.Function.Name,
				Input: argsJSON,
			},
		})
	}

	if resp.Done {
		if resp.Metrics.PromptEvalCount > 0 || resp.Metrics.EvalCount > 0 {
			events = append(events, StreamEvent{Type: EventTypeUsage, Usage: &canonical.TokenUsage{
				Input:  resp.Metrics.PromptEvalCount,
				Output: resp.Metrics.EvalCount,
			}})
		}
		events = append(events, StreamEvent{Type: EventTypeDone})
	}

	return events
}

// buildMessages converts canonical messages to Ollama format
func (a *OllamaAdapter) buildMessages(req *canonical.Request) []api.Message {
	messages := make([]api.Message, 0, len(req.Messages)+1)

	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}

	respondedToolIDs := make(map[string]bool)
	for _, msg := range req.Messages {
		for _, r := range msg.ToolResults() {
			respondedToolIDs[r.ToolCallID] = true
		}
	}
	toolNames := toolNamesByCallID(req.Messages)

	for _, msg := range req.Messages {
		switch msg.Role {
		case canonical.RoleUser, canonical.RoleSystem:
			messages = append(messages, api.Message{
				Role:    string(msg.Role),
				Content: msg.Text(),
			})

		case canonical.RoleAssistant:
			assistantMsg := api.Message{
				Role:    "assistant",
				Content: msg.Text(),
			}
			for _, tc := range msg.ToolCalls() {
				if !respondedToolIDs[tc.ID] {
					ollamaLog.Debugf("skipping tool_call without response: %s", tc.ID)
					continue
				}
				args := api.NewToolCallFunctionArguments()
				var argsMap map[string]any
				if err := json.Unmarshal(tc.Input, &argsMap); err == nil {
					for k, v := range argsMap {
						args.Set(k, v)
					}
				}
				assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			if assistantMsg.Content != "" || len(assistantMsg.ToolCalls) > 0 {
				messages = append(messages, assistantMsg)
			}

		case canonical.RoleTool:
			for _, r := range msg.ToolResults() {
				name := toolNames[r.ToolCallID]
				if name == "" {
					name = "unknown"
				}
				messages = append(messages, api.Message{
					Role:       "tool",
					Content:    r.Content,
					ToolCallID: r.ToolCallID,
					ToolName:   name,
				})
			}
		}
	}

	return messages
}

// buildTools converts tool definitions to Ollama format
func (a *OllamaAdapter) buildTools(tools []canonical.ToolDefinition) api.Tools {
	result := make(api.Tools, 0, len(tools))

	for _, tool := range tools {
		var schemaRaw map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schemaRaw); err != nil {
			continue
		}

		params := api.ToolFunctionParameters{Type: "object"}

		if props, ok := schemaRaw["properties"].(map[string]any); ok {
			propsMap := api.NewToolPropertiesMap()
			for name, propRaw := range props {
				if propObj, ok := propRaw.(map[string]any); ok {
					propsMap.Set(name, a.convertProperty(propObj))
				}
			}
			params.Properties = propsMap
		}

		if required, ok := schemaRaw["required"].([]any); ok {
			for _, r := range required {
				if s, ok := r.(string); ok {
					params.Required = append(params.Required, s)
				}
			}
		}

		result = append(result, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	return result
}

// convertProperty converts a JSON schema property to Ollama format
func (a *OllamaAdapter) convertProperty(prop map[string]any) api.ToolProperty {
	result := api.ToolProperty{}

	if typeVal, ok := prop["type"].(string); ok {
		result.Type = api.PropertyType{typeVal}
	}
	if desc, ok := prop["description"].(string); ok {
		result.Description = desc
	}
	if enum, ok := prop["enum"].([]any); ok {
		result.Enum = enum
	}
	if items, ok := prop["items"]; ok {
		result.Items = items
	}

	return result
}

// CheckOllamaAvailable checks if Ollama is running
func CheckOllamaAvailable(baseURL string) bool {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/api/tags")
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
