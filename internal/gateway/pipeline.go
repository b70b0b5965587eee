package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lanternai/lantern/internal/adapter"
	"github.com/lanternai/lantern/internal/canonical"
	"github.com/lanternai/lantern/internal/config"
	"github.com/lanternai/lantern/internal/hooks"
	"github.com/lanternai/lantern/internal/injector"
)

const cleanupTimeout = 30 * time.Second

// ChatRequest is the uniform wire request.
type ChatRequest struct {
	SessionID   string                    `json:"session_id,omitempty"`
	Provider    string                    `json:"provider,omitempty"`
	Model       string                    `json:"model,omitempty"`
	Prompt      string                    `json:"prompt"`
	Attachments []canonical.AttachmentRef `json:"attachments,omitempty"`
	Stream      bool                      `json:"stream,omitempty"`

	Tools       []canonical.ToolDefinition `json:"tools,omitempty"`
	Thinking    *canonical.ThinkingConfig  `json:"thinking,omitempty"`
	MaxTokens   int                        `json:"max_tokens,omitempty"`
	Temperature float64                    `json:"temperature,omitempty"`
}

// ChatResponse is the uniform wire response for a non-streaming call.
type ChatResponse struct {
	SessionID      string               `json:"session_id"`
	Message        canonical.Message    `json:"message"`
	StopReason     string               `json:"stop_reason,omitempty"`
	Usage          canonical.TokenUsage `json:"usage"`
	Incomplete     bool                 `json:"incomplete,omitempty"`
	Degradations   string               `json:"degradations,omitempty"`
	SystemMessages []string             `json:"system_messages,omitempty"`
}

// exchange carries the resolved state of one in-flight call.
type exchange struct {
	sessionID string
	provider  string
	model     string
	adapter   adapter.Adapter
	req       *canonical.Request
	userMsg   canonical.Message
	system    []string // hook system messages surfaced to the client
}

// prepare runs everything up to the provider call: session setup, the
// user_prompt_submit hook, the compaction check, and context injection.
// The caller must already hold the session lock.
func (g *Gateway) prepare(ctx context.Context, in *ChatRequest) (*exchange, error) {
	cfg := g.store.Current()

	providerID := in.Provider
	if providerID == "" {
		providerID = cfg.DefaultProvider
	}
	a, err := g.registry.Get(providerID)
	if err != nil {
		return nil, err
	}
	model := in.Model
	if model == "" {
		if p, ok := cfg.Provider(providerID); ok {
			model = p.Model
		}
	}

	sessionID := in.SessionID
	fresh := sessionID == ""
	if fresh {
		sessionID = uuid.NewString()
	}
	if _, err := g.sessions.GetOrCreate(ctx, sessionID, providerID, model); err != nil {
		return nil, err
	}
	if fresh {
		g.hooks.Dispatch(ctx, hooks.Event{Event: hooks.SessionStart, SessionID: sessionID})
	}

	prompt := in.Prompt
	res := g.hooks.Dispatch(ctx, hooks.Event{
		Event:     hooks.UserPromptSubmit,
		SessionID: sessionID,
		Prompt:    prompt,
	})
	if res.Blocked {
		return nil, &BlockedError{Reason: res.BlockReason}
	}
	if res.Prompt != "" {
		prompt = res.Prompt
	}

	turns, err := g.sessions.Turns(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	incoming := canonical.NewTurn(canonical.NewText(canonical.RoleUser, prompt))
	if need, total := g.compact.ShouldCompact(turns, incoming, model); need {
		gwLog.Infof("session %s: %d tokens over budget, compacting", sessionID, total)
		if err := g.compact.Compact(ctx, sessionID, model); err != nil {
			// Deferred compaction is not fatal; the exchange proceeds
			gwLog.Warnf("session %s: %v", sessionID, err)
		} else if turns, err = g.sessions.Turns(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	req := g.inject.Build(ctx, injectorInput(cfg, in, turns, prompt, model))
	// Persist the raw prompt and attachments; injected reminders live
	// only in the outgoing request
	userMsg := injector.UserMessage(prompt, in.Attachments)

	return &exchange{
		sessionID: sessionID,
		provider:  providerID,
		model:     model,
		adapter:   a,
		req:       req,
		userMsg:   userMsg,
		system:    res.SystemMessages,
	}, nil
}

// finish persists the exchange and runs the stop hook. A cancelled
// exchange appends nothing; the session is unchanged.
func (g *Gateway) finish(ctx context.Context, ex *exchange, resp *canonical.Response) error {
	if ctx.Err() != nil {
		gwLog.Infof("session %s: exchange cancelled, no turn appended", ex.sessionID)
		return ctx.Err()
	}

	turn := canonical.NewTurn(ex.userMsg, resp.Message)
	turn.Usage = resp.Usage
	if err := g.sessions.AppendTurn(ctx, ex.sessionID, turn); err != nil {
		return err
	}

	g.hooks.Dispatch(ctx, hooks.Event{Event: hooks.Stop, SessionID: ex.sessionID})

	if g.store.Current().Memory.ShortTerm {
		desc := ex.userMsg.Text()
		if len(desc) > 120 {
			desc = desc[:120]
		}
		if err := g.memory.RecordActivity(ctx, ex.sessionID, desc); err != nil {
			gwLog.Warnf("record activity: %v", err)
		}
	}
	return nil
}

// Chat performs a blocking exchange.
func (g *Gateway) Chat(ctx context.Context, in *ChatRequest) (*ChatResponse, error) {
	sid := in.SessionID
	if sid != "" {
		defer g.sessions.Lock(sid)()
	}

	ex, err := g.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	if sid == "" {
		defer g.sessions.Lock(ex.sessionID)()
	}

	resp, err := ex.adapter.Complete(ctx, ex.req)
	if err != nil {
		return nil, err
	}
	if err := g.finish(ctx, ex, resp); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	return &ChatResponse{
		SessionID:      ex.sessionID,
		Message:        resp.Message,
		StopReason:     resp.StopReason,
		Usage:          resp.Usage,
		Incomplete:     resp.Incomplete,
		Degradations:   ex.req.Metadata[canonical.Degradations],
		SystemMessages: ex.system,
	}, nil
}

// ChatStream performs a streaming exchange, forwarding events to emit
// as they arrive and persisting the reassembled turn at the end. A
// client disconnect cancels ctx; the upstream read stops and no turn
// is appended.
func (g *Gateway) ChatStream(ctx context.Context, in *ChatRequest, emit func(adapter.StreamEvent)) (*ChatResponse, error) {
	sid := in.SessionID
	if sid != "" {
		defer g.sessions.Lock(sid)()
	}

	ex, err := g.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	if sid == "" {
		defer g.sessions.Lock(ex.sessionID)()
	}

	events, err := ex.adapter.Stream(ctx, ex.req)
	if err != nil {
		return nil, err
	}

	// Tee events to the client while Collect reassembles them
	tee := make(chan adapter.StreamEvent, 16)
	collected := make(chan struct {
		resp *canonical.Response
		err  error
	}, 1)
	go func() {
		resp, cerr := adapter.Collect(tee)
		collected <- struct {
			resp *canonical.Response
			err  error
		}{resp, cerr}
	}()
	for ev := range events {
		emit(ev)
		tee <- ev
	}
	close(tee)
	result := <-collected
	if result.err != nil {
		return nil, result.err
	}

	if err := g.finish(ctx, ex, result.resp); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	return &ChatResponse{
		SessionID:      ex.sessionID,
		Message:        result.resp.Message,
		StopReason:     result.resp.StopReason,
		Usage:          result.resp.Usage,
		Incomplete:     result.resp.Incomplete,
		Degradations:   ex.req.Metadata[canonical.Degradations],
		SystemMessages: ex.system,
	}, nil
}

// EndSession marks a session ended and fires the session_end hook.
func (g *Gateway) EndSession(ctx context.Context, sessionID string) error {
	if err := g.sessions.SetStatus(ctx, sessionID, canonical.SessionEnded); err != nil {
		return err
	}
	g.hooks.Dispatch(ctx, hooks.Event{Event: hooks.SessionEnd, SessionID: sessionID})
	return nil
}

func injectorInput(cfg *config.Config, in *ChatRequest, turns []canonical.Turn, prompt, model string) injector.Input {
	return injector.Input{
		Turns:        turns,
		Prompt:       prompt,
		Attachments:  in.Attachments,
		Model:        model,
		Tools:        in.Tools,
		Thinking:     in.Thinking,
		MaxTokens:    in.MaxTokens,
		Temperature:  in.Temperature,
		SystemPrefix: cfg.System.Prefix,
		SystemSuffix: cfg.System.Suffix,
	}
}

// marshalEvent renders one stream event as SSE data.
func marshalEvent(ev adapter.StreamEvent) []byte {
	if ev.Type == adapter.EventTypeError && ev.Err != nil {
		b, _ := json.Marshal(map[string]string{"type": "error", "error": ev.Err.Error()})
		return b
	}
	b, _ := json.Marshal(ev)
	return b
}
