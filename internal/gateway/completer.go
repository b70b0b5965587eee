package gateway

import (
	"context"

	"github.com/lanternai/lantern/internal/canonical"
	"github.com/lanternai/lantern/internal/compactor"
	"github.com/lanternai/lantern/internal/config"

	"github.com/lanternai/lantern/internal/adapter"
)

// modelCompleter backs prompt hooks and the summarizer with a plain
// text completion against the default provider.
type modelCompleter struct {
	registry *adapter.Registry
	store    *config.Store
}

func (c *modelCompleter) CompleteText(ctx context.Context, system, user string) (string, error) {
	cfg := c.store.Current()
	a, err := c.registry.Get(cfg.DefaultProvider)
	if err != nil {
		return "", err
	}
	model := ""
	if p, ok := cfg.Provider(cfg.DefaultProvider); ok {
		model = p.Model
	}
	resp, err := a.Complete(ctx, &canonical.Request{
		Model:    model,
		System:   system,
		Messages: []canonical.Message{canonical.NewText(canonical.RoleUser, user)},
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Text(), nil
}

// modelSummarizer adapts the completer to the compaction engine.
type modelSummarizer struct {
	completer *modelCompleter
}

func (s *modelSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	return s.completer.CompleteText(ctx, compactor.SummarySystemPrompt(), transcript)
}
