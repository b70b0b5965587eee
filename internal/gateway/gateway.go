// Package gateway exposes the uniform chat protocol over HTTP and
// orchestrates one exchange end to end: hooks, compaction check,
// context injection, provider translation, streaming, persistence.
package gateway

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/lanternai/lantern/internal/adapter"
	"github.com/lanternai/lantern/internal/compactor"
	"github.com/lanternai/lantern/internal/config"
	"github.com/lanternai/lantern/internal/hooks"
	"github.com/lanternai/lantern/internal/injector"
	"github.com/lanternai/lantern/internal/logging"
	"github.com/lanternai/lantern/internal/memory"
	"github.com/lanternai/lantern/internal/rules"
	"github.com/lanternai/lantern/internal/session"
)

var gwLog = logging.Scope("gateway")

// BlockedError reports an exchange vetoed by a hook.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string { return "blocked: " + e.Reason }

// Gateway wires the components of one running instance.
type Gateway struct {
	store    *config.Store
	registry *adapter.Registry
	sessions *session.Manager
	memory   *memory.Store
	hooks    *hooks.Engine
	compact  *compactor.Engine
	inject   *injector.Injector
	cron     *cron.Cron
}

// New assembles a gateway from an open database and a loaded config.
// The config value in the store is snapshotted per exchange; a live
// reload takes effect on the next exchange.
func New(ctx context.Context, store *config.Store, conn *sql.DB) (*Gateway, error) {
	cfg := store.Current()

	configs := make([]adapter.ProviderConfig, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		configs = append(configs, adapter.ProviderConfig{
			ID:      p.ID,
			APIKey:  p.APIKey,
			Model:   p.Model,
			BaseURL: p.BaseURL,
		})
	}
	registry, err := adapter.NewRegistry(ctx, configs)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(conn, 0)
	mem := memory.NewStore(conn)

	settings, err := hooks.LoadSettings(cfg.Hooks.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("load hook settings: %w", err)
	}
	completer := &modelCompleter{registry: registry, store: store}
	hookEngine, err := hooks.NewEngine(settings, completer)
	if err != nil {
		return nil, fmt.Errorf("build hook engine: %w", err)
	}

	compact := compactor.NewEngine(sessions, hookEngine, &modelSummarizer{completer}, compactor.Config{
		MaxContextTokens: cfg.Compaction.MaxContextTokens,
		Threshold:        cfg.Compaction.Threshold,
		PreserveRecent:   cfg.Compaction.PreserveRecent,
	})

	inj := injector.New(rules.Load(cfg.DataDir, "."))
	inj.AddSystemSource(injector.SourceFunc{SourceName: "core_memory", Fn: mem.FormatCoreForPrompt})
	if cfg.Memory.ShortTerm {
		inj.AddReminderSource(injector.SourceFunc{SourceName: "recent_activity", Fn: func(ctx context.Context) (string, error) {
			return formatRecentActivity(ctx, mem)
		}})
	}

	g := &Gateway{
		store:    store,
		registry: registry,
		sessions: sessions,
		memory:   mem,
		hooks:    hookEngine,
		compact:  compact,
		inject:   inj,
		cron:     cron.New(),
	}
	if _, err := g.cron.AddFunc("@hourly", g.cleanupShortTerm); err != nil {
		return nil, err
	}
	return g, nil
}

// Start launches background jobs.
func (g *Gateway) Start() {
	g.cron.Start()
}

// Stop halts background jobs and waits for them to finish.
func (g *Gateway) Stop() {
	<-g.cron.Stop().Done()
}

func (g *Gateway) cleanupShortTerm() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if _, err := g.memory.CleanupExpired(ctx); err != nil {
		gwLog.Errorf("short-term cleanup failed: %v", err)
	}
}

func formatRecentActivity(ctx context.Context, mem *memory.Store) (string, error) {
	acts, err := mem.RecentActivity(ctx, 5)
	if err != nil {
		return "", err
	}
	if len(acts) == 0 {
		return "", nil
	}
	out := "Recent activity:"
	for _, a := range acts {
		out += "\n- " + a.Description
	}
	return out, nil
}
