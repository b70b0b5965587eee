// Package compactor keeps a session's history within its context
// budget by replacing a prefix of turns with one structured summary.
// History is never dropped before a summary is safely produced.
package compactor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lanternai/lantern/internal/canonical"
	"github.com/lanternai/lantern/internal/hooks"
	"github.com/lanternai/lantern/internal/logging"
	"github.com/lanternai/lantern/internal/session"
)

var compactLog = logging.Scope("compactor")

// Defaults. Threshold is the fraction of the usable window that
// triggers compaction; the reserve keeps room for the model's reply.
const (
	DefaultThreshold      = 0.85
	DefaultPreserveRecent = 4
	ResponseReserve       = 4096
)

// ErrHookBlocked defers compaction because a pre_compact hook vetoed it.
var ErrHookBlocked = errors.New("compaction blocked by hook")

// Deferred wraps any failure that postpones compaction. The session's
// history is left untouched.
type Deferred struct {
	Cause error
}

func (d *Deferred) Error() string { return fmt.Sprintf("compaction deferred: %v", d.Cause) }
func (d *Deferred) Unwrap() error { return d.Cause }

// Summarizer produces the structured summary with one model call.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Config tunes the compaction trigger.
type Config struct {
	// MaxContextTokens overrides the per-model window when set
	MaxContextTokens int
	Threshold        float64
	PreserveRecent   int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = DefaultThreshold
	}
	if c.PreserveRecent <= 0 {
		c.PreserveRecent = DefaultPreserveRecent
	}
	return c
}

// Engine monitors session budgets and performs compaction.
type Engine struct {
	sessions   *session.Manager
	hookEngine *hooks.Engine
	summarizer Summarizer
	cfg        Config
}

// NewEngine creates a compaction engine. The hook engine may be nil
// when no hooks are configured.
func NewEngine(sessions *session.Manager, hookEngine *hooks.Engine, summarizer Summarizer, cfg Config) *Engine {
	return &Engine{
		sessions:   sessions,
		hookEngine: hookEngine,
		summarizer: summarizer,
		cfg:        cfg.withDefaults(),
	}
}

// Budget returns the usable token budget for a model.
func (e *Engine) Budget(model string) int {
	window := e.cfg.MaxContextTokens
	if window <= 0 {
		window = ContextWindow(model)
	}
	usable := window - ResponseReserve
	if usable < 1 {
		usable = window
	}
	return int(float64(usable) * e.cfg.Threshold)
}

// ShouldCompact reports whether appending the incoming turn would push
// the session past its budget, along with the estimated total.
func (e *Engine) ShouldCompact(turns []canonical.Turn, incoming canonical.Turn, model string) (bool, int) {
	total := EstimateTurns(turns) + EstimateTurn(incoming)
	return total > e.Budget(model), total
}

// Compact replaces the compactable prefix of the session with one
// summary turn. Any failure defers compaction and leaves the history
// unmodified. The session never ends up with two adjacent summaries:
// an existing leading summary is folded into the new one.
func (e *Engine) Compact(ctx context.Context, sessionID, model string) error {
	turns, err := e.sessions.Turns(ctx, sessionID)
	if err != nil {
		return &Deferred{Cause: err}
	}

	preserve := e.cfg.PreserveRecent
	if len(turns) <= preserve {
		return nil
	}
	prefix := turns[:len(turns)-preserve]
	if len(prefix) == 1 && prefix[0].IsSummary() {
		return nil
	}

	if e.hookEngine != nil {
		res := e.hookEngine.Dispatch(ctx, hooks.Event{
			Event:     hooks.PreCompact,
			SessionID: sessionID,
		})
		if res.Blocked {
			compactLog.Infof("session %s: %v: %s", sessionID, ErrHookBlocked, res.BlockReason)
			return &Deferred{Cause: fmt.Errorf("%w: %s", ErrHookBlocked, res.BlockReason)}
		}
	}

	if err := e.sessions.SetStatus(ctx, sessionID, canonical.SessionCompacting); err != nil {
		return &Deferred{Cause: err}
	}
	// The restore must survive request cancellation or the session
	// stays persisted as compacting
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.sessions.SetStatus(rctx, sessionID, canonical.SessionActive); err != nil {
			compactLog.Errorf("session %s: status restore failed: %v", sessionID, err)
		}
	}()

	transcript := Transcript(prefix)
	summary, err := e.summarizer.Summarize(ctx, transcript)
	if err != nil {
		compactLog.Errorf("session %s: summarization failed: %v", sessionID, err)
		return &Deferred{Cause: err}
	}
	if err := ValidateSummary(summary); err != nil {
		compactLog.Errorf("session %s: malformed summary: %v", sessionID, err)
		return &Deferred{Cause: err}
	}

	summaryTurn := canonical.NewSummaryTurn(summary)
	summaryTurn.Usage.Input = EstimateTokens(summary)

	if err := e.sessions.ReplacePrefix(ctx, sessionID, len(prefix), summaryTurn); err != nil {
		return &Deferred{Cause: err}
	}

	compactLog.Infof("session %s: compacted %d turns into summary (%d tokens)",
		sessionID, len(prefix), summaryTurn.Usage.Input)
	return nil
}

// Transcript renders turns for the summarization call. A prior summary
// leads the transcript so nothing already summarized is lost.
func Transcript(turns []canonical.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		if t.IsSummary() {
			b.WriteString("[previous summary]\n")
		}
		for _, m := range t.Messages {
			if text := m.Text(); text != "" {
				fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
			}
			for _, tc := range m.ToolCalls() {
				fmt.Fprintf(&b, "%s: [tool call %s %s]\n", m.Role, tc.Name, string(tc.Input))
			}
			for _, tr := range m.ToolResults() {
				content := tr.Content
				if len(content) > 400 {
					content = content[:400] + "..."
				}
				fmt.Fprintf(&b, "tool: [result for %s] %s\n", tr.ToolCallID, content)
			}
		}
	}
	return b.String()
}
