package canonical

import (
	"time"

	"github.com/google/uuid"
)

// TurnKind distinguishes ordinary exchanges from synthetic summary turns.
type TurnKind string

const (
	TurnExchange TurnKind = "exchange"
	TurnSummary  TurnKind = "summary"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionCompacting SessionStatus = "compacting"
	SessionEnded      SessionStatus = "ended"
)

// TokenUsage tracks token consumption for one model call or cumulatively
// for a session.
type TokenUsage struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cache_read"`
	CacheWrite int `json:"cache_write"`
}

// Add accumulates another usage sample into u.
func (u *TokenUsage) Add(o TokenUsage) {
	u.Input += o.Input
	u.Output += o.Output
	u.CacheRead += o.CacheRead
	u.CacheWrite += o.CacheWrite
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.Input + u.Output
}

// Turn is one logical exchange: the messages produced in response to a
// single triggering event. Owned exclusively by its session.
type Turn struct {
	ID        string     `json:"id"`
	Kind      TurnKind   `json:"kind"`
	Messages  []Message  `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	Usage     TokenUsage `json:"usage"`
}

// NewTurn builds an exchange turn from the given messages.
func NewTurn(msgs ...Message) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Kind:      TurnExchange,
		Messages:  msgs,
		CreatedAt: time.Now().UTC(),
	}
}

// NewSummaryTurn builds a synthetic turn holding a compaction summary.
func NewSummaryTurn(summary string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Kind:      TurnSummary,
		Messages:  []Message{NewText(RoleAssistant, summary)},
		CreatedAt: time.Now().UTC(),
	}
}

// IsSummary reports whether the turn is a compaction summary.
func (t Turn) IsSummary() bool {
	return t.Kind == TurnSummary
}

// Flatten returns the messages of the given turns in order.
func Flatten(turns []Turn) []Message {
	var msgs []Message
	for _, t := range turns {
		msgs = append(msgs, t.Messages...)
	}
	return msgs
}
