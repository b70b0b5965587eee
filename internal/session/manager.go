// Package session owns the persisted turn log. Every append is written
// through to SQLite before it returns, so a crash loses at most the
// in-flight turn.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanternai/lantern/internal/canonical"
)

// DefaultUndoDepth bounds the redo stack when no depth is configured.
const DefaultUndoDepth = 20

// Session is the persisted identity and counters of one conversation.
type Session struct {
	ID        string                  `json:"id"`
	Title     string                  `json:"title"`
	Status    canonical.SessionStatus `json:"status"`
	Provider  string                  `json:"provider"`
	Model     string                  `json:"model"`
	Usage     canonical.TokenUsage    `json:"usage"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Manager handles session and turn persistence. One exchange holds the
// session's lock for its whole append/compact/inject/translate path;
// different sessions proceed independently.
type Manager struct {
	db        *sql.DB
	undoDepth int

	// locks serializes exchanges per session id
	locks sync.Map // map[string]*sync.Mutex

	mu   sync.Mutex
	redo map[string][]canonical.Turn
}

// NewManager creates a session manager over an open database.
// undoDepth bounds the redo stack; zero means the default.
func NewManager(db *sql.DB, undoDepth int) *Manager {
	if undoDepth <= 0 {
		undoDepth = DefaultUndoDepth
	}
	return &Manager{
		db:        db,
		undoDepth: undoDepth,
		redo:      make(map[string][]canonical.Turn),
	}
}

// Lock acquires the per-session serialization lock and returns the
// release func.
func (m *Manager) Lock(sessionID string) func() {
	v, _ := m.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// GetOrCreate returns the session with the given id, creating it when
// absent. An empty id creates a session with a fresh uuid.
func (m *Manager) GetOrCreate(ctx context.Context, id, provider, model string) (*Session, error) {
	if id != "" {
		s, err := m.Get(ctx, id)
		if err == nil {
			return s, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}
	} else {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO sessions (id, status, provider, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, canonical.SessionActive, provider, model, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{
		ID:        id,
		Status:    canonical.SessionActive,
		Provider:  provider,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Get loads one session row. Returns sql.ErrNoRows when absent.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := m.db.QueryRowContext(ctx, `
		SELECT id, title, status, provider, model,
		       input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
		       created_at, updated_at
		FROM sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.Title, &s.Status, &s.Provider, &s.Model,
		&s.Usage.Input, &s.Usage.Output, &s.Usage.CacheRead, &s.Usage.CacheWrite,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// List returns all sessions, newest first.
func (m *Manager) List(ctx context.Context) ([]Session, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, title, status, provider, model,
		       input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
		       created_at, updated_at
		FROM sessions ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Title, &s.Status, &s.Provider, &s.Model,
			&s.Usage.Input, &s.Usage.Output, &s.Usage.CacheRead, &s.Usage.CacheWrite,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// AppendTurn persists one turn at the tail of the session log and
// accumulates its usage into the session counters. Any pending redo
// history is discarded.
func (m *Manager) AppendTurn(ctx context.Context, sessionID string, turn canonical.Turn) error {
	payload, err := json.Marshal(turn.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode turn: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`, sessionID,
	).Scan(&next); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, seq, kind, messages, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, turn.ID, sessionID, next, turn.Kind, string(payload),
		turn.Usage.Input, turn.Usage.Output, turn.CreatedAt); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			cache_read_tokens = cache_read_tokens + ?,
			cache_write_tokens = cache_write_tokens + ?,
			updated_at = ?
		WHERE id = ?
	`, turn.Usage.Input, turn.Usage.Output, turn.Usage.CacheRead, turn.Usage.CacheWrite,
		time.Now().UTC(), sessionID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.redo, sessionID)
	m.mu.Unlock()
	return nil
}

// Turns reconstructs the session's turn sequence in insertion order.
func (m *Manager) Turns(ctx context.Context, sessionID string) ([]canonical.Turn, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, kind, messages, input_tokens, output_tokens, created_at
		FROM turns WHERE session_id = ? ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []canonical.Turn
	for rows.Next() {
		var t canonical.Turn
		var payload string
		if err := rows.Scan(&t.ID, &t.Kind, &payload,
			&t.Usage.Input, &t.Usage.Output, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &t.Messages); err != nil {
			return nil, fmt.Errorf("corrupt turn %s: %w", t.ID, err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ReplacePrefix atomically replaces the first n turns with the given
// summary turn, renumbering the remainder. The summary always lands at
// the head of the sequence.
func (m *Manager) ReplacePrefix(ctx context.Context, sessionID string, n int, summary canonical.Turn) error {
	turns, err := m.Turns(ctx, sessionID)
	if err != nil {
		return err
	}
	if n <= 0 || n > len(turns) {
		return fmt.Errorf("replace prefix of %d in session with %d turns", n, len(turns))
	}

	remaining := turns[n:]

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return err
	}

	insert := func(seq int, t canonical.Turn) error {
		payload, err := json.Marshal(t.Messages)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO turns (id, session_id, seq, kind, messages, input_tokens, output_tokens, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, sessionID, seq, t.Kind, string(payload),
			t.Usage.Input, t.Usage.Output, t.CreatedAt)
		return err
	}

	if err := insert(1, summary); err != nil {
		return fmt.Errorf("failed to insert summary turn: %w", err)
	}
	for i, t := range remaining {
		if err := insert(i+2, t); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Undo pops the most recent turn off the log onto the redo stack and
// returns it. Undoing an empty session is an error.
func (m *Manager) Undo(ctx context.Context, sessionID string) (*canonical.Turn, error) {
	turns, err := m.Turns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("nothing to undo")
	}
	last := turns[len(turns)-1]

	if _, err := m.db.ExecContext(ctx,
		`DELETE FROM turns WHERE id = ?`, last.ID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	stack := append(m.redo[sessionID], last)
	if len(stack) > m.undoDepth {
		stack = stack[len(stack)-m.undoDepth:]
	}
	m.redo[sessionID] = stack
	m.mu.Unlock()

	return &last, nil
}

// Redo re-appends the most recently undone turn.
func (m *Manager) Redo(ctx context.Context, sessionID string) (*canonical.Turn, error) {
	m.mu.Lock()
	stack := m.redo[sessionID]
	if len(stack) == 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("nothing to redo")
	}
	last := stack[len(stack)-1]
	m.redo[sessionID] = stack[:len(stack)-1]
	m.mu.Unlock()

	payload, err := json.Marshal(last.Messages)
	if err != nil {
		return nil, err
	}
	var next int
	if err := m.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`, sessionID,
	).Scan(&next); err != nil {
		return nil, err
	}
	if _, err := m.db.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, seq, kind, messages, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, last.ID, sessionID, next, last.Kind, string(payload),
		last.Usage.Input, last.Usage.Output, last.CreatedAt); err != nil {
		return nil, err
	}
	return &last, nil
}

// SetStatus updates the session lifecycle status.
func (m *Manager) SetStatus(ctx context.Context, sessionID string, status canonical.SessionStatus) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), sessionID)
	return err
}

// SetTitle updates the session title.
func (m *Manager) SetTitle(ctx context.Context, sessionID, title string) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), sessionID)
	return err
}

// Delete removes a session and its turns. Sessions are only ever
// destroyed by explicit request.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if _, err := m.db.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	_, err := m.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = ?`, sessionID)

	m.mu.Lock()
	delete(m.redo, sessionID)
	m.mu.Unlock()
	return err
}
