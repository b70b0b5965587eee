// Package memory persists archival and core memory in SQLite. Archival
// records are searchable through FTS5 and are never overwritten in
// place; updates supersede the old version. Core memory is a small set
// of named blocks injected into every exchange.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lanternai/lantern/internal/logging"
)

var memLog = logging.Scope("memory")

// Search result caps.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
)

// Record is one archival memory entry. SupersededBy is set when a newer
// version replaced it; superseded rows stay out of default search.
type Record struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Tags         []string  `json:"tags,omitempty"`
	SupersededBy string    `json:"superseded_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the SQLite-backed memory store.
type Store struct {
	db *sql.DB
}

// NewStore creates a memory store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save appends a new archival record.
func (s *Store) Save(ctx context.Context, text string, tags []string) (*Record, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot save empty memory")
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:        uuid.NewString(),
		Text:      text,
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO archival_memory (id, text, tags, created_at)
		VALUES (?, ?, ?, ?)
	`, rec.ID, rec.Text, string(tagsJSON), rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save memory: %w", err)
	}
	return rec, nil
}

// Get returns one record by id, superseded or not.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, text, tags, COALESCE(superseded_by, ''), created_at
		FROM archival_memory WHERE id = ?
	`, id)
	return scanRecord(row)
}

// Update supersedes a record with a new version. The old row is kept
// and linked forward; it drops out of default search.
func (s *Store) Update(ctx context.Context, id, text string) (*Record, error) {
	old, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if old.SupersededBy != "" {
		return nil, fmt.Errorf("memory %s is already superseded by %s", id, old.SupersededBy)
	}

	newRec := &Record{
		ID:        uuid.NewString(),
		Text:      text,
		Tags:      old.Tags,
		CreatedAt: time.Now().UTC(),
	}
	tagsJSON, _ := json.Marshal(newRec.Tags)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO archival_memory (id, text, tags, created_at)
		VALUES (?, ?, ?, ?)
	`, newRec.ID, newRec.Text, string(tagsJSON), newRec.CreatedAt); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE archival_memory SET superseded_by = ? WHERE id = ?
	`, newRec.ID, id); err != nil {
		return nil, err
	}
	return newRec, tx.Commit()
}

// Retire marks a record superseded without a replacement. The row is
// retained; it only leaves default search results.
func (s *Store) Retire(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE archival_memory SET superseded_by = id WHERE id = ? AND superseded_by IS NULL
	`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("memory %s not found or already retired", id)
	}
	return nil
}

// Search returns current records ranked by FTS relevance, deduplicated
// by text, capped at limit.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.text, m.tags, COALESCE(m.superseded_by, ''), m.created_at
		FROM archival_fts f
		JOIN archival_memory m ON m.rowid = f.rowid
		WHERE archival_fts MATCH ? AND m.superseded_by IS NULL
		ORDER BY bm25(archival_fts)
		LIMIT ?
	`, ftsQuote(query), limit*2)
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if seen[rec.Text] {
			continue
		}
		seen[rec.Text] = true
		out = append(out, *rec)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// List returns records newest first. Historical versions are included
// only when asked for.
func (s *Store) List(ctx context.Context, limit int, includeHistorical bool) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	q := `
		SELECT id, text, tags, COALESCE(superseded_by, ''), created_at
		FROM archival_memory
	`
	if !includeHistorical {
		q += ` WHERE superseded_by IS NULL`
	}
	q += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Stats reports record counts.
type Stats struct {
	Current    int `json:"current"`
	Superseded int `json:"superseded"`
}

// Stats returns archival record counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE superseded_by IS NULL),
			COUNT(*) FILTER (WHERE superseded_by IS NOT NULL)
		FROM archival_memory
	`).Scan(&st.Current, &st.Superseded)
	return st, err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*Record, error) {
	var rec Record
	var tagsJSON string
	if err := row.Scan(&rec.ID, &rec.Text, &tagsJSON, &rec.SupersededBy, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
			memLog.Warnf("corrupt tags on %s: %v", rec.ID, err)
		}
	}
	return &rec, nil
}

// ftsQuote turns arbitrary user text into an FTS5 phrase query so
// punctuation cannot break the match syntax.
func ftsQuote(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}
