package memory

import (
	"context"
	"database/sql"
	"time"
)

// ShortTermTTL is how long recent-session and activity rows live.
const ShortTermTTL = 48 * time.Hour

// Activity is one short-term activity row.
type Activity struct {
	SessionID   string    `json:"session_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// TouchRecentSession upserts a session's short-term summary and renews
// its expiry.
func (s *Store) TouchRecentSession(ctx context.Context, sessionID, summary string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recent_sessions (session_id, summary, updated_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			summary = excluded.summary,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`, sessionID, summary, now, now.Add(ShortTermTTL))
	return err
}

// RecordActivity appends one short-term activity entry.
func (s *Store) RecordActivity(ctx context.Context, sessionID, description string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recent_activity (session_id, description, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, description, now, now.Add(ShortTermTTL))
	return err
}

// RecentActivity returns unexpired activity, newest first.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, description, created_at
		FROM recent_activity
		WHERE expires_at > ?
		ORDER BY created_at DESC
		LIMIT ?
	`, time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.SessionID, &a.Description, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CleanupExpired deletes expired short-term rows. Wired to a cron job
// by the gateway.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	total := int64(0)
	for _, q := range []string{
		`DELETE FROM recent_sessions WHERE expires_at <= ?`,
		`DELETE FROM recent_activity WHERE expires_at <= ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, now)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		memLog.Infof("expired %d short-term rows", total)
	}
	return total, nil
}

// ErrNotFound re-exports the not-found sentinel callers check for.
var ErrNotFound = sql.ErrNoRows
