package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/p-blackswan/leadflow/internal/session"
)

var _ session.Store = (*Store)(nil)

// Load retrieves a session by ID. Returns nil, nil when it does not exist.
func (s *Store) Load(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sess                            session.Session
		state, wizard, meta             string
		createdAt, lastActive, expireAt int64
	)

	query := `
	SELECT id, state, wizard_data, metadata, created_at, last_activity_at, expires_at
	FROM sessions WHERE id = ?
	`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &state, &wizard, &meta, &createdAt, &lastActive, &expireAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess.State = session.State(state)
	if err := json.Unmarshal([]byte(wizard), &sess.WizardData); err != nil {
		return nil, fmt.Errorf("failed to decode wizard data: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if sess.Metadata == nil {
		sess.Metadata = map[string]any{}
	}
	sess.CreatedAt = time.UnixMilli(createdAt).UTC()
	sess.LastActivityAt = time.UnixMilli(lastActive).UTC()
	sess.ExpiresAt = time.UnixMilli(expireAt).UTC()

	return &sess, nil
}

// Save inserts or updates a session. Wizard data and created_at are written
// on insert only; later saves never rewrite them. Updating in place (rather
// than REPLACE) keeps dependent chat history rows intact.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wizard, err := json.Marshal(sess.WizardData)
	if err != nil {
		return fmt.Errorf("failed to encode wizard data: %w", err)
	}
	meta := sess.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
	INSERT INTO sessions (
		id, state, wizard_data, metadata, created_at, last_activity_at, expires_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		metadata = excluded.metadata,
		last_activity_at = excluded.last_activity_at,
		expires_at = excluded.expires_at
	`
	_, err = s.db.ExecContext(ctx, query,
		sess.ID, string(sess.State), string(wizard), string(metaJSON),
		sess.CreatedAt.UnixMilli(), sess.LastActivityAt.UnixMilli(), sess.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session and everything keyed by it: chat history and
// quote requests cascade through foreign keys, review rows are removed here.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM manual_reviews WHERE session_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete reviews: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return rows > 0, nil
}

// SweepExpired deletes sessions whose last activity is before the cutoff.
// Running it twice with the same cutoff deletes nothing the second time.
func (s *Store) SweepExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_activity_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	// Resolved reviews share the retention window; pending ones stay until a human closes them.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM manual_reviews WHERE resolved_at IS NOT NULL AND resolved_at < ?`,
		before.UnixMilli(),
	); err != nil {
		return n, fmt.Errorf("failed to sweep resolved reviews: %w", err)
	}

	if n > 0 {
		s.logger.Info().Int64("deleted", n).Time("before", before).Msg("swept expired sessions")
	}
	return n, nil
}

// CountSessions returns the number of stored sessions.
func (s *Store) CountSessions(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}
