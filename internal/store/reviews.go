package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Review is a submission whose automated generation failed and which waits
// for a human to produce the blueprint.
type Review struct {
	ID           string
	SessionID    string // empty when the session could not be created
	SubmissionID string
	Fingerprint  string
	Payload      string // JSON-encoded wizard data
	ErrorClass   string
	Error        string
	CreatedAt    time.Time
	ResolvedAt   time.Time // zero = pending
}

// EnqueueReview saves a review. Re-enqueueing the same ID overwrites it.
func (s *Store) EnqueueReview(ctx context.Context, r *Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}

	query := `
	INSERT OR REPLACE INTO manual_reviews (
		id, session_id, submission_id, fingerprint, payload,
		error_class, error, created_at, resolved_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	sessionID := sql.NullString{String: r.SessionID, Valid: r.SessionID != ""}
	resolved := sql.NullInt64{Int64: r.ResolvedAt.UnixMilli(), Valid: !r.ResolvedAt.IsZero()}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, sessionID, r.SubmissionID, r.Fingerprint, r.Payload,
		r.ErrorClass, r.Error, r.CreatedAt.UnixMilli(), resolved,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue review: %w", err)
	}
	return nil
}

// ListPendingReviews returns unresolved reviews, oldest first.
func (s *Store) ListPendingReviews(ctx context.Context, limit int) ([]*Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, session_id, submission_id, fingerprint, payload,
	       error_class, error, created_at
	FROM manual_reviews
	WHERE resolved_at IS NULL
	ORDER BY created_at ASC
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*Review
	for rows.Next() {
		r := &Review{}
		var sessionID sql.NullString
		var created int64
		if err := rows.Scan(
			&r.ID, &sessionID, &r.SubmissionID, &r.Fingerprint, &r.Payload,
			&r.ErrorClass, &r.Error, &created,
		); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		if sessionID.Valid {
			r.SessionID = sessionID.String
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reviews: %w", err)
	}
	return reviews, nil
}

// ResolveReview marks a review as handled.
func (s *Store) ResolveReview(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE manual_reviews SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve review: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pending review not found: %s", id)
	}
	return nil
}
