package store

import (
	"context"
	"fmt"
	"time"
)

// QuoteRequest records that a visitor asked for a quote.
type QuoteRequest struct {
	SessionID   string
	Source      string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	Hits        int
}

// UpsertQuoteRequest records a quote request keyed by session id. Every
// write path (webhook, page visit, UI) goes through this single statement,
// so exactly one caller observes first == true.
func (s *Store) UpsertQuoteRequest(ctx context.Context, sessionID, source string, at time.Time) (first bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT INTO quote_requests (session_id, source, first_seen_at, last_seen_at, hits)
	VALUES (?, ?, ?, ?, 1)
	ON CONFLICT(session_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at,
		hits = quote_requests.hits + 1
	RETURNING hits
	`
	var hits int
	if err := s.db.QueryRowContext(ctx, query, sessionID, source, at.UnixMilli(), at.UnixMilli()).Scan(&hits); err != nil {
		return false, fmt.Errorf("failed to upsert quote request: %w", err)
	}
	return hits == 1, nil
}

// GetQuoteRequest returns the quote request for a session, or nil.
func (s *Store) GetQuoteRequest(ctx context.Context, sessionID string) (*QuoteRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := &QuoteRequest{}
	var first, last int64
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, source, first_seen_at, last_seen_at, hits FROM quote_requests WHERE session_id = ?`,
		sessionID,
	).Scan(&q.SessionID, &q.Source, &first, &last, &q.Hits)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get quote request: %w", err)
	}
	q.FirstSeenAt = time.UnixMilli(first).UTC()
	q.LastSeenAt = time.UnixMilli(last).UTC()
	return q, nil
}
