package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		state            TEXT NOT NULL,
		wizard_data      TEXT NOT NULL,
		metadata         TEXT NOT NULL DEFAULT '{}',
		created_at       INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		expires_at       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity_at);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_messages(session_id, id);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}

func (s *Store) migrateV2() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil // already at v2+
	}

	schema := `
	CREATE TABLE IF NOT EXISTS manual_reviews (
		id            TEXT PRIMARY KEY,
		session_id    TEXT,
		submission_id TEXT NOT NULL,
		fingerprint   TEXT NOT NULL,
		payload       TEXT NOT NULL,
		error_class   TEXT NOT NULL,
		error         TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		resolved_at   INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_reviews_pending ON manual_reviews(created_at) WHERE resolved_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_reviews_session ON manual_reviews(session_id);

	CREATE TABLE IF NOT EXISTS quote_requests (
		session_id    TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
		source        TEXT NOT NULL,
		first_seen_at INTEGER NOT NULL,
		last_seen_at  INTEGER NOT NULL,
		hits          INTEGER NOT NULL DEFAULT 1
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}
