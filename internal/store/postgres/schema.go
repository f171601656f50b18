package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pages (
	id              TEXT PRIMARY KEY,
	url             TEXT NOT NULL,
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	first_seen_at   TIMESTAMPTZ NOT NULL,
	last_crawled_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS scrape_history (
	id                 BIGSERIAL PRIMARY KEY,
	page_id            TEXT NOT NULL REFERENCES pages (id),
	scrape_timestamp   TIMESTAMPTZ NOT NULL,
	modified_date      TEXT NOT NULL,
	updated_by         TEXT NOT NULL,
	responsible        TEXT NOT NULL,
	full_modified_text TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS scrape_history_page_ts_idx
	ON scrape_history (page_id, scrape_timestamp DESC)`,
}

// EnsureSchema creates the pages and scrape_history tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	s.logger.Info("Postgres schema ready")
	return nil
}
