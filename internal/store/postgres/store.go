// Package postgres implements crawler.RecordStore on Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-provenance-crawler/internal/crawler"
)

// DefaultBatchSize bounds the rows written by one INSERT statement.
const DefaultBatchSize = 1000

// maxBatchSize keeps a history batch under the 65535 bind-parameter limit.
const maxBatchSize = 10000

// Config controls the connection pool and write batching.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	BatchSize       int
	AutoMigrate     bool
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store persists pages and scrape history.
type Store struct {
	pool      pool
	batchSize int
	logger    *zap.Logger
}

// New connects to Postgres and, when cfg.AutoMigrate is set, creates the
// tables.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.BatchSize, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := s.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool builds a Store on an existing pool (primarily for testing).
func NewWithPool(p pool, batchSize int, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > maxBatchSize {
		return nil, fmt.Errorf("store.batch_size must be <= %d", maxBatchSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, batchSize: batchSize, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// UpsertPages inserts new pages and refreshes last_crawled_at on existing
// ones; the stored url is never rewritten. Batches fail independently: the
// count covers the batches that succeeded and the error joins the rest.
func (s *Store) UpsertPages(ctx context.Context, refs []crawler.PageRef, seenAt time.Time) (int, error) {
	refs = uniqueByID(refs)
	var (
		written int
		errs    []error
	)
	for start := 0; start < len(refs); start += s.batchSize {
		batch := refs[start:min(start+s.batchSize, len(refs))]
		query, args := upsertPagesQuery(batch, seenAt)
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			s.logger.Error("Page batch upsert failed",
				zap.Int("offset", start), zap.Int("size", len(batch)), zap.Error(err))
			errs = append(errs, fmt.Errorf("upsert pages [%d:%d]: %w", start, start+len(batch), err))
			continue
		}
		written += len(batch)
		s.logger.Debug("Upserted page batch", zap.Int("offset", start), zap.Int("size", len(batch)))
	}
	return written, errors.Join(errs...)
}

// AppendHistory inserts one scrape_history row per snapshot.
func (s *Store) AppendHistory(ctx context.Context, snaps []crawler.Snapshot) (int, error) {
	var (
		written int
		errs    []error
	)
	for start := 0; start < len(snaps); start += s.batchSize {
		batch := snaps[start:min(start+s.batchSize, len(snaps))]
		query, args := insertHistoryQuery(batch)
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			s.logger.Error("History batch insert failed",
				zap.Int("offset", start), zap.Int("size", len(batch)), zap.Error(err))
			errs = append(errs, fmt.Errorf("insert history [%d:%d]: %w", start, start+len(batch), err))
			continue
		}
		written += len(batch)
	}
	return written, errors.Join(errs...)
}

// LoadActivePages returns active pages ordered by id.
func (s *Store) LoadActivePages(ctx context.Context) ([]crawler.PageRef, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, url FROM pages WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load active pages: %w", err)
	}
	defer rows.Close()

	var refs []crawler.PageRef
	for rows.Next() {
		var ref crawler.PageRef
		if err := rows.Scan(&ref.ID, &ref.URL); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return refs, nil
}

// uniqueByID drops repeated ids, keeping the first occurrence. A single
// INSERT ... ON CONFLICT cannot touch the same row twice.
func uniqueByID(refs []crawler.PageRef) []crawler.PageRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]crawler.PageRef, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.ID]; ok {
			continue
		}
		seen[ref.ID] = struct{}{}
		out = append(out, ref)
	}
	return out
}

func upsertPagesQuery(batch []crawler.PageRef, seenAt time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO pages (id, url, first_seen_at, last_crawled_at) VALUES ")
	args := make([]any, 0, 1+2*len(batch))
	args = append(args, seenAt)
	for i, ref := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $1, $1)", n+1, n+2)
		args = append(args, ref.ID, ref.URL)
	}
	b.WriteString(" ON CONFLICT (id) DO UPDATE SET last_crawled_at = EXCLUDED.last_crawled_at")
	return b.String(), args
}

func insertHistoryQuery(batch []crawler.Snapshot) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO scrape_history " +
		"(page_id, scrape_timestamp, modified_date, updated_by, responsible, full_modified_text) VALUES ")
	args := make([]any, 0, 6*len(batch))
	for i, snap := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args,
			snap.PageID,
			snap.ScrapedAt,
			snap.ModifiedDate,
			snap.UpdatedBy,
			snap.Responsible,
			snap.FullText,
		)
	}
	return b.String(), args
}
