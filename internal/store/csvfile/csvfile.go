// Package csvfile implements crawler.RecordStore over two CSV files: the page
// list (id,url) and the scrape history. Column order matches what downstream
// tooling reads.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-provenance-crawler/internal/crawler"
)

// File names inside the store directory.
const (
	PagesFile   = "pages.csv"
	HistoryFile = "scrape_history.csv"
)

// TimestampLayout formats scrape timestamps.
const TimestampLayout = time.RFC3339Nano

var (
	// PagesHeader is the header of the page list.
	PagesHeader = []string{"id", "url"}
	// HistoryHeader is the header of the scrape history.
	HistoryHeader = []string{
		"page_id",
		"scrape_timestamp",
		"modified_date",
		"updated_by",
		"responsible",
		"full_modified_text",
	}
)

// Config locates the store on disk.
type Config struct {
	Dir string
}

// Store reads and writes the CSV files under one directory. Every page in
// the page list counts as active.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
}

// New creates the directory if needed.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("store.csv.dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create csv dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: cfg.Dir, logger: logger}, nil
}

// UpsertPages merges refs into the page list. Existing ids keep their url;
// new ids are appended in input order. The file is replaced atomically.
func (s *Store) UpsertPages(_ context.Context, refs []crawler.PageRef, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readPages()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, ref := range existing {
		seen[ref.ID] = struct{}{}
	}
	merged := existing
	added := 0
	for _, ref := range refs {
		if _, ok := seen[ref.ID]; ok {
			continue
		}
		seen[ref.ID] = struct{}{}
		merged = append(merged, ref)
		added++
	}

	if err := s.writePages(merged); err != nil {
		return 0, err
	}
	s.logger.Debug("Wrote page list", zap.Int("pages", len(merged)), zap.Int("added", added))
	return len(refs), nil
}

// AppendHistory appends snapshots, writing the header when the file is new.
func (s *Store) AppendHistory(_ context.Context, snaps []crawler.Snapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, HistoryFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("open history: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("stat history: %w", err)
	}
	if err := EncodeHistory(f, snaps, info.Size() == 0); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close history: %w", err)
	}
	return len(snaps), nil
}

// LoadActivePages returns every page in the page list, in file order.
func (s *Store) LoadActivePages(context.Context) ([]crawler.PageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPages()
}

// Close implements crawler.RecordStore.
func (s *Store) Close() error { return nil }

func (s *Store) readPages() ([]crawler.PageRef, error) {
	f, err := os.Open(filepath.Join(s.dir, PagesFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open pages: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(PagesHeader)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pages header: %w", err)
	}
	if !slices.Equal(header, PagesHeader) {
		return nil, fmt.Errorf("pages header %v, want %v", header, PagesHeader)
	}
	var refs []crawler.PageRef
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return refs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read pages: %w", err)
		}
		refs = append(refs, crawler.PageRef{ID: rec[0], URL: rec[1]})
	}
}

func (s *Store) writePages(refs []crawler.PageRef) error {
	tmp, err := os.CreateTemp(s.dir, PagesFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp pages: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	w := csv.NewWriter(tmp)
	if err := w.Write(PagesHeader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write pages header: %w", err)
	}
	for _, ref := range refs {
		if err := w.Write([]string{ref.ID, ref.URL}); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write page %s: %w", ref.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush pages: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp pages: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, PagesFile)); err != nil {
		return fmt.Errorf("replace pages: %w", err)
	}
	return nil
}

// HistoryRecord renders one snapshot in HistoryHeader column order.
func HistoryRecord(snap crawler.Snapshot) []string {
	return []string{
		snap.PageID,
		snap.ScrapedAt.UTC().Format(TimestampLayout),
		snap.ModifiedDate,
		snap.UpdatedBy,
		snap.Responsible,
		snap.FullText,
	}
}

// EncodeHistory writes snaps as CSV, preceded by HistoryHeader when header is
// set.
func EncodeHistory(w io.Writer, snaps []crawler.Snapshot, header bool) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(HistoryHeader); err != nil {
			return fmt.Errorf("write history header: %w", err)
		}
	}
	for _, snap := range snaps {
		if err := cw.Write(HistoryRecord(snap)); err != nil {
			return fmt.Errorf("write history %s: %w", snap.PageID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush history: %w", err)
	}
	return nil
}
