// Package memory provides a map-backed RecordStore for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/page-provenance-crawler/internal/crawler"
)

// Page is a stored page row.
type Page struct {
	crawler.PageRef
	Active        bool
	FirstSeenAt   time.Time
	LastCrawledAt time.Time
}

// Store keeps pages and history in memory.
type Store struct {
	mu      sync.RWMutex
	pages   map[string]Page
	history []crawler.Snapshot
}

// New constructs an empty Store.
func New() *Store {
	return &Store{pages: make(map[string]Page)}
}

// UpsertPages inserts new pages and refreshes LastCrawledAt on existing ones.
func (s *Store) UpsertPages(_ context.Context, refs []crawler.PageRef, seenAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range refs {
		if existing, ok := s.pages[ref.ID]; ok {
			existing.LastCrawledAt = seenAt
			s.pages[ref.ID] = existing
			continue
		}
		s.pages[ref.ID] = Page{PageRef: ref, Active: true, FirstSeenAt: seenAt, LastCrawledAt: seenAt}
	}
	return len(refs), nil
}

// AppendHistory appends snapshots.
func (s *Store) AppendHistory(_ context.Context, snaps []crawler.Snapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, snaps...)
	return len(snaps), nil
}

// LoadActivePages returns active pages ordered by ID.
func (s *Store) LoadActivePages(context.Context) ([]crawler.PageRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := make([]crawler.PageRef, 0, len(s.pages))
	for _, p := range s.pages {
		if p.Active {
			refs = append(refs, p.PageRef)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

// SetActive flips a page's activity flag. It reports whether the page exists.
func (s *Store) SetActive(id string, active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return false
	}
	p.Active = active
	s.pages[id] = p
	return true
}

// Page returns the stored row for id.
func (s *Store) Page(id string) (Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[id]
	return p, ok
}

// Pages reports the number of stored pages.
func (s *Store) Pages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

// History returns a copy of the stored snapshots.
func (s *Store) History() []crawler.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Snapshot(nil), s.history...)
}

// Close implements crawler.RecordStore.
func (s *Store) Close() error { return nil }
