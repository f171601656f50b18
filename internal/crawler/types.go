package crawler

import (
	"strings"
	"time"
)

// NotFound is the value recorded for any field that could not be read.
const NotFound = "Not Found"

// PageRef identifies a discovered page.
type PageRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Fields holds the provenance values scraped from a page footer. Each field
// is either the rendered text or NotFound.
type Fields struct {
	ModifiedDate string `json:"modified_date"`
	UpdatedBy    string `json:"updated_by"`
	Responsible  string `json:"responsible"`
	FullText     string `json:"full_modified_text"`
}

// DefaultFields returns a Fields value with every field set to NotFound.
func DefaultFields() Fields {
	return Fields{
		ModifiedDate: NotFound,
		UpdatedBy:    NotFound,
		Responsible:  NotFound,
		FullText:     NotFound,
	}
}

// Found reports whether any of the named footer fields was read.
func (f Fields) Found() bool {
	return f.ModifiedDate != NotFound || f.UpdatedBy != NotFound || f.Responsible != NotFound
}

// Defaulted reports whether every field is NotFound.
func (f Fields) Defaulted() bool {
	return !f.Found() && f.FullText == NotFound
}

// Snapshot is one extraction result for one page. Snapshots are immutable
// once built.
type Snapshot struct {
	PageID    string    `json:"page_id"`
	ScrapedAt time.Time `json:"scrape_timestamp"`
	Fields
}

// NewSnapshot pairs fields with the page and run timestamp.
func NewSnapshot(ref PageRef, at time.Time, fields Fields) Snapshot {
	return Snapshot{PageID: ref.ID, ScrapedAt: at, Fields: fields}
}

// firstToken returns the leading whitespace-separated token of s, which for
// the footer date is the day without its time.
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// CrawlSummary describes a finished discovery run.
type CrawlSummary struct {
	Job        string    `json:"job"`
	RunID      string    `json:"run_id"`
	StartURL   string    `json:"start_url"`
	Visited    int       `json:"visited"`
	Skipped    int       `json:"skipped"`
	Discovered int       `json:"discovered"`
	Upserted   int       `json:"upserted"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ExtractSummary describes a finished extraction run.
type ExtractSummary struct {
	Job           string    `json:"job"`
	RunID         string    `json:"run_id"`
	Total         int       `json:"total"`
	Extracted     int       `json:"extracted"`
	Defaulted     int       `json:"defaulted"`
	Failed        int       `json:"failed"`
	Persisted     int       `json:"persisted"`
	ArchiveURI    string    `json:"archive_uri,omitempty"`
	ArchiveSHA256 string    `json:"archive_sha256,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}
