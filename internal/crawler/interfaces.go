package crawler

import (
	"context"
	"io"
	"time"
)

// RecordStore persists discovered pages and extraction history.
type RecordStore interface {
	// UpsertPages inserts new pages and refreshes last-seen on existing ones
	// without touching their other columns. It returns the rows written.
	UpsertPages(ctx context.Context, refs []PageRef, seenAt time.Time) (int, error)
	// AppendHistory inserts snapshots in batches; a failed batch does not
	// stop later ones. It returns the rows written.
	AppendHistory(ctx context.Context, snaps []Snapshot) (int, error)
	// LoadActivePages returns every page flagged active.
	LoadActivePages(ctx context.Context) ([]PageRef, error)
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher pushes run summaries to a notification channel.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
	Close() error
}

// Hasher computes digests for archive integrity. Digest returns the hex
// digest and the number of bytes consumed.
type Hasher interface {
	Digest(r io.Reader) (string, int64, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
