// Package archive writes a CSV copy of each extraction run to a blob store,
// alongside a SHA-256 digest of the uploaded bytes.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-provenance-crawler/internal/crawler"
	"github.com/JakeFAU/page-provenance-crawler/internal/store/csvfile"
)

// ContentType of archived objects.
const ContentType = "text/csv"

// Config controls object naming.
type Config struct {
	// Prefix is prepended to every object path.
	Prefix string
}

// Archiver implements crawler.Archiver.
type Archiver struct {
	blobs  crawler.BlobStore
	hasher crawler.Hasher
	prefix string
	logger *zap.Logger
}

// New wires an Archiver to blobs.
func New(blobs crawler.BlobStore, hasher crawler.Hasher, cfg Config, logger *zap.Logger) (*Archiver, error) {
	if blobs == nil {
		return nil, errors.New("archive requires a blob store")
	}
	if hasher == nil {
		return nil, errors.New("archive requires a hasher")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		blobs:  blobs,
		hasher: hasher,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// Archive uploads snaps as <prefix>/<yyyy-mm-dd>/<runID>.csv.
func (a *Archiver) Archive(
	ctx context.Context,
	runID string,
	at time.Time,
	snaps []crawler.Snapshot,
) (crawler.ArchiveRef, error) {
	var buf bytes.Buffer
	if err := csvfile.EncodeHistory(&buf, snaps, true); err != nil {
		return crawler.ArchiveRef{}, fmt.Errorf("encode archive: %w", err)
	}
	sum, size, err := a.hasher.Digest(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return crawler.ArchiveRef{}, fmt.Errorf("hash archive: %w", err)
	}
	objectPath := ObjectPath(a.prefix, runID, at)
	uri, err := a.blobs.PutObject(ctx, objectPath, ContentType, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return crawler.ArchiveRef{}, fmt.Errorf("upload archive: %w", err)
	}
	a.logger.Debug("Archived snapshots",
		zap.String("uri", uri), zap.Int("rows", len(snaps)), zap.Int64("bytes", size))
	return crawler.ArchiveRef{URI: uri, SHA256: sum}, nil
}

// ObjectPath names the archive object for a run.
func ObjectPath(prefix, runID string, at time.Time) string {
	return path.Join(prefix, at.UTC().Format("2006-01-02"), runID+".csv")
}
