package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-provenance-crawler/internal/oracle"
	"github.com/JakeFAU/page-provenance-crawler/internal/progress"
)

// PoolResult is the output of an extraction pass. Snapshots line up with the
// input refs one to one.
type PoolResult struct {
	Snapshots []Snapshot
	Extracted int
	Defaulted int
	Failed    int
}

// Pool runs the Extractor over many pages with a fixed number of workers,
// each owning its own Page.
type Pool struct {
	browser   oracle.Browser
	extractor *Extractor
	workers   int
	logger    *zap.Logger
}

// NewPool returns a Pool with workers rendering contexts.
func NewPool(browser oracle.Browser, extractor *Extractor, workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{browser: browser, extractor: extractor, workers: workers, logger: logger}
}

// Run extracts every ref and stamps the snapshots with scrapedAt. A page
// that fails yields a defaulted snapshot, never a gap. Run fails when no
// rendering context could be opened or ctx is cancelled; partial results are
// discarded in both cases.
func (p *Pool) Run(ctx context.Context, refs []PageRef, scrapedAt time.Time) (PoolResult, error) {
	return p.run(ctx, refs, scrapedAt, newReporter(nil, nil, [16]byte{}, progress.JobExtract))
}

type outcome struct {
	snapshot Snapshot
	kind     progress.Outcome
}

func (p *Pool) run(ctx context.Context, refs []PageRef, scrapedAt time.Time, rep reporter) (PoolResult, error) {
	if len(refs) == 0 {
		return PoolResult{}, nil
	}
	pages, err := p.openPages(ctx, min(p.workers, len(refs)))
	if err != nil {
		return PoolResult{}, err
	}
	defer func() {
		for _, page := range pages {
			if cerr := page.Close(); cerr != nil {
				p.logger.Warn("Failed to close page", zap.Error(cerr))
			}
		}
	}()

	results := make([]outcome, len(refs))
	jobs := make(chan int)
	var done atomic.Int64
	var wg sync.WaitGroup
	for _, page := range pages {
		wg.Add(1)
		go func(page oracle.Page) {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					continue
				}
				n := done.Add(1)
				p.logger.Info("Extracting page",
					zap.Int64("n", n), zap.Int("total", len(refs)), zap.String("page_id", refs[idx].ID))
				results[idx] = p.extractOne(ctx, page, refs[idx], scrapedAt, rep)
			}
		}(page)
	}
feed:
	for idx := range refs {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		// Unattempted pages must not be recorded as defaulted.
		return PoolResult{}, fmt.Errorf("extract pages: %w", err)
	}

	out := PoolResult{Snapshots: make([]Snapshot, 0, len(refs))}
	for _, res := range results {
		out.Snapshots = append(out.Snapshots, res.snapshot)
		switch res.kind {
		case progress.OutcomeExtracted:
			out.Extracted++
		case progress.OutcomeDefaulted:
			out.Defaulted++
		default:
			out.Failed++
		}
	}
	return out, nil
}

func (p *Pool) extractOne(ctx context.Context, page oracle.Page, ref PageRef, scrapedAt time.Time, rep reporter) outcome {
	started := time.Now()
	fields, attempts, err := p.extractor.extract(ctx, page, ref.URL)
	evt := progress.Event{
		Stage:    progress.StageExtractDone,
		URL:      ref.URL,
		PageID:   ref.ID,
		Attempts: attempts,
		Dur:      time.Since(started),
	}
	kind := progress.OutcomeExtracted
	switch {
	case err != nil:
		kind = progress.OutcomeFailed
		fields = DefaultFields()
		var extractErr *ExtractError
		if errors.As(err, &extractErr) {
			evt.Class = extractErr.Class.String()
		}
		evt.Note = err.Error()
		p.logger.Warn("Extraction failed; recording defaults",
			zap.String("page_id", ref.ID), zap.String("url", ref.URL), zap.Error(err))
	case !fields.Found():
		kind = progress.OutcomeDefaulted
	}
	evt.Outcome = kind
	rep.emit(evt)
	return outcome{snapshot: NewSnapshot(ref, scrapedAt, fields), kind: kind}
}

// openPages opens up to n pages. It settles for fewer when later tabs fail
// and errors only when none opens.
func (p *Pool) openPages(ctx context.Context, n int) ([]oracle.Page, error) {
	pages := make([]oracle.Page, 0, n)
	var firstErr error
	for i := 0; i < n; i++ {
		page, err := p.browser.NewPage(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			p.logger.Warn("Failed to open rendering context", zap.Int("worker", i), zap.Error(err))
			continue
		}
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("open rendering context: %w", firstErr)
	}
	return pages, nil
}
