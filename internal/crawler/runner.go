package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-provenance-crawler/internal/oracle"
	"github.com/JakeFAU/page-provenance-crawler/internal/progress"
)

// BrowserFactory launches a rendering process. The Runner calls it once per
// run and closes the result on every exit path.
type BrowserFactory func(ctx context.Context) (oracle.Browser, error)

// ArchiveRef locates an archived run.
type ArchiveRef struct {
	URI    string
	SHA256 string
}

// Archiver stores a copy of a run's snapshots outside the RecordStore.
type Archiver interface {
	Archive(ctx context.Context, runID string, at time.Time, snaps []Snapshot) (ArchiveRef, error)
}

// Deps are the collaborators a Runner needs. Archiver, Publisher and Emitter
// are optional.
type Deps struct {
	OpenBrowser BrowserFactory
	Store       RecordStore
	Clock       Clock
	IDs         IDGenerator
	Archiver    Archiver
	Publisher   Publisher
	Emitter     progress.Emitter
	Logger      *zap.Logger
}

// Runner executes the crawl and extract passes end to end.
type Runner struct {
	deps      Deps
	discovery DiscoveryConfig
	extract   ExtractConfig
	logger    *zap.Logger
}

// NewRunner checks that the required collaborators are present and that
// both pass configurations are valid.
func NewRunner(deps Deps, discovery DiscoveryConfig, extract ExtractConfig) (*Runner, error) {
	switch {
	case deps.OpenBrowser == nil:
		return nil, errors.New("runner requires a browser factory")
	case deps.Store == nil:
		return nil, errors.New("runner requires a record store")
	case deps.Clock == nil:
		return nil, errors.New("runner requires a clock")
	case deps.IDs == nil:
		return nil, errors.New("runner requires an id generator")
	}
	if err := discovery.Validate(); err != nil {
		return nil, err
	}
	if err := extract.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, discovery: discovery, extract: extract, logger: logger}, nil
}

// Crawl discovers every routed page from the start URL and upserts them.
// Per-page failures and store failures are logged; errors are returned only
// for configuration problems, a browser that cannot start, or cancellation.
func (r *Runner) Crawl(ctx context.Context) (CrawlSummary, error) {
	discoverer, err := NewDiscoverer(r.discovery, r.logger)
	if err != nil {
		return CrawlSummary{}, err
	}
	runID, rep, err := r.startRun(progress.JobCrawl)
	if err != nil {
		return CrawlSummary{}, err
	}
	summary := CrawlSummary{
		Job:       string(progress.JobCrawl),
		RunID:     runID,
		StartURL:  r.discovery.StartURL,
		StartedAt: r.deps.Clock.Now(),
	}
	logger := r.logger.With(zap.String("run_id", runID))
	logger.Info("Starting site crawl", zap.String("start_url", r.discovery.StartURL))

	result, err := r.withPage(ctx, func(page oracle.Page) (DiscoveryResult, error) {
		return discoverer.discover(ctx, page, rep)
	})
	if err != nil {
		return summary, err
	}
	summary.Visited = len(result.Trace)
	summary.Skipped = result.Skipped
	summary.Discovered = len(result.Pages)
	logger.Info("Crawl complete", zap.Int("pages", len(result.Pages)), zap.Int("visited", summary.Visited))

	if len(result.Pages) == 0 {
		logger.Info("No pages found to upsert")
	} else {
		upserted, err := r.deps.Store.UpsertPages(ctx, result.Pages, r.deps.Clock.Now())
		summary.Upserted = upserted
		if err != nil {
			logger.Error("Page upsert incomplete", zap.Int("upserted", upserted), zap.Error(err))
		}
		logger.Info("Upserted pages", zap.Int("upserted", upserted), zap.Int("total", len(result.Pages)))
	}

	summary.FinishedAt = r.deps.Clock.Now()
	r.finishRun(ctx, rep, summary.FinishedAt.Sub(summary.StartedAt), summary)
	return summary, nil
}

// Extract reads the footer of every active page and appends one snapshot per
// page to the history. Every page yields a snapshot, defaulted on failure.
func (r *Runner) Extract(ctx context.Context) (ExtractSummary, error) {
	extractor, err := NewExtractor(r.extract, r.logger)
	if err != nil {
		return ExtractSummary{}, err
	}
	runID, rep, err := r.startRun(progress.JobExtract)
	if err != nil {
		return ExtractSummary{}, err
	}
	summary := ExtractSummary{
		Job:       string(progress.JobExtract),
		RunID:     runID,
		StartedAt: r.deps.Clock.Now(),
	}
	logger := r.logger.With(zap.String("run_id", runID))

	refs, err := r.deps.Store.LoadActivePages(ctx)
	if err != nil {
		logger.Error("Error loading pages", zap.Error(err))
	}
	summary.Total = len(refs)
	if len(refs) == 0 {
		logger.Info("No pages to scrape")
		summary.FinishedAt = r.deps.Clock.Now()
		r.finishRun(ctx, rep, summary.FinishedAt.Sub(summary.StartedAt), summary)
		return summary, nil
	}
	logger.Info("Loaded active pages", zap.Int("total", len(refs)))

	scrapedAt := r.deps.Clock.Now()
	result, err := r.runPool(ctx, extractor, refs, scrapedAt, rep)
	if err != nil {
		return summary, err
	}
	summary.Extracted = result.Extracted
	summary.Defaulted = result.Defaulted
	summary.Failed = result.Failed
	logger.Info("Scraping complete",
		zap.Int("processed", len(result.Snapshots)),
		zap.Int("total", len(refs)),
		zap.Int("extracted", result.Extracted),
		zap.Int("defaulted", result.Defaulted),
		zap.Int("failed", result.Failed),
	)

	persisted, err := r.deps.Store.AppendHistory(ctx, result.Snapshots)
	summary.Persisted = persisted
	if err != nil {
		logger.Error("History save incomplete", zap.Int("saved", persisted), zap.Error(err))
	} else {
		logger.Info("Saved history records", zap.Int("saved", persisted))
	}

	if r.deps.Archiver != nil {
		ref, err := r.deps.Archiver.Archive(ctx, runID, scrapedAt, result.Snapshots)
		if err != nil {
			logger.Warn("Failed to archive run", zap.Error(err))
		} else {
			summary.ArchiveURI = ref.URI
			summary.ArchiveSHA256 = ref.SHA256
			logger.Info("Archived run", zap.String("uri", ref.URI))
		}
	}

	summary.FinishedAt = r.deps.Clock.Now()
	r.finishRun(ctx, rep, summary.FinishedAt.Sub(summary.StartedAt), summary)
	return summary, nil
}

// runPool opens a browser for the extraction pass and closes it afterwards.
func (r *Runner) runPool(
	ctx context.Context,
	extractor *Extractor,
	refs []PageRef,
	scrapedAt time.Time,
	rep reporter,
) (PoolResult, error) {
	browser, err := r.deps.OpenBrowser(ctx)
	if err != nil {
		return PoolResult{}, fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if cerr := browser.Close(); cerr != nil {
			r.logger.Warn("Failed to close browser", zap.Error(cerr))
		}
	}()
	return NewPool(browser, extractor, r.extract.Concurrency, r.logger).run(ctx, refs, scrapedAt, rep)
}

// withPage opens a browser and a single page around fn.
func (r *Runner) withPage(ctx context.Context, fn func(oracle.Page) (DiscoveryResult, error)) (DiscoveryResult, error) {
	browser, err := r.deps.OpenBrowser(ctx)
	if err != nil {
		return DiscoveryResult{}, fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if cerr := browser.Close(); cerr != nil {
			r.logger.Warn("Failed to close browser", zap.Error(cerr))
		}
	}()
	page, err := browser.NewPage(ctx)
	if err != nil {
		return DiscoveryResult{}, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			r.logger.Warn("Failed to close page", zap.Error(cerr))
		}
	}()
	return fn(page)
}

func (r *Runner) startRun(job progress.Job) (string, reporter, error) {
	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return "", reporter{}, fmt.Errorf("generate run id: %w", err)
	}
	raw, err := progress.ParseRunID(runID)
	if err != nil {
		return "", reporter{}, err
	}
	rep := newReporter(r.deps.Emitter, r.deps.Clock, raw, job)
	rep.emit(progress.Event{Stage: progress.StageRunStart})
	return runID, rep, nil
}

func (r *Runner) finishRun(ctx context.Context, rep reporter, dur time.Duration, summary any) {
	rep.emit(progress.Event{Stage: progress.StageRunDone, Dur: max(dur, 0)})
	if r.deps.Publisher == nil {
		return
	}
	msgID, err := r.deps.Publisher.Publish(ctx, summary)
	if err != nil {
		r.logger.Warn("Failed to publish run summary", zap.Error(err))
		return
	}
	r.logger.Debug("Published run summary", zap.String("message_id", msgID))
}
