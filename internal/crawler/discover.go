package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-provenance-crawler/internal/oracle"
	"github.com/JakeFAU/page-provenance-crawler/internal/progress"
)

// DiscoveryResult is the output of a crawl.
type DiscoveryResult struct {
	Pages []PageRef
	// Trace is the order in which URLs were rendered.
	Trace   []string
	Skipped int
}

// Discoverer walks a hash-routed site breadth-first from a start URL.
type Discoverer struct {
	cfg     DiscoveryConfig
	pattern LinkPattern
	logger  *zap.Logger
}

// NewDiscoverer validates cfg and derives the site's link pattern.
func NewDiscoverer(cfg DiscoveryConfig, logger *zap.Logger) (*Discoverer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pattern, err := NewLinkPattern(cfg.StartURL, cfg.LinkSelector)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{cfg: cfg, pattern: pattern, logger: logger}, nil
}

// Pattern returns the link pattern derived from the start URL.
func (d *Discoverer) Pattern() LinkPattern { return d.pattern }

// Discover renders every reachable route once, in breadth-first order. A page
// that fails to render is logged and skipped; only cancellation of ctx stops
// the walk early, in which case the pages found so far are returned with
// ctx's error.
func (d *Discoverer) Discover(ctx context.Context, page oracle.Page) (DiscoveryResult, error) {
	return d.discover(ctx, page, newReporter(nil, nil, [16]byte{}, progress.JobCrawl))
}

func (d *Discoverer) discover(ctx context.Context, page oracle.Page, rep reporter) (DiscoveryResult, error) {
	frontier := NewFrontier(d.cfg.StartURL)
	var result DiscoveryResult
	seenIDs := make(map[string]string)
	for {
		if err := ctx.Err(); err != nil {
			result.Trace = frontier.Trace()
			return result, fmt.Errorf("discover: %w", err)
		}
		current, ok := frontier.Next()
		if !ok {
			break
		}
		if err := d.visit(ctx, page, frontier, current, &result, seenIDs, rep); err != nil {
			if ctx.Err() != nil {
				// Reported by the check at the top of the loop.
				continue
			}
			class := oracle.Classify(err)
			result.Skipped++
			rep.emit(progress.Event{Stage: progress.StagePageSkip, URL: current, Class: class.String(), Note: err.Error()})
			if class == oracle.ClassUnexpected {
				d.logger.Error("Unexpected error on page", zap.String("url", current), zap.Error(err))
			} else {
				d.logger.Warn("Error loading page", zap.String("url", current), zap.String("class", class.String()), zap.Error(err))
			}
		}
	}
	result.Trace = frontier.Trace()
	return result, nil
}

func (d *Discoverer) visit(
	ctx context.Context,
	page oracle.Page,
	frontier *Frontier,
	current string,
	result *DiscoveryResult,
	seenIDs map[string]string,
	rep reporter,
) error {
	started := time.Now()
	d.logger.Info("Visiting", zap.String("url", current))
	if err := page.Navigate(ctx, current); err != nil {
		return err
	}
	ready := d.cfg.ReadySelector
	if ready == "" {
		ready = d.pattern.Selector()
	}
	if _, err := page.WaitFor(ctx, ready, d.cfg.WaitTimeout); err != nil {
		return err
	}
	rep.emit(progress.Event{Stage: progress.StagePageVisit, URL: current, Dur: time.Since(started)})

	if ref, ok := PageRefFor(current); ok {
		if first, dup := seenIDs[ref.ID]; dup {
			d.logger.Warn("Route maps to an existing page id; keeping the first url",
				zap.String("page_id", ref.ID), zap.String("url", current), zap.String("first_url", first))
		} else {
			seenIDs[ref.ID] = current
			result.Pages = append(result.Pages, ref)
			rep.emit(progress.Event{Stage: progress.StagePageFound, URL: current, PageID: ref.ID})
		}
	}

	links, err := page.QueryAll(ctx, d.pattern.Selector())
	if err != nil {
		return err
	}
	for _, link := range links {
		href, ok, err := page.Attr(ctx, link, "href")
		if err != nil {
			// A link detached mid-enumeration only loses that link.
			if oracle.Classify(err) == oracle.ClassStale {
				continue
			}
			return err
		}
		if !ok || href == "" || !d.pattern.Matches(href) {
			continue
		}
		if frontier.Push(href) {
			d.logger.Debug("Found new page", zap.String("url", Normalize(href)))
		}
	}
	return nil
}
