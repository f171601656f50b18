package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-provenance-crawler/internal/oracle"
)

// ErrExtractFailed marks a page whose footer could not be read at all. The
// caller records a defaulted snapshot for it.
var ErrExtractFailed = errors.New("extraction failed")

// ExtractError describes a hard extraction failure. It matches both
// ErrExtractFailed and the underlying oracle error under errors.Is.
type ExtractError struct {
	URL      string
	Class    oracle.Class
	Attempts int
	Err      error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %s after %d attempt(s): %v", e.URL, e.Class, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *ExtractError) Unwrap() []error {
	return []error{ErrExtractFailed, e.Err}
}

// errContainerLost is the cause recorded when the footer vanishes between
// field-read attempts.
var errContainerLost = errors.New("container lost during re-locate")

// Extractor reads the provenance footer of a page under a two-level retry
// policy: page loads are retried on stale references, and field reads are
// retried while the footer is still hydrating.
type Extractor struct {
	cfg    ExtractConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExtractor validates cfg.
func NewExtractor(cfg ExtractConfig, logger *zap.Logger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, logger: logger, sleep: sleepContext}, nil
}

// Extract loads url in page and reads the footer fields. Fields that cannot
// be read are NotFound; a non-nil error means nothing could be read and is an
// *ExtractError.
func (e *Extractor) Extract(ctx context.Context, page oracle.Page, url string) (Fields, error) {
	fields, _, err := e.extract(ctx, page, url)
	return fields, err
}

// extract also returns the number of attempts spent. Attempts never exceed
// OuterRetries * InnerRetries.
func (e *Extractor) extract(ctx context.Context, page oracle.Page, url string) (Fields, int, error) {
	attempts := 0
	fail := func(err error) (Fields, int, error) {
		return DefaultFields(), attempts, &ExtractError{URL: url, Class: oracle.Classify(err), Attempts: attempts, Err: err}
	}

	for load := 1; load <= e.cfg.OuterRetries; load++ {
		container, err := e.load(ctx, page, url)
		if err == nil {
			fields, reads, err := e.readFooter(ctx, page, url, container)
			attempts += reads
			if err != nil {
				return fail(err)
			}
			return fields, attempts, nil
		}
		attempts++

		if oracle.Classify(err) != oracle.ClassStale {
			// Timeouts and anything unexpected end the page.
			return fail(err)
		}
		if load == e.cfg.OuterRetries {
			e.logger.Warn("Page load kept going stale",
				zap.String("url", url), zap.Int("attempt", load), zap.Error(err))
			return fail(err)
		}
		e.logger.Warn("Stale element while loading page; retrying",
			zap.String("url", url), zap.Int("attempt", load), zap.Int("max_attempts", e.cfg.OuterRetries))
		if err := e.sleep(ctx, e.cfg.PageRetryDelay); err != nil {
			return fail(err)
		}
	}
	return fail(errors.New("no page load attempts configured"))
}

func (e *Extractor) load(ctx context.Context, page oracle.Page, url string) (oracle.Handle, error) {
	if err := page.Navigate(ctx, url); err != nil {
		return nil, err
	}
	return page.WaitFor(ctx, e.cfg.ContainerSelector, e.cfg.PageLoadTimeout)
}

// step is the outcome of one field-read attempt.
type step int

const (
	stepDone step = iota
	stepRetry
	stepFail
)

// readFooter runs the inner loop against a located container. It returns
// defaulted fields, not an error, when the container stays present but no
// field can be read; it fails only if the container itself is lost.
func (e *Extractor) readFooter(
	ctx context.Context,
	page oracle.Page,
	url string,
	container oracle.Handle,
) (Fields, int, error) {
	for attempt := 1; attempt <= e.cfg.InnerRetries; attempt++ {
		last := attempt == e.cfg.InnerRetries
		fields, next, err := e.readAttempt(ctx, page, container, last)
		switch next {
		case stepDone:
			return fields, attempt, nil
		case stepFail:
			e.logger.Warn("Footer read failed",
				zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
			return Fields{}, attempt, err
		}

		e.logger.Debug("Footer not ready; re-locating",
			zap.String("url", url), zap.Int("attempt", attempt), zap.Int("max_attempts", e.cfg.InnerRetries))
		if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
			return Fields{}, attempt, err
		}
		container, err = e.relocate(ctx, page)
		if err != nil {
			return Fields{}, attempt, err
		}
	}
	return DefaultFields(), e.cfg.InnerRetries, nil
}

func (e *Extractor) readAttempt(
	ctx context.Context,
	page oracle.Page,
	container oracle.Handle,
	last bool,
) (Fields, step, error) {
	text, err := e.readText(ctx, page, container)
	switch oracle.Classify(err) {
	case oracle.ClassNone:
	case oracle.ClassStale:
		if last {
			return Fields{}, stepFail, err
		}
		return Fields{}, stepRetry, nil
	default:
		return Fields{}, stepFail, err
	}

	if isBlank(text) {
		if !last {
			return Fields{}, stepRetry, nil
		}
		text = NotFound
	}

	fields := e.readFields(ctx, page, container)
	if fields.Found() {
		if fields.ModifiedDate != NotFound {
			fields.ModifiedDate = firstToken(fields.ModifiedDate)
		}
		fields.FullText = text
		return fields, stepDone, nil
	}
	if last {
		// Still hydrating after every attempt: treat as genuinely absent.
		return DefaultFields(), stepDone, nil
	}
	return Fields{}, stepRetry, nil
}

// readFields reads the three named fields, substituting NotFound for any
// field that is hidden, missing, stale or blank.
func (e *Extractor) readFields(ctx context.Context, page oracle.Page, container oracle.Handle) Fields {
	fields := DefaultFields()
	visible, err := e.displayed(ctx, page, container)
	if err != nil || !visible {
		return fields
	}
	fields.ModifiedDate = e.readOrDefault(ctx, page, container, e.cfg.DateSelector)
	fields.UpdatedBy = e.readOrDefault(ctx, page, container, e.cfg.UserSelector)
	fields.Responsible = e.readOrDefault(ctx, page, container, e.cfg.ResponsibleSelector)
	return fields
}

func (e *Extractor) readOrDefault(ctx context.Context, page oracle.Page, container oracle.Handle, selector string) string {
	readCtx, cancel := e.readContext(ctx)
	defer cancel()
	el, err := page.QueryOne(readCtx, container, selector)
	if err != nil {
		return NotFound
	}
	text, err := page.Text(readCtx, el)
	if err != nil || isBlank(text) {
		return NotFound
	}
	return strings.TrimSpace(text)
}

func (e *Extractor) readText(ctx context.Context, page oracle.Page, h oracle.Handle) (string, error) {
	readCtx, cancel := e.readContext(ctx)
	defer cancel()
	return page.Text(readCtx, h)
}

func (e *Extractor) displayed(ctx context.Context, page oracle.Page, h oracle.Handle) (bool, error) {
	readCtx, cancel := e.readContext(ctx)
	defer cancel()
	return page.Displayed(readCtx, h)
}

// relocate finds the container again from the document root.
func (e *Extractor) relocate(ctx context.Context, page oracle.Page) (oracle.Handle, error) {
	readCtx, cancel := e.readContext(ctx)
	defer cancel()
	container, err := page.QueryOne(readCtx, nil, e.cfg.ContainerSelector)
	if err != nil {
		if oracle.Classify(err) == oracle.ClassNotFound {
			return nil, fmt.Errorf("%w: %w", errContainerLost, err)
		}
		return nil, err
	}
	return container, nil
}

func (e *Extractor) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.FieldReadTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.FieldReadTimeout)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
