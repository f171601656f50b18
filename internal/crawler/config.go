package crawler

import (
	"errors"
	"time"
)

// DiscoveryConfig controls the breadth-first crawl. It is decoupled from
// Viper so the crawler can be configured and tested without files.
type DiscoveryConfig struct {
	StartURL string
	// LinkSelector overrides the selector derived from StartURL.
	LinkSelector string
	// ReadySelector confirms a page has rendered; empty waits for a link.
	ReadySelector string
	WaitTimeout   time.Duration
}

// Validate checks for obviously bad discovery settings.
func (c DiscoveryConfig) Validate() error {
	if c.StartURL == "" {
		return errors.New("site.start_url must be set")
	}
	if c.WaitTimeout <= 0 {
		return errors.New("crawl.wait_timeout must be > 0")
	}
	return nil
}

// ExtractConfig controls the footer extraction retry policy.
type ExtractConfig struct {
	ContainerSelector   string
	DateSelector        string
	UserSelector        string
	ResponsibleSelector string

	// PageLoadTimeout bounds the wait for the container after navigation.
	PageLoadTimeout time.Duration
	// FieldReadTimeout bounds each individual read; zero means unbounded.
	FieldReadTimeout time.Duration
	OuterRetries     int
	InnerRetries     int
	// RetryDelay separates field-read attempts.
	RetryDelay time.Duration
	// PageRetryDelay separates page-load attempts.
	PageRetryDelay time.Duration
	Concurrency    int
}

// Validate checks for obviously bad extraction settings.
func (c ExtractConfig) Validate() error {
	switch {
	case c.ContainerSelector == "":
		return errors.New("extract.container_selector must be set")
	case c.DateSelector == "" || c.UserSelector == "" || c.ResponsibleSelector == "":
		return errors.New("extract field selectors must be set")
	case c.PageLoadTimeout <= 0:
		return errors.New("extract.page_load_timeout must be > 0")
	case c.FieldReadTimeout < 0:
		return errors.New("extract.field_read_timeout must be >= 0")
	case c.OuterRetries <= 0:
		return errors.New("extract.outer_retries must be > 0")
	case c.InnerRetries <= 0:
		return errors.New("extract.inner_retries must be > 0")
	case c.RetryDelay < 0 || c.PageRetryDelay < 0:
		return errors.New("extract retry delays must be >= 0")
	case c.Concurrency <= 0:
		return errors.New("extract.concurrency must be > 0")
	}
	return nil
}
