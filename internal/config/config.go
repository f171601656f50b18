// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/page-provenance-crawler/internal/crawler"
	"github.com/JakeFAU/page-provenance-crawler/internal/oracle"
)

// Provider names accepted by the store, archive and notify sections.
const (
	StoreMemory   = "memory"
	StoreCSV      = "csv"
	StorePostgres = "postgres"

	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"

	NotifyNone   = "none"
	NotifyPubSub = "pubsub"
)

// Config captures every knob of the crawl and extract commands.
type Config struct {
	Site    SiteConfig    `mapstructure:"site"`
	Browser BrowserConfig `mapstructure:"browser"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Extract ExtractConfig `mapstructure:"extract"`
	Store   StoreConfig   `mapstructure:"store"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SiteConfig identifies the hash-routed site.
type SiteConfig struct {
	StartURL      string `mapstructure:"start_url"`
	LinkSelector  string `mapstructure:"link_selector"`
	ReadySelector string `mapstructure:"ready_selector"`
}

// BrowserConfig controls the headless browser.
type BrowserConfig struct {
	Path           string        `mapstructure:"path"`
	Headless       bool          `mapstructure:"headless"`
	UserAgent      string        `mapstructure:"user_agent"`
	WindowWidth    int           `mapstructure:"window_width"`
	WindowHeight   int           `mapstructure:"window_height"`
	MinNavInterval time.Duration `mapstructure:"min_nav_interval"`
}

// CrawlConfig tunes discovery.
type CrawlConfig struct {
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

// ExtractConfig tunes the footer extraction retry policy.
type ExtractConfig struct {
	ContainerSelector   string        `mapstructure:"container_selector"`
	DateSelector        string        `mapstructure:"date_selector"`
	UserSelector        string        `mapstructure:"user_selector"`
	ResponsibleSelector string        `mapstructure:"responsible_selector"`
	PageLoadTimeout     time.Duration `mapstructure:"page_load_timeout"`
	FieldReadTimeout    time.Duration `mapstructure:"field_read_timeout"`
	OuterRetries        int           `mapstructure:"outer_retries"`
	InnerRetries        int           `mapstructure:"inner_retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	PageRetryDelay      time.Duration `mapstructure:"page_retry_delay"`
	Concurrency         int           `mapstructure:"concurrency"`
}

// StoreConfig selects the RecordStore.
type StoreConfig struct {
	Provider  string         `mapstructure:"provider"`
	BatchSize int            `mapstructure:"batch_size"`
	Postgres  PostgresConfig `mapstructure:"postgres"`
	CSV       CSVConfig      `mapstructure:"csv"`
}

// PostgresConfig controls the Postgres RecordStore.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// CSVConfig locates the CSV RecordStore.
type CSVConfig struct {
	Dir string `mapstructure:"dir"`
}

// ArchiveConfig selects where run archives are written.
type ArchiveConfig struct {
	Provider string      `mapstructure:"provider"`
	Prefix   string      `mapstructure:"prefix"`
	Local    LocalConfig `mapstructure:"local"`
	GCS      GCSConfig   `mapstructure:"gcs"`
}

// LocalConfig locates the filesystem archive.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// GCSConfig names the archive bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// NotifyConfig selects the run-summary publisher.
type NotifyConfig struct {
	Provider string       `mapstructure:"provider"`
	PubSub   PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds the Pub/Sub destination.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// MetricsConfig enables the metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig selects the zap encoder and minimum level. An empty Level
// means debug in development and info otherwise.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv accepts the unprefixed variables existing deployments set.
// The prefixed name wins when both are present.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"store.postgres.dsn": {"CRAWLER_STORE_POSTGRES_DSN", "DATABASE_URL"},
		"browser.path":       {"CRAWLER_BROWSER_PATH", "LOCAL_DRIVER_PATH"},
	}
	for key, names := range bindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.start_url", "https://www.sorocaba.unesp.br/#!/")
	v.SetDefault("site.link_selector", "")
	v.SetDefault("site.ready_selector", "")
	v.SetDefault("browser.path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.min_nav_interval", "0s")
	v.SetDefault("crawl.wait_timeout", "10s")
	v.SetDefault("extract.container_selector", "#idCorpoRodape")
	v.SetDefault("extract.date_selector", "#data-atualizacao-pagina")
	v.SetDefault("extract.user_selector", "#usuario-atualizacao-pagina")
	v.SetDefault("extract.responsible_selector", "#responsavel-pagina")
	v.SetDefault("extract.page_load_timeout", "10s")
	v.SetDefault("extract.field_read_timeout", "5s")
	v.SetDefault("extract.outer_retries", 3)
	v.SetDefault("extract.inner_retries", 3)
	v.SetDefault("extract.retry_delay", "500ms")
	v.SetDefault("extract.page_retry_delay", "1s")
	v.SetDefault("extract.concurrency", 1)
	v.SetDefault("store.provider", StorePostgres)
	v.SetDefault("store.batch_size", 1000)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.auto_migrate", false)
	v.SetDefault("store.csv.dir", "data")
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.prefix", "provenance")
	v.SetDefault("archive.local.dir", "archive")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("notify.provider", NotifyNone)
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic_id", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits. Errors name the
// offending key.
func (c Config) Validate() error {
	if err := c.Discovery().Validate(); err != nil {
		return err
	}
	if err := c.Extraction().Validate(); err != nil {
		return err
	}
	if c.Browser.WindowWidth < 0 || c.Browser.WindowHeight < 0 {
		return fmt.Errorf("browser.window_width and browser.window_height must be >= 0")
	}
	if c.Browser.MinNavInterval < 0 {
		return fmt.Errorf("browser.min_nav_interval must be >= 0")
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Archive.validate(); err != nil {
		return err
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	return c.Notify.validate()
}

func (s StoreConfig) validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("store.batch_size must be > 0")
	}
	switch s.Provider {
	case StoreMemory:
	case StoreCSV:
		if strings.TrimSpace(s.CSV.Dir) == "" {
			return fmt.Errorf("store.csv.dir must be set when store.provider is csv")
		}
	case StorePostgres:
		if s.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn (or DATABASE_URL) must be set when store.provider is postgres")
		}
		if s.Postgres.MaxConns < 0 {
			return fmt.Errorf("store.postgres.max_conns must be >= 0")
		}
	default:
		return fmt.Errorf("store.provider %q is not one of memory, csv, postgres", s.Provider)
	}
	return nil
}

func (a ArchiveConfig) validate() error {
	switch a.Provider {
	case ArchiveNone, "":
	case ArchiveLocal:
		if strings.TrimSpace(a.Local.Dir) == "" {
			return fmt.Errorf("archive.local.dir must be set when archive.provider is local")
		}
	case ArchiveGCS:
		if a.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("archive.provider %q is not one of none, local, gcs", a.Provider)
	}
	return nil
}

func (n NotifyConfig) validate() error {
	switch n.Provider {
	case NotifyNone, "":
	case NotifyPubSub:
		if n.PubSub.ProjectID == "" || n.PubSub.TopicID == "" {
			return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic_id must be set when notify.provider is pubsub")
		}
	default:
		return fmt.Errorf("notify.provider %q is not one of none, pubsub", n.Provider)
	}
	return nil
}

// Discovery converts the site and crawl sections for the Discoverer.
func (c Config) Discovery() crawler.DiscoveryConfig {
	return crawler.DiscoveryConfig{
		StartURL:      c.Site.StartURL,
		LinkSelector:  c.Site.LinkSelector,
		ReadySelector: c.Site.ReadySelector,
		WaitTimeout:   c.Crawl.WaitTimeout,
	}
}

// Extraction converts the extract section for the Extractor.
func (c Config) Extraction() crawler.ExtractConfig {
	e := c.Extract
	return crawler.ExtractConfig{
		ContainerSelector:   e.ContainerSelector,
		DateSelector:        e.DateSelector,
		UserSelector:        e.UserSelector,
		ResponsibleSelector: e.ResponsibleSelector,
		PageLoadTimeout:     e.PageLoadTimeout,
		FieldReadTimeout:    e.FieldReadTimeout,
		OuterRetries:        e.OuterRetries,
		InnerRetries:        e.InnerRetries,
		RetryDelay:          e.RetryDelay,
		PageRetryDelay:      e.PageRetryDelay,
		Concurrency:         e.Concurrency,
	}
}

// Chromedp converts the browser section for the chromedp oracle.
func (c Config) Chromedp() oracle.ChromedpConfig {
	b := c.Browser
	return oracle.ChromedpConfig{
		ExecPath:       b.Path,
		Headless:       b.Headless,
		UserAgent:      b.UserAgent,
		WindowWidth:    b.WindowWidth,
		WindowHeight:   b.WindowHeight,
		MinNavInterval: b.MinNavInterval,
	}
}
