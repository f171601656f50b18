// Package app builds the long-lived services a command needs from Config and
// releases them when the command finishes.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-provenance-crawler/internal/archive"
	"github.com/JakeFAU/page-provenance-crawler/internal/clock/system"
	"github.com/JakeFAU/page-provenance-crawler/internal/config"
	"github.com/JakeFAU/page-provenance-crawler/internal/crawler"
	"github.com/JakeFAU/page-provenance-crawler/internal/hash/sha256"
	"github.com/JakeFAU/page-provenance-crawler/internal/id/uuid"
	"github.com/JakeFAU/page-provenance-crawler/internal/metrics"
	"github.com/JakeFAU/page-provenance-crawler/internal/oracle"
	"github.com/JakeFAU/page-provenance-crawler/internal/progress"
	"github.com/JakeFAU/page-provenance-crawler/internal/progress/sinks"
	pubsubpub "github.com/JakeFAU/page-provenance-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/page-provenance-crawler/internal/storage/gcs"
	"github.com/JakeFAU/page-provenance-crawler/internal/storage/local"
	"github.com/JakeFAU/page-provenance-crawler/internal/store/csvfile"
	"github.com/JakeFAU/page-provenance-crawler/internal/store/memory"
	"github.com/JakeFAU/page-provenance-crawler/internal/store/postgres"
)

// App holds the services shared by the crawl and extract commands.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Store     crawler.RecordStore
	Archiver  crawler.Archiver
	Publisher crawler.Publisher
	Hub       *progress.Hub
	Registry  *prometheus.Registry
	Metrics   *metrics.Server
	Runner    *crawler.Runner

	gcsClient *storage.Client
}

// Option customizes New.
type Option func(*options)

type options struct {
	openBrowser crawler.BrowserFactory
	store       crawler.RecordStore
	publisher   crawler.Publisher
}

// WithBrowserFactory replaces the chromedp browser.
func WithBrowserFactory(f crawler.BrowserFactory) Option {
	return func(o *options) { o.openBrowser = f }
}

// WithStore replaces the configured RecordStore.
func WithStore(s crawler.RecordStore) Option {
	return func(o *options) { o.store = s }
}

// WithPublisher replaces the configured Publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// New wires every service described by cfg. Anything opened before a
// failure is released before New returns.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	if err := a.init(ctx, o); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	logger.Info("Application services initialized",
		zap.String("store", cfg.Store.Provider),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("notify", cfg.Notify.Provider),
	)
	return a, nil
}

func (a *App) init(ctx context.Context, o options) error {
	cfg, logger := a.Config, a.Logger
	logger.Info("Initializing application services")
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var err error
	if a.Store = o.store; a.Store == nil {
		if a.Store, err = newStore(ctx, cfg.Store, logger); err != nil {
			return err
		}
	}
	if err := a.initArchive(ctx); err != nil {
		return err
	}
	if a.Publisher = o.publisher; a.Publisher == nil {
		if err := a.initPublisher(ctx); err != nil {
			return err
		}
	}
	if err := a.initProgress(); err != nil {
		return err
	}
	if cfg.Metrics.Addr != "" {
		if a.Metrics, err = metrics.NewServer(cfg.Metrics.Addr, a.Registry, logger); err != nil {
			return err
		}
		if _, err := a.Metrics.Start(); err != nil {
			return err
		}
	}

	openBrowser := o.openBrowser
	if openBrowser == nil {
		browserCfg := cfg.Chromedp()
		openBrowser = func(context.Context) (oracle.Browser, error) {
			b, err := oracle.NewChromedp(browserCfg, logger)
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	}
	a.Runner, err = crawler.NewRunner(crawler.Deps{
		OpenBrowser: openBrowser,
		Store:       a.Store,
		Clock:       system.New(),
		IDs:         uuid.New(),
		Archiver:    a.Archiver,
		Publisher:   a.Publisher,
		Emitter:     a.Hub,
		Logger:      logger,
	}, cfg.Discovery(), cfg.Extraction())
	return err
}

func newStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (crawler.RecordStore, error) {
	switch cfg.Provider {
	case config.StoreMemory:
		logger.Info("Using in-memory record store; results are discarded on exit")
		return memory.New(), nil
	case config.StoreCSV:
		logger.Info("Using CSV record store", zap.String("dir", cfg.CSV.Dir))
		s, err := csvfile.New(csvfile.Config{Dir: cfg.CSV.Dir}, logger)
		if err != nil {
			return nil, fmt.Errorf("init csv store: %w", err)
		}
		return s, nil
	case config.StorePostgres:
		logger.Info("Connecting to PostgreSQL")
		s, err := postgres.New(ctx, postgres.Config{
			DSN:         cfg.Postgres.DSN,
			MaxConns:    cfg.Postgres.MaxConns,
			BatchSize:   cfg.BatchSize,
			AutoMigrate: cfg.Postgres.AutoMigrate,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store provider: %s", cfg.Provider)
	}
}

func (a *App) initArchive(ctx context.Context) error {
	cfg := a.Config.Archive
	var blobs crawler.BlobStore
	switch cfg.Provider {
	case config.ArchiveNone, "":
		return nil
	case config.ArchiveLocal:
		s, err := local.New(local.Config{BaseDir: cfg.Local.Dir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		blobs = s
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		a.gcsClient = client
		s, err := gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		blobs = s
	default:
		return fmt.Errorf("unknown archive provider: %s", cfg.Provider)
	}
	archiver, err := archive.New(blobs, sha256.New(), archive.Config{Prefix: cfg.Prefix}, a.Logger)
	if err != nil {
		return err
	}
	a.Archiver = archiver
	a.Logger.Info("Archiving runs", zap.String("provider", cfg.Provider), zap.String("prefix", cfg.Prefix))
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	cfg := a.Config.Notify
	switch cfg.Provider {
	case config.NotifyNone, "":
		return nil
	case config.NotifyPubSub:
		a.Logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", cfg.PubSub.TopicID))
		p, err := pubsubpub.New(ctx, pubsubpub.Config{
			ProjectID: cfg.PubSub.ProjectID,
			TopicID:   cfg.PubSub.TopicID,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.Publisher = p
		return nil
	default:
		return fmt.Errorf("unknown notify provider: %s", cfg.Provider)
	}
}

func (a *App) initProgress() error {
	promSink, err := sinks.NewPrometheusSink(a.Registry)
	if err != nil {
		return err
	}
	a.Hub = progress.NewHub(progress.Config{Logger: a.Logger}, sinks.NewLogSink(a.Logger), promSink)
	return nil
}

// Close releases every service, in reverse order of construction. It is
// safe to call on a partially built App.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if a.Metrics != nil {
		if err := a.Metrics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage client: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close record store: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		a.Logger.Warn("Errors while shutting down application services", zap.Error(err))
	}
	return err
}
