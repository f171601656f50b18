// Package cmd defines the crawl and extract commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-provenance-crawler/internal/app"
	"github.com/JakeFAU/page-provenance-crawler/internal/config"
	"github.com/JakeFAU/page-provenance-crawler/internal/crawler"
	"github.com/JakeFAU/page-provenance-crawler/internal/logging"
)

// shutdownTimeout bounds flushing progress sinks and closing stores.
const shutdownTimeout = 15 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the application container. Tests swap
// in a fake through newApp.
type App interface {
	Crawl(ctx context.Context) (crawler.CrawlSummary, error)
	Extract(ctx context.Context) (crawler.ExtractSummary, error)
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

// services adapts *app.App to App.
type services struct {
	*app.App
}

func (s services) Crawl(ctx context.Context) (crawler.CrawlSummary, error) {
	return s.Runner.Crawl(ctx)
}

func (s services) Extract(ctx context.Context) (crawler.ExtractSummary, error) {
	return s.Runner.Extract(ctx)
}

func (s services) Logger() *zap.Logger {
	return s.App.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return services{App: a}, nil
}

// appHolder is placed in the context before execution so Execute can release
// the App even when a command fails.
type appHolder struct {
	app App
}

type rootOptions struct {
	configPath  string
	browserPath string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:   "provenance",
		Short: "Discovers a hash-routed site and records who last changed each page.",
		Long: `provenance walks every #!/ route reachable from the configured start URL
and stores the page list (crawl), then renders each stored page and reads the
"last updated" footer into the scrape history (extract).`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			holder, ok := cmd.Context().Value(appKey).(*appHolder)
			if !ok {
				return errors.New("command context is missing the application holder")
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.browserPath != "" {
				cfg.Browser.Path = opts.browserPath
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			holder.app = appInstance
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().StringVar(&opts.browserPath, "browser-path", "",
		"Chrome/Chromium binary; overrides browser.path, CRAWLER_BROWSER_PATH and LOCAL_DRIVER_PATH")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newExtractCmd())
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, newRootCmd(), os.Args[1:])
}

func execute(ctx context.Context, root *cobra.Command, args []string) int {
	holder := &appHolder{}
	root.SetArgs(args)
	err := root.ExecuteContext(context.WithValue(ctx, appKey, holder))

	logger := zap.L()
	if holder.app != nil {
		logger = holder.app.Logger()
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		if cerr := holder.app.Close(closeCtx); cerr != nil {
			logger.Warn("Error shutting down application services", zap.Error(cerr))
		}
		cancel()
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	if err != nil {
		logger.Error("Command execution failed", zap.Error(err))
		return 1
	}
	return 0
}

func resolveApp(ctx context.Context) (App, error) {
	holder, ok := ctx.Value(appKey).(*appHolder)
	if !ok || holder.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return holder.app, nil
}
