package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Discovers every routed page and upserts the page list",
		Long: `Renders the start URL, follows every same-site #!/ link breadth first,
and upserts one {id, url} row per routed page. Pages that fail to render are
logged and skipped.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	summary, err := appInstance.Crawl(cmd.Context())
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	appInstance.Logger().Info("Crawl command finished",
		zap.String("run_id", summary.RunID),
		zap.Int("visited", summary.Visited),
		zap.Int("skipped", summary.Skipped),
		zap.Int("discovered", summary.Discovered),
		zap.Int("upserted", summary.Upserted),
	)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "crawl %s: visited=%d skipped=%d discovered=%d upserted=%d\n",
		summary.RunID, summary.Visited, summary.Skipped, summary.Discovered, summary.Upserted)
	return err
}
