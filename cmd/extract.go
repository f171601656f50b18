package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Reads the provenance footer of every active page",
		Long: `Loads the active pages, renders each one and reads the modified date,
updated-by and responsible fields from its footer. Every page yields one
history row; fields that cannot be read are stored as "Not Found".`,
		Args: cobra.NoArgs,
		RunE: runExtractCommand,
	}
}

func runExtractCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	summary, err := appInstance.Extract(cmd.Context())
	if err != nil {
		return fmt.Errorf("run extract: %w", err)
	}
	appInstance.Logger().Info("Extract command finished",
		zap.String("run_id", summary.RunID),
		zap.Int("processed", summary.Extracted+summary.Defaulted+summary.Failed),
		zap.Int("total", summary.Total),
		zap.Int("persisted", summary.Persisted),
	)
	_, err = fmt.Fprintf(cmd.OutOrStdout(),
		"extract %s: total=%d extracted=%d defaulted=%d failed=%d persisted=%d\n",
		summary.RunID, summary.Total, summary.Extracted, summary.Defaulted, summary.Failed, summary.Persisted)
	return err
}
