package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl and exits",
		Long: `Ensures the consumer group, opens a browser session on the configured
target, applies the location and category filters and publishes every new
listing on every result page. Listings published before a fatal error stay
published; a later run skips them.`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env) error {
			sum, err := e.app.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			e.logger.Debug("crawl command finished", zap.String("run_id", sum.RunID))
			return nil
		}),
	}
}
