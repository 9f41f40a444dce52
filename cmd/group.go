package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newEnsureGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-group",
		Short: "Creates the stream and its consumer group if missing",
		Long: `Bootstraps the configured consumer group at the current end of the
stream, creating the stream when it does not exist. An existing group is left
untouched.`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env) error {
			res, err := e.app.EnsureGroup(cmd.Context())
			if err != nil {
				return err
			}
			e.logger.Info("consumer group ready",
				zap.String("stream", e.cfg.Stream.Name),
				zap.String("group", e.cfg.Stream.Group),
				zap.String("result", string(res)))
			return nil
		}),
	}
}
