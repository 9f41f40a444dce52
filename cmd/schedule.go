package cmd

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/careers-ingest/internal/logging"
)

func newScheduleCmd() *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Runs crawls on the schedule.cron expression until interrupted",
		Long: `Starts a cron scheduler that runs one crawl per tick. A tick that fires
while the previous crawl is still running is skipped. Re-runs are idempotent:
listings published by an earlier run are detected as duplicates.`,
		Args: cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, e *env) error {
			return runSchedule(cmd.Context(), e, runNow)
		}),
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "run one crawl immediately before the first tick")
	return cmd
}

func runSchedule(ctx context.Context, e *env, runNow bool) error {
	cronLogger := logging.CronLogger(e.logger)
	c := cron.New(cron.WithLogger(cronLogger))

	// The chain is shared by the ticks and --run-now so they never overlap.
	chain := cron.NewChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))
	wrapped := chain.Then(cron.FuncJob(func() {
		if _, err := e.app.RunOnce(ctx); err != nil {
			e.logger.Error("scheduled crawl failed", zap.Error(err))
		}
	}))
	id, err := c.AddJob(e.cfg.Schedule.Cron, wrapped)
	if err != nil {
		return err
	}

	c.Start()
	e.logger.Info("scheduler started",
		zap.String("cron", e.cfg.Schedule.Cron),
		zap.Time("next", c.Entry(id).Next))

	if runNow {
		wrapped.Run()
	}

	<-ctx.Done()
	e.logger.Info("scheduler stopping; waiting for the running crawl")
	<-c.Stop().Done()
	return nil
}
