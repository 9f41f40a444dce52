// Package cmd defines the CLI commands of the ingest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/careers-ingest/internal/app"
	"github.com/JakeFAU/careers-ingest/internal/config"
	"github.com/JakeFAU/careers-ingest/internal/crawler"
	"github.com/JakeFAU/careers-ingest/internal/gateway"
	"github.com/JakeFAU/careers-ingest/internal/logging"
)

// Runner is what the commands need from the application container.
type Runner interface {
	RunOnce(ctx context.Context) (crawler.Summary, error)
	EnsureGroup(ctx context.Context) (gateway.GroupResult, error)
	Close() error
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

type envKeyType struct{}

var envKey envKeyType

// env is what PersistentPreRunE hands to subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	app    Runner
}

type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Crawls a careers site and publishes new listings to a stream.",
		Long: `ingest drives a careers search page in headless Chrome, extracts every
listing across all result pages, normalizes it and appends it to a stream
exactly once per listing identity. A consumer group is bootstrapped on the
stream for downstream processors.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(opts.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.DevelopmentLogging())
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			logger.Debug("configuration loaded",
				zap.String("store_backend", cfg.Store.Backend),
				zap.String("stream", cfg.Stream.Name),
				zap.String("group", cfg.Stream.Group),
				zap.String("consumer", cfg.Stream.Consumer))

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger, app: a}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	cmd.AddCommand(newCrawlCmd(), newScheduleCmd(), newEnsureGroupCmd())
	return cmd
}

// withEnv runs fn with the services built by PersistentPreRunE and closes
// them afterwards, whether or not fn failed.
func withEnv(fn func(cmd *cobra.Command, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		e, ok := cmd.Context().Value(envKey).(*env)
		if !ok || e == nil || e.app == nil {
			return errors.New("application services not initialized")
		}
		defer func() {
			if err := e.app.Close(); err != nil {
				e.logger.Warn("close application services", zap.Error(err))
			}
			_ = e.logger.Sync()
		}()
		return fn(cmd, e)
	}
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ingest:", err)
		stop()
		os.Exit(1)
	}
}
