// Package app builds the long-lived services of one ingest process from
// configuration and runs the pipeline on them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/careers-ingest/internal/browser"
	"github.com/JakeFAU/careers-ingest/internal/clock/system"
	"github.com/JakeFAU/careers-ingest/internal/config"
	"github.com/JakeFAU/careers-ingest/internal/crawler"
	"github.com/JakeFAU/careers-ingest/internal/gateway"
	"github.com/JakeFAU/careers-ingest/internal/id/uuid"
	"github.com/JakeFAU/careers-ingest/internal/metrics"
	"github.com/JakeFAU/careers-ingest/internal/storage/gcs"
	"github.com/JakeFAU/careers-ingest/internal/storage/local"
	"github.com/JakeFAU/careers-ingest/internal/store/memory"
	"github.com/JakeFAU/careers-ingest/internal/store/postgres"
	pubsubstream "github.com/JakeFAU/careers-ingest/internal/store/pubsub"
	"github.com/JakeFAU/careers-ingest/internal/store/redis"
)

// Session is a surface that owns a browser and must be closed.
type Session interface {
	browser.Surface
	Close()
}

// SurfaceFactory opens the browser session for one run.
type SurfaceFactory func(cfg browser.Config, logger *zap.Logger) (Session, error)

// Option customizes an App.
type Option func(*App)

// WithSurfaceFactory replaces the Chrome session factory.
func WithSurfaceFactory(f SurfaceFactory) Option {
	return func(a *App) { a.newSurface = f }
}

// App holds the store, gateway, archive and ops server shared by runs.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	gateway    *gateway.Gateway
	archive    crawler.Archive
	metricsSrv *http.Server
	newSurface SurfaceFactory
	closers    []func() error
}

func chromedpFactory(cfg browser.Config, logger *zap.Logger) (Session, error) {
	return browser.NewChromedp(cfg, logger)
}

// New connects every configured backend. It fails fast when a backend
// cannot be initialized and releases whatever it had opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, newSurface: chromedpFactory}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.init(ctx); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("release after failed init", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	members, stream, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if a.cfg.Stream.Transport == config.TransportPubSub {
		ps, err := pubsubstream.New(ctx, a.cfg.PubSub.ProjectID, a.pubsubOptions()...)
		if err != nil {
			return fmt.Errorf("init pubsub stream: %w", err)
		}
		a.closers = append(a.closers, ps.Close)
		stream = ps
		a.logger.Info("publishing to pubsub", zap.String("project_id", a.cfg.PubSub.ProjectID))
	}

	gw, err := gateway.New(gateway.Config{
		Stream:   a.cfg.Stream.Name,
		Group:    a.cfg.Stream.Group,
		DedupSet: a.cfg.Dedup.Set,
	}, members, stream, a.logger.Named("gateway"))
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}
	a.gateway = gw

	if err := a.openArchive(ctx); err != nil {
		return err
	}

	if a.cfg.Metrics.Enabled {
		a.startMetrics()
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (gateway.Membership, gateway.Stream, error) {
	logger := a.logger.With(zap.String("backend", a.cfg.Store.Backend))
	switch a.cfg.Store.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory store; dedup state is lost on exit")
		s := memory.NewStore()
		return s, s, nil
	case config.BackendRedis:
		s, err := redis.New(a.cfg.RedisStore())
		if err != nil {
			return nil, nil, fmt.Errorf("init redis store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		if err := s.Ping(ctx); err != nil {
			return nil, nil, err
		}
		logger.Info("store connected")
		return s, s, nil
	case config.BackendPostgres:
		s, err := postgres.New(ctx, a.cfg.PostgresStore())
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.closers = append(a.closers, func() error { s.Close(); return nil })
		if a.cfg.Store.Postgres.EnsureSchema {
			if err := s.EnsureSchema(ctx); err != nil {
				return nil, nil, err
			}
		}
		logger.Info("store connected")
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", a.cfg.Store.Backend)
	}
}

func (a *App) pubsubOptions() []option.ClientOption {
	if a.cfg.PubSub.Endpoint == "" {
		return nil
	}
	return []option.ClientOption{
		option.WithEndpoint(a.cfg.PubSub.Endpoint),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

func (a *App) openArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case config.ArchiveNone, "":
		if a.cfg.Debug {
			a.logger.Warn("debug run without archive; raw content is not kept")
		}
	case config.ArchiveLocal:
		s, err := local.New(local.Config{BaseDir: a.cfg.Archive.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.archive = s
	case config.ArchiveGCS:
		s, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.GCS.Bucket, Prefix: a.cfg.Archive.GCS.Prefix})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.archive = s
	default:
		return fmt.Errorf("unknown archive backend: %s", a.cfg.Archive.Backend)
	}
	return nil
}

func (a *App) startMetrics() {
	srv := metrics.NewServer(a.cfg.Metrics.Port)
	a.metricsSrv = srv
	go func() {
		a.logger.Info("metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// EnsureGroup bootstraps the consumer group without crawling.
func (a *App) EnsureGroup(ctx context.Context) (gateway.GroupResult, error) {
	return a.gateway.EnsureGroup(ctx)
}

// RunOnce opens a browser session, runs one crawl on it and closes it.
func (a *App) RunOnce(ctx context.Context) (crawler.Summary, error) {
	session, err := a.newSurface(a.cfg.BrowserSession(), a.logger.Named("browser"))
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("open browser session: %w", err)
	}
	defer session.Close()

	ctrl, err := crawler.NewController(a.cfg.Crawler(), crawler.Dependencies{
		Surface:   session,
		Publisher: a.gateway,
		Archive:   a.archive,
		Clock:     system.New(),
		IDs:       uuid.New(),
		Logger:    a.logger,
	})
	if err != nil {
		return crawler.Summary{}, err
	}
	return ctrl.Run(ctx)
}

// Close stops the ops server and releases backends in reverse order.
func (a *App) Close() error {
	var errs []error
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
		cancel()
		a.metricsSrv = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
