package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/hearth"
	"github.com/dukerupert/hearth/gcs"
	"github.com/dukerupert/hearth/internal/metrics"
	"github.com/dukerupert/hearth/internal/middleware"
	"github.com/dukerupert/hearth/local"
	"github.com/dukerupert/hearth/media"
	"github.com/dukerupert/hearth/minio"
	"github.com/dukerupert/hearth/postgres"
	"github.com/dukerupert/hearth/s3"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Services holds all application services.
type Services struct {
	DB             *postgres.DB
	Store          hearth.ObjectStore
	UploadsHandler http.Handler
	Pipeline       *media.Pipeline
	Resolver       *media.Resolver
	Metrics        *metrics.Metrics
	UploadLimiter  *middleware.RateLimiter

	closers []func() error
}

// Close releases resources held by the services.
func (s *Services) Close() {
	if s.UploadLimiter != nil {
		s.UploadLimiter.Shutdown()
	}
	for _, c := range s.closers {
		_ = c()
	}
}

// initServices initializes all application services.
func initServices(ctx context.Context, pool *pgxpool.Pool, cfg *Config, logger *slog.Logger) (*Services, error) {
	svc := &Services{DB: postgres.NewDB(pool)}
	logger.Info("database services initialized")

	if err := initObjectStore(ctx, svc, cfg, logger); err != nil {
		return nil, err
	}
	logger.Info("object store initialized", slog.String("provider", cfg.Storage.Provider))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc.Metrics = metrics.New(reg)

	svc.Pipeline = media.New(media.Config{
		Store:       svc.Store,
		Policies:    cfg.Policies(),
		Logger:      logger,
		Observer:    svc.Metrics,
		Concurrency: cfg.RenditionConcurrency,
	})
	svc.Resolver = media.NewResolver(svc.Store, cfg.Storage.CDNBaseURL)

	if cfg.RateLimitEnabled {
		svc.UploadLimiter = middleware.NewRateLimiter(logger, middleware.RateLimitConfig{
			Rate:            cfg.RateLimitRate,
			Burst:           cfg.RateLimitBurst,
			CleanupInterval: 5 * time.Minute,
			IdleTimeout:     10 * time.Minute,
		})
		logger.Info("upload rate limiting enabled",
			slog.Float64("rate", cfg.RateLimitRate),
			slog.Int("burst", cfg.RateLimitBurst))
	}

	return svc, nil
}

// initObjectStore creates the object store named by the storage provider.
func initObjectStore(ctx context.Context, svc *Services, cfg *Config, logger *slog.Logger) error {
	logger.Debug("storage configuration",
		slog.String("provider", cfg.Storage.Provider),
		slog.String("local_path", cfg.Storage.LocalPath),
		slog.String("s3_bucket", cfg.Storage.S3Bucket),
		slog.String("minio_bucket", cfg.Storage.MinioBucket),
		slog.String("gcs_bucket", cfg.Storage.GCSBucket))

	switch cfg.Storage.Provider {
	case "local":
		store, err := local.Open(logger, cfg.Storage)
		if err != nil {
			return err
		}
		svc.Store = store
		svc.UploadsHandler = store.Handler()
	case "s3":
		store, err := s3.Open(ctx, logger, cfg.Storage)
		if err != nil {
			return err
		}
		svc.Store = store
	case "minio":
		store, err := minio.Open(ctx, logger, cfg.Storage)
		if err != nil {
			return err
		}
		svc.Store = store
	case "gcs":
		store, err := gcs.Open(ctx, logger, cfg.Storage)
		if err != nil {
			return err
		}
		svc.Store = store
		svc.closers = append(svc.closers, store.Close)
	default:
		return fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
	return nil
}

// runSweeper periodically checks every owner kind for originals with an
// incomplete rendition set and publishes the counts as metrics.
func runSweeper(ctx context.Context, svc *Services, cfg *Config, logger *slog.Logger) {
	logger.Info("rendition sweeper started",
		slog.Duration("interval", cfg.SweepInterval),
		slog.Bool("repair", cfg.SweepRepair))

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("rendition sweeper stopped")
			return
		case <-ticker.C:
			sweepOnce(ctx, svc, cfg.SweepRepair, logger)
		}
	}
}

func sweepOnce(ctx context.Context, svc *Services, repair bool, logger *slog.Logger) {
	for _, kind := range hearth.OwnerKinds {
		report, err := svc.Pipeline.Sweep(ctx, kind, string(kind)+"/", repair)
		if err != nil {
			logger.Error("rendition sweep failed",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()))
			continue
		}
		svc.Metrics.SetIncompleteSets(string(kind), len(report.Incomplete)-report.Repaired)
		if len(report.Incomplete) > 0 {
			logger.Warn("incomplete rendition sets found",
				slog.String("kind", string(kind)),
				slog.Int("originals", report.Originals),
				slog.Int("incomplete", len(report.Incomplete)),
				slog.Int("repaired", report.Repaired))
		}
	}
}
