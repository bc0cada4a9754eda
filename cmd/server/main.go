// Package main is the entrypoint for the teachermon evidence pipeline server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sooksun/teachermon-sub002/internal/ai/provider"
	"github.com/sooksun/teachermon-sub002/internal/api"
	"github.com/sooksun/teachermon-sub002/internal/api/handler"
	mw "github.com/sooksun/teachermon-sub002/internal/api/middleware"
	"github.com/sooksun/teachermon-sub002/internal/artifact"
	"github.com/sooksun/teachermon-sub002/internal/cache"
	"github.com/sooksun/teachermon-sub002/internal/config"
	"github.com/sooksun/teachermon-sub002/internal/ingest"
	"github.com/sooksun/teachermon-sub002/internal/jobs"
	"github.com/sooksun/teachermon-sub002/internal/linkprobe"
	"github.com/sooksun/teachermon-sub002/internal/media"
	"github.com/sooksun/teachermon-sub002/internal/quota"
	"github.com/sooksun/teachermon-sub002/internal/reporting"
	"github.com/sooksun/teachermon-sub002/internal/stages"
	"github.com/sooksun/teachermon-sub002/internal/store"
	"github.com/sooksun/teachermon-sub002/internal/sweeper"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

const (
	shutdownTimeout = 30 * time.Second
	probeCacheTTL   = 10 * time.Minute
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "storage", cfg.Storage.Backend, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Artifact storage
	artifacts, err := newArtifactStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}
	slog.Info("artifact store ready", "backend", cfg.Storage.Backend)

	// 6. Create AI provider and stage runners
	aiProvider, err := provider.New(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", aiProvider.Name())

	runners := newRunners(media.NewFFmpeg(cfg.Media), aiProvider, cfg.Media)

	// 7. Job lifecycle
	pgStore := store.NewPostgresStore(pool)
	ledger := quota.NewPostgresLedger(pool, cfg.Quota.DefaultLimitBytes)

	machine := jobs.NewMachine(pgStore, ledger, artifacts, runners,
		jobs.WithStatusCache(redisCache, 0),
		jobs.WithRetryPolicy(jobs.PolicyFromConfig(cfg.Pipeline)),
		jobs.WithSpoolDir(cfg.Media.SpoolDir),
	)
	scheduler := jobs.NewScheduler(machine, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize)
	scheduler.Start()

	if n, err := scheduler.Resume(ctx); err != nil {
		slog.Warn("resume jobs failed", "error", err)
	} else if n > 0 {
		slog.Info("resumed interrupted jobs", "count", n)
	}

	// 8. Retention sweeper
	sweep, err := sweeper.New(ledger, pgStore, scheduler, sweeper.Config{
		Spec:           cfg.Retention.SweepCron,
		ReservationTTL: cfg.Quota.ReservationTTL,
		Retention:      time.Duration(cfg.Retention.Days) * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("create sweeper: %w", err)
	}
	sweep.Start()

	// 9. Intake and reporting
	prober := linkprobe.NewHTTPProber(cfg.Ingest.LinkProbeTimeout,
		linkprobe.WithVerdictCache(redisCache, probeCacheTTL),
	)
	intake := ingest.NewService(machine, scheduler, ledger, cfg.Media.SpoolDir,
		ingest.WithProber(prober),
		ingest.WithMaxUpload(cfg.Ingest.MaxUploadBytes),
	)
	facade := reporting.NewFacade(pgStore, ledger, redisCache)

	// 10. Build router with dependencies
	router := api.NewRouter(newDependencies(routerInput{
		store:     pgStore,
		cache:     redisCache,
		ledger:    ledger,
		artifacts: artifacts,
		intake:    intake,
		facade:    facade,
		control:   scheduler,
		rateLimit: cfg.Redis.RateLimitPerMinute,
	}))

	// 11. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
		// Uploads stream large bodies; keep the body deadline wide.
		ReadTimeout:       15 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := sweep.Stop(shutdownCtx); err != nil {
		slog.Warn("sweeper stop", "error", err)
	}
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newArtifactStore selects the artifact backend named by cfg.Backend.
func newArtifactStore(ctx context.Context, cfg config.StorageConfig) (artifact.Store, error) {
	switch cfg.Backend {
	case "filesystem":
		fs, err := artifact.NewFileSystemStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "minio":
		s3, err := artifact.NewMinIOStore(ctx, cfg.MinIO)
		if err != nil {
			return nil, err
		}
		return s3, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newRunners(ex media.Extractor, ai models.AIProvider, cfg config.MediaConfig) stages.Set {
	return stages.NewSet(
		&stages.TranscriptExtractor{Media: ex, AI: ai},
		&stages.FrameExtractor{Media: ex},
		&stages.ReportGenerator{AI: ai, MaxFrames: cfg.ReportMaxFrame},
		&stages.Evaluator{AI: ai, MaxFrames: cfg.ReportMaxFrame},
		&stages.CoverGenerator{AI: ai},
	)
}

type routerInput struct {
	store     store.Store
	cache     cache.Cache
	ledger    quota.Ledger
	artifacts artifact.Store
	intake    handler.Ingestor
	facade    *reporting.Facade
	control   handler.JobControl
	rateLimit int
}

func newDependencies(in routerInput) api.Dependencies {
	jobsH := handler.NewJobs(in.intake, in.facade, in.control, in.artifacts)
	quotaH := handler.NewQuota(in.facade, in.ledger)
	keysH := handler.NewKeys(in.store)

	return api.Dependencies{
		Auth:      mw.NewAuth(in.store),
		RateLimit: mw.NewRateLimit(in.cache, in.rateLimit),

		HealthHandler: handler.NewHealth(map[string]handler.Pinger{
			"database":  in.store,
			"cache":     in.cache,
			"quota":     in.ledger,
			"artifacts": in.artifacts,
		}),

		UploadJob:   jobsH.Upload,
		LinkJob:     jobsH.Link,
		ListJobs:    jobsH.List,
		GetJob:      jobsH.Get,
		JobStatus:   jobsH.Status,
		CancelJob:   jobsH.Cancel,
		DeleteJob:   jobsH.Delete,
		GetArtifact: jobsH.Artifact,

		MyQuota:  quotaH.Mine,
		GetQuota: quotaH.Get,
		SetQuota: quotaH.Put,

		CreateKeyHandler: keysH.Create,
		ListKeysHandler:  keysH.List,
		RevokeKeyHandler: keysH.Revoke,
	}
}
