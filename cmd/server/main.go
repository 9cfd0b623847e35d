// Package main is the entrypoint for the sheetscan API server and its
// background import workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edumark/sheetscan/internal/api"
	"github.com/edumark/sheetscan/internal/api/handler"
	mw "github.com/edumark/sheetscan/internal/api/middleware"
	"github.com/edumark/sheetscan/internal/blob"
	"github.com/edumark/sheetscan/internal/cache"
	"github.com/edumark/sheetscan/internal/config"
	"github.com/edumark/sheetscan/internal/importer"
	"github.com/edumark/sheetscan/internal/scan"
	"github.com/edumark/sheetscan/internal/sheet"
	"github.com/edumark/sheetscan/internal/store"
	"github.com/edumark/sheetscan/internal/unpack"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "id_field", cfg.Roster.IDField)

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

	// 5. Blob store for page images and rendered sheets
	blobs, err := blob.NewFilesystemStore(cfg.Storage.BlobRoot)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	// 6. Create store and domain services
	pgStore := store.NewPostgresStore(pool)

	// Migrations seed the default subject; uploads are rejected without it.
	subject, err := pgStore.GetDefaultSubject(ctx)
	if err != nil {
		return fmt.Errorf("load default subject: %w", err)
	}
	slog.Info("default subject ready",
		"subject_id", subject.ID, "num_groups", subject.NumGroups, "pages_per_form", subject.PagesPerForm)

	scanner := scan.NewScanner(scan.DefaultLayout)
	matcher := importer.NewMatcher(pgStore, cfg.Roster.IDField)
	committer := importer.NewCommitter(pgStore)
	processor := importer.NewProcessor(pgStore, blobs, scanner, matcher, committer, logger)
	unpacker := unpack.New(cfg.Convert, logger)
	ingestor := importer.NewIngestor(pgStore, cfg.Storage.TempDir, logger)
	sheets := sheet.NewManager(pgStore, blobs, logger)

	// 7. Start the background import pool
	workerPool := importer.NewPool(pgStore, redisCache, unpacker, processor, cfg.Worker, logger)
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		workerPool.Run(ctx)
	}()
	slog.Info("import workers started", "concurrency", cfg.Worker.Concurrency)

	// 8. Build router with dependencies
	rateLimit := mw.NewRateLimit(redisCache, 120)

	deps := api.Dependencies{
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		UploadHandler:    handler.NewUploadHandler(ingestor),
		JobStatusHandler: handler.NewJobStatusHandler(pgStore, redisCache),
		AbandonJob:       handler.NewAbandonJobHandler(ingestor),

		ErrorReport: handler.NewErrorReportHandler(pgStore),
		DeletePages: handler.NewDeletePagesHandler(processor),
		CorrectPage: handler.NewCorrectPageHandler(processor),

		ListLists:     handler.NewListListsHandler(pgStore),
		CreateList:    handler.NewCreateListHandler(pgStore),
		GenerateSheet: handler.NewGenerateSheetHandler(sheets),
		DownloadSheet: handler.NewDownloadSheetHandler(sheets),
		RosterCSV:     handler.NewRosterCSVHandler(sheets),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
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

	// Workers stop when ctx is cancelled; wait so in-flight pages finish
	// their status updates before the pool closes.
	workers.Wait()

	slog.Info("server stopped gracefully")
	return nil
}
