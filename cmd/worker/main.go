package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/pixelmix/internal/config"
	"github.com/dunamismax/pixelmix/internal/imaging"
	"github.com/dunamismax/pixelmix/internal/pipeline"
	"github.com/dunamismax/pixelmix/internal/storage"
	"github.com/dunamismax/pixelmix/internal/store"
	"github.com/dunamismax/pixelmix/internal/telemetry"
	"github.com/dunamismax/pixelmix/internal/webhook"
	"github.com/dunamismax/pixelmix/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	if err := imaging.Startup(); err != nil {
		logger.Fatalf("imaging startup failed: %v", err)
	}
	defer imaging.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "pixelmix-worker", cfg.Telemetry, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	var jobStore interface {
		store.JobStore
		store.UsageStore
	}
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres job store: %v", err)
		}
		defer pg.Close()
		jobStore = pg
	} else {
		jobStore = store.NewMemoryJobStore()
	}

	var objectStore pipeline.ObjectStore
	storageClient, err := storage.NewClient(cfg.Storage, cfg.Imaging.MaxInputBytes*4)
	if err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else {
		objectStore = storageClient
	}

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s strict=%v",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Imaging.Strict,
	)

	srv := worker.NewServer(logger, cfg, objectStore, webhook.NewClient(cfg.Webhook), jobStore, jobStore)

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	// Run blocks until SIGTERM/SIGINT.
	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}
}
