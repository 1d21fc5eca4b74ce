package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelmix/internal/api"
	"github.com/dunamismax/pixelmix/internal/config"
	"github.com/dunamismax/pixelmix/internal/queue"
	"github.com/dunamismax/pixelmix/internal/ratelimit"
	"github.com/dunamismax/pixelmix/internal/storage"
	"github.com/dunamismax/pixelmix/internal/store"
	"github.com/dunamismax/pixelmix/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "pixelmix-api", cfg.Telemetry, logger)
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

	queueClient := queue.NewClient(cfg.Queue)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	deps := api.Dependencies{
		Queue:        queueClient,
		UserIDHeader: cfg.RateLimit.UserIDHeader,
	}

	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres job store: %v", err)
		}
		defer pg.Close()
		deps.JobStore = pg
		logger.Printf("job store=postgres")
	} else {
		deps.JobStore = store.NewMemoryJobStore()
		logger.Printf("job store=memory")
	}

	storageClient, err := storage.NewClient(cfg.Storage, cfg.API.MaxBodyBytes)
	if err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else {
		deps.Storage = storageClient
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit, "")
		if err != nil {
			logger.Fatalf("rate limiter: %v", err)
		}
		deps.RateLimiter = limiter
		deps.ImageCost = int64(cfg.RateLimit.ImageCost)
		logger.Printf("rate limit capacity=%d window=%s image_cost=%d", cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.RateLimit.ImageCost)
	}

	app := api.NewServer(logger, deps, cfg.API, cfg.Imaging)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
