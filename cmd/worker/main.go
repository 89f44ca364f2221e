package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dunamismax/pixelaug/internal/config"
	"github.com/dunamismax/pixelaug/internal/logging"
	"github.com/dunamismax/pixelaug/internal/pipeline"
	"github.com/dunamismax/pixelaug/internal/progress"
	"github.com/dunamismax/pixelaug/internal/storage"
	"github.com/dunamismax/pixelaug/internal/store"
	"github.com/dunamismax/pixelaug/internal/telemetry"
	"github.com/dunamismax/pixelaug/internal/webhook"
	"github.com/dunamismax/pixelaug/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Logging(), "worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Startup(); err != nil {
		logger.Fatal("image runtime startup failed", zap.Error(err))
	}
	defer pipeline.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing.Trace("pixelaug-worker"), logger)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}
	defer func() { _ = closeStore() }()

	storageClient, err := storage.NewClient(cfg.Storage.Client())
	if err != nil {
		logger.Fatal("storage client init failed", zap.Error(err))
	}
	bucketCtx, cancelBucket := context.WithTimeout(ctx, 10*time.Second)
	if err := storageClient.EnsureBucket(bucketCtx); err != nil {
		logger.Warn("bucket check failed, s3_presigned jobs may fail", zap.Error(err))
	}
	cancelBucket()

	var tracker progress.Tracker = progress.NewMemoryTracker()
	if cfg.Progress.Backend != "memory" {
		client := redis.NewClient(cfg.Queue.RedisOptions())
		defer func() { _ = client.Close() }()
		redisTracker, err := progress.NewRedisTracker(client, cfg.Progress.TTL, cfg.Progress.KeyPrefix)
		if err != nil {
			logger.Fatal("progress tracker init failed", zap.Error(err))
		}
		tracker = redisTracker
	}

	logger.Info("starting worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Int("max_active_jobs", cfg.Worker.MaxActiveJobs),
		zap.Int("image_concurrency", cfg.Worker.ImageConcurrency),
		zap.String("queue", cfg.Queue.Name),
		zap.String("redis", cfg.Queue.RedisAddr),
	)

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, worker.Dependencies{
		Storage:      storageClient,
		OutputPrefix: cfg.Storage.OutputPrefix,
		Webhook:      webhook.NewClient(cfg.Webhook.Client(), logger.Named("webhook")),
		Jobs:         jobStore,
		Progress:     tracker,
	})
	if err != nil {
		logger.Fatal("worker init failed", zap.Error(err))
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.Worker.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// asynq's Run blocks until SIGINT/SIGTERM and shuts the server down itself.
	if err := srv.Run(); err != nil {
		logger.Error("worker failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
