package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dunamismax/pixelaug/internal/api"
	"github.com/dunamismax/pixelaug/internal/config"
	"github.com/dunamismax/pixelaug/internal/logging"
	"github.com/dunamismax/pixelaug/internal/progress"
	"github.com/dunamismax/pixelaug/internal/queue"
	"github.com/dunamismax/pixelaug/internal/storage"
	"github.com/dunamismax/pixelaug/internal/store"
	"github.com/dunamismax/pixelaug/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Logging(), "api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing.Trace("pixelaug-api"), logger)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close error", zap.Error(err))
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

	tracker, closeTracker, err := newTracker(cfg.Progress, cfg.Queue)
	if err != nil {
		logger.Fatal("progress tracker init failed", zap.Error(err))
	}
	defer func() { _ = closeTracker() }()

	app := api.NewServer(logger, api.Dependencies{
		Queue:      queueClient,
		Jobs:       jobStore,
		Storage:    storageClient,
		Progress:   tracker,
		PresignTTL: cfg.API.PresignExpiry,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.API.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newTracker(cfg config.ProgressConfig, queueCfg config.QueueConfig) (progress.Tracker, func() error, error) {
	if cfg.Backend == "memory" {
		return progress.NewMemoryTracker(), func() error { return nil }, nil
	}
	client := redis.NewClient(queueCfg.RedisOptions())
	tracker, err := progress.NewRedisTracker(client, cfg.TTL, cfg.KeyPrefix)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return tracker, client.Close, nil
}
