package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dunamismax/pixelstudio/internal/config"
	"github.com/dunamismax/pixelstudio/internal/logging"
	"github.com/dunamismax/pixelstudio/internal/pipeline"
	"github.com/dunamismax/pixelstudio/internal/storage"
	"github.com/dunamismax/pixelstudio/internal/store"
	"github.com/dunamismax/pixelstudio/internal/telemetry"
	"github.com/dunamismax/pixelstudio/internal/webhook"
	"github.com/dunamismax/pixelstudio/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Sugar().Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log, "worker")
	if err != nil {
		zap.NewExample().Sugar().Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	traceCfg := cfg.Tracing
	traceCfg.ServiceName = "pixelstudio-worker"
	shutdownTracing, err := telemetry.SetupTracing(ctx, traceCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	if err := pipeline.Startup(); err != nil {
		return err
	}
	defer pipeline.Shutdown()

	jobStore, closeStore, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		Region:   cfg.Storage.Region,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return err
	}

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		storageClient,
		webhook.NewClient(cfg.Webhook, logger),
		jobStore,
		jobStore,
	)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Int("max_active_jobs", cfg.Worker.MaxActiveJobs),
		zap.String("queue", cfg.Queue.Name),
		zap.String("redis", cfg.Queue.RedisAddr),
		zap.String("backend", pipeline.Backend),
		zap.String("metrics_addr", cfg.Worker.MetricsAddr),
	)
	return srv.Run()
}
