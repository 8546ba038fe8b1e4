package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dunamismax/pixelstudio/internal/api"
	"github.com/dunamismax/pixelstudio/internal/config"
	"github.com/dunamismax/pixelstudio/internal/logging"
	"github.com/dunamismax/pixelstudio/internal/pipeline"
	"github.com/dunamismax/pixelstudio/internal/queue"
	"github.com/dunamismax/pixelstudio/internal/ratelimit"
	"github.com/dunamismax/pixelstudio/internal/storage"
	"github.com/dunamismax/pixelstudio/internal/store"
	"github.com/dunamismax/pixelstudio/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log, "api")
	if err != nil {
		fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceCfg := cfg.Tracing
	traceCfg.ServiceName = "pixelstudio-api"
	shutdownTracing, err := telemetry.SetupTracing(ctx, traceCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	if err := pipeline.Startup(); err != nil {
		return err
	}
	defer pipeline.Shutdown()

	renderer, err := pipeline.NewRenderer()
	if err != nil {
		return err
	}

	jobStore, closeStore, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}()

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
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Warn("bucket check failed, object-store jobs will fail until it is reachable", zap.Error(err))
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close failed", zap.Error(err))
		}
	}()

	limiter, closeLimiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	app, err := api.NewServer(api.Options{
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		PresignTTL:     cfg.API.PresignTTL,
		UserIDHeader:   cfg.API.RateLimit.UserIDHeader,
	}, api.Deps{
		Logger:   logger,
		Queue:    queueClient,
		Jobs:     jobStore,
		Storage:  storageClient,
		Renderer: renderer,
		Limiter:  limiter,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.API.Addr),
			zap.String("backend", pipeline.Backend),
			zap.String("store", cfg.Store.Driver),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}

// newLimiter prefers the shared Redis bucket and falls back to a
// per-process one when Redis does not answer.
func newLimiter(ctx context.Context, cfg config.Config, logger *zap.Logger) (ratelimit.Limiter, func(), error) {
	noop := func() {}
	rl := cfg.API.RateLimit
	if !rl.Enabled {
		return nil, noop, nil
	}
	opts := ratelimit.Options{Capacity: rl.Capacity, Window: rl.Window}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		logger.Warn("redis unavailable, using in-process rate limiter", zap.Error(err))
		local, err := ratelimit.NewLocalBucket(opts)
		return local, noop, err
	}

	bucket, err := ratelimit.NewRedisBucket(client, opts)
	if err != nil {
		_ = client.Close()
		return nil, noop, err
	}
	return bucket, func() { _ = client.Close() }, nil
}

func fatalf(format string, args ...any) {
	logger, _ := zap.NewProduction()
	logger.Sugar().Fatalf(format, args...)
	os.Exit(1)
}
