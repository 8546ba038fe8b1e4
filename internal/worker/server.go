package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/pixelstudio/internal/config"
	"github.com/dunamismax/pixelstudio/internal/domain"
	"github.com/dunamismax/pixelstudio/internal/effect"
	"github.com/dunamismax/pixelstudio/internal/pipeline"
	"github.com/dunamismax/pixelstudio/internal/queue"
	"github.com/dunamismax/pixelstudio/internal/store"
	"github.com/dunamismax/pixelstudio/internal/webhook"
)

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint string, payload webhook.Payload) error
}

type Server struct {
	logger     *zap.Logger
	server     *asynq.Server
	sem        chan struct{}
	processors map[string]processor
	webhooks   webhookSender
	jobStore   store.JobStore
	usageStore store.UsageStore
	metrics    *metrics
	tracer     trace.Tracer
	now        func() time.Time
}

func NewServer(
	logger *zap.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	objectStore pipeline.ObjectStore,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if objectStore == nil {
		return nil, fmt.Errorf("object store is required")
	}

	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}
	objectProcessor, err := pipeline.NewObjectStoreProcessor(
		pipeline.ObjectStoreFetcher{Storage: objectStore},
		pipeline.ObjectStoreEmitter{Storage: objectStore, OutputPrefix: workerCfg.OutputPrefix},
	)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	if usageStore == nil {
		if both, ok := jobStore.(store.UsageStore); ok {
			usageStore = both
		}
	}

	s := newServer(logger, max(1, workerCfg.MaxActiveJobs), map[string]processor{
		domain.SourceTypeLocalFile:   localProcessor,
		domain.SourceTypeS3Presigned: objectProcessor,
	}, jobStore, usageStore)
	if webhookClient != nil {
		s.webhooks = webhookClient
	}

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues:      map[string]int{queueCfg.Name: 1},
			Logger:      s.logger.Named("asynq").Sugar(),
			LogLevel:    asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				s.logger.Warn("task failed",
					zap.String("type", task.Type()),
					zap.Int("retry", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err),
				)
			}),
		},
	)
	return s, nil
}

func newServer(logger *zap.Logger, slots int, processors map[string]processor, jobStore store.JobStore, usageStore store.UsageStore) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:     logger,
		sem:        make(chan struct{}, slots),
		processors: processors,
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("pixelstudio/worker"),
		now:        time.Now,
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeApplyEffect, s.handleApplyEffect)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleApplyEffect(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseApplyEffectPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.apply(ctx, payload)
}

// apply runs one job. Permanent failures are wrapped with asynq.SkipRetry;
// the job is marked failed only once no retry remains.
func (s *Server) apply(ctx context.Context, payload queue.ApplyEffectPayload) error {
	startedAt := s.now()
	outcome := domain.JobStatusFailed
	effectLabel := string(payload.Effect)

	ctx, span := s.tracer.Start(ctx, "worker.apply_effect", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.effect", effectLabel),
		attribute.Float64("effect.brightness", payload.Params.Brightness),
		attribute.Float64("effect.scale", payload.Params.Scale),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(effectLabel, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(effectLabel, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log := s.logger.With(
		zap.String("job_id", payload.JobID),
		zap.String("effect", effectLabel),
		zap.String("source_type", payload.SourceType),
	)
	log.Info("applying effect", zap.String("object_key", payload.ObjectKey))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	proc, ok := s.processors[strings.ToLower(payload.SourceType)]
	if !ok {
		err := fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
		return s.fail(ctx, span, log, payload, err)
	}

	result, err := proc.Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Effect:     payload.Effect,
		Params:     payload.Params,
	})
	if err != nil {
		return s.fail(ctx, span, log, payload, err)
	}

	if s.jobStore != nil {
		if err := s.jobStore.SetOutput(ctx, payload.JobID, result.Output.Path); err != nil {
			log.Warn("output key update failed", zap.Error(err))
		}
	}
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.recordUsage(ctx, payload, result, time.Since(startedAt))

	log.Info("effect applied",
		zap.Int("width", result.Output.Width),
		zap.Int("height", result.Output.Height),
		zap.Stringer("mode", result.Output.Mode),
		zap.Int("bytes", result.Output.Bytes),
		zap.Duration("elapsed", time.Since(startedAt)),
	)

	s.dispatchWebhook(ctx, log, payload, webhook.Payload{
		Event:       webhook.EventJobCompleted,
		JobID:       payload.JobID,
		Status:      domain.JobStatusSucceeded,
		Effect:      effectLabel,
		OutputKey:   result.Output.Path,
		ContentType: result.Output.ContentType,
		Width:       result.Output.Width,
		Height:      result.Output.Height,
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "applied")
	return nil
}

func (s *Server) fail(ctx context.Context, span trace.Span, log *zap.Logger, payload queue.ApplyEffectPayload, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "apply effect failed")

	permanent := isPermanent(err)
	if !permanent && retriesLeft(ctx) {
		log.Warn("effect failed, will retry", zap.Error(err))
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
		return fmt.Errorf("apply effect: %w", err)
	}

	log.Error("effect failed", zap.Bool("permanent", permanent), zap.Error(err))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
	s.dispatchWebhook(ctx, log, payload, webhook.Payload{
		Event:  webhook.EventJobFailed,
		JobID:  payload.JobID,
		Status: domain.JobStatusFailed,
		Effect: string(payload.Effect),
		Error:  err.Error(),
	})

	if permanent {
		return fmt.Errorf("apply effect: %w: %w", err, asynq.SkipRetry)
	}
	return fmt.Errorf("apply effect: %w", err)
}

// isPermanent reports failures that no retry can fix.
func isPermanent(err error) bool {
	return errors.Is(err, effect.ErrInvalidImage) ||
		errors.Is(err, effect.ErrUnknownOption) ||
		errors.Is(err, effect.ErrInvalidParams) ||
		errors.Is(err, effect.ErrRepresentation) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType)
}

// retriesLeft is false outside an asynq handler.
func retriesLeft(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return retried < maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn("job status update failed",
			zap.String("job_id", jobID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

// dispatchWebhook never fails the job; the client retries on its own.
func (s *Server) dispatchWebhook(ctx context.Context, log *zap.Logger, payload queue.ApplyEffectPayload, body webhook.Payload) {
	if strings.TrimSpace(payload.WebhookURL) == "" || s.webhooks == nil {
		return
	}
	if err := s.webhooks.Send(ctx, payload.WebhookURL, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(body.Event).Inc()
		log.Warn("webhook delivery failed", zap.String("event", body.Event), zap.Error(err))
	}
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ApplyEffectPayload, result pipeline.Result, elapsed time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Warn("usage lookup failed", zap.String("job_id", payload.JobID), zap.Error(err))
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}
	if userID == "" {
		userID = "anonymous"
	}

	computeTimeMS := max(elapsed.Milliseconds(), 1)
	pixels := int64(result.Output.Width) * int64(result.Output.Height)

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		Effect:          string(payload.Effect),
		PixelsProcessed: pixels,
		InputBytes:      int64(result.SourceBytes),
		OutputBytes:     int64(result.Output.Bytes),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Warn("usage log write failed", zap.String("job_id", payload.JobID), zap.Error(err))
		return
	}

	s.metrics.pixelsProcessedTotal.WithLabelValues(usage.Effect).Add(float64(pixels))
	s.metrics.outputBytesTotal.Add(float64(usage.OutputBytes))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
