package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/pixelstudio/internal/logging"
	"github.com/dunamismax/pixelstudio/internal/pipeline"
	"github.com/dunamismax/pixelstudio/internal/queue"
	"github.com/dunamismax/pixelstudio/internal/ratelimit"
	"github.com/dunamismax/pixelstudio/internal/store"
	"github.com/dunamismax/pixelstudio/internal/web"
)

type Enqueuer interface {
	EnqueueApplyEffect(ctx context.Context, payload queue.ApplyEffectPayload) (*asynq.TaskInfo, error)
}

type ObjectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration, filename string) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type Options struct {
	MaxUploadBytes int64
	PresignTTL     time.Duration
	// UserIDHeader names the caller for rate limiting and job ownership.
	UserIDHeader string
}

type Deps struct {
	Logger   *zap.Logger
	Queue    Enqueuer
	Jobs     store.JobStore
	Storage  ObjectStorage
	Renderer pipeline.Renderer
	Limiter  ratelimit.Limiter
}

type Server struct {
	logger       *zap.Logger
	queue        Enqueuer
	jobs         store.JobStore
	storage      ObjectStorage
	renderer     pipeline.Renderer
	limiter      ratelimit.Limiter
	web          *web.Handler
	metrics      *metrics
	tracer       trace.Tracer
	maxUpload    int64
	presignTTL   time.Duration
	userIDHeader string
	now          func() time.Time
	router       chi.Router
}

func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Jobs == nil {
		return nil, errors.New("job store is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Storage == nil {
		deps.Storage = unavailableObjectStorage{}
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.UserIDHeader == "" {
		opts.UserIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:       deps.Logger,
		queue:        deps.Queue,
		jobs:         deps.Jobs,
		storage:      deps.Storage,
		renderer:     deps.Renderer,
		limiter:      deps.Limiter,
		web:          web.NewHandler(deps.Renderer, deps.Logger, opts.MaxUploadBytes),
		metrics:      newMetrics(),
		tracer:       otel.Tracer("pixelstudio/api"),
		maxUpload:    opts.MaxUploadBytes,
		presignTTL:   opts.PresignTTL,
		userIDHeader: opts.UserIDHeader,
		now:          time.Now,
	}
	s.router = s.routes()
	return s, nil
}

type unavailableObjectStorage struct{}

var errStorageUnavailable = errors.New("object storage is unavailable")

func (unavailableObjectStorage) PresignedPutURL(context.Context, string, time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) PresignedGetURL(context.Context, string, time.Duration, string) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) ObjectExists(context.Context, string) (bool, error) {
	return false, errStorageUnavailable
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.HTTPMiddleware(s.logger),
		middleware.Recoverer,
		s.metrics.withHTTPMetrics,
		s.withTracing,
	)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler())

	r.Get("/", s.web.Studio)
	r.Get("/classic", s.web.Classic)
	r.With(s.withRateLimit).Post("/ui/process", s.web.Process)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/effects", s.handleListEffects)
		r.With(s.withRateLimit).Post("/effects", s.handleApplyEffect)

		r.Route("/jobs", func(r chi.Router) {
			r.With(s.withRateLimit).Post("/", s.handleCreateJob)
			r.Get("/{jobID}", s.handleGetJob)
			r.With(s.withRateLimit).Post("/{jobID}/start", s.handleStartJob)
			r.Get("/{jobID}/download", s.handleDownloadJob)
		})
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": pipeline.Backend,
	})
}
