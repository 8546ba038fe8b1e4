package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dunamismax/pixelstudio/internal/domain"
	"github.com/dunamismax/pixelstudio/internal/effect"
	"github.com/dunamismax/pixelstudio/internal/id"
	"github.com/dunamismax/pixelstudio/internal/logging"
	"github.com/dunamismax/pixelstudio/internal/queue"
)

type jobView struct {
	JobID       string        `json:"job_id"`
	Status      string        `json:"status"`
	SourceType  string        `json:"source_type"`
	Effect      effect.Option `json:"effect"`
	EffectLabel string        `json:"effect_label"`
	Params      effect.Params `json:"params"`
	ObjectKey   string        `json:"object_key"`
	OutputKey   string        `json:"output_key,omitempty"`
	DownloadURL string        `json:"download_url,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func newJobView(job domain.Job) jobView {
	v := jobView{
		JobID:       job.ID,
		Status:      job.Status,
		SourceType:  job.SourceType,
		Effect:      job.Effect,
		EffectLabel: job.Effect.Label(),
		Params:      job.Params,
		ObjectKey:   job.ObjectKey,
		OutputKey:   job.OutputKey,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	if job.Status == domain.JobStatusSucceeded && job.OutputKey != "" {
		v.DownloadURL = fmt.Sprintf("/v1/jobs/%s/download", job.ID)
	}
	return v
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log := logging.FromContext(r.Context())
	now := s.now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			log.Error("presign upload failed", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     strings.TrimSpace(r.Header.Get(s.userIDHeader)),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: req.WebhookURL,
		Effect:     req.EffectOption(),
		Params:     req.EffectParams(),
		ObjectKey:  objectKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobs.Create(r.Context(), job); err != nil {
		log.Error("create job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job":    newJobView(job),
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

// loadJob writes the error response itself and reports whether to go on.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	job, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		logging.FromContext(r.Context()).Error("load job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue is unavailable")
		return
	}
	if job.Status != domain.JobStatusCreated && job.Status != domain.JobStatusFailed {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}
	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	log := logging.FromContext(r.Context()).With(zap.String("job_id", job.ID))
	taskInfo, err := s.queue.EnqueueApplyEffect(r.Context(), queue.PayloadForJob(job, s.now()))
	if errors.Is(err, queue.ErrAlreadyQueued) {
		writeError(w, http.StatusConflict, "job is already queued")
		return
	}
	if err != nil {
		log.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue, string(job.Effect)).Inc()

	if _, err := s.jobs.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		log.Warn("update status failed", zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"effect":      job.Effect,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

// handleDownloadJob streams local outputs and redirects to a presigned URL
// for object-store outputs.
func (s *Server) handleDownloadJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusSucceeded || job.OutputKey == "" {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}

	if job.SourceType == domain.SourceTypeLocalFile {
		f, err := os.Open(job.OutputKey)
		if err != nil {
			writeError(w, http.StatusNotFound, "output is no longer available")
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read output")
			return
		}
		w.Header().Set("Content-Type", effect.DownloadContentType)
		w.Header().Set("Content-Disposition", attachmentDisposition)
		http.ServeContent(w, r, effect.DownloadFilename, info.ModTime(), f)
		return
	}

	url, err := s.storage.PresignedGetURL(r.Context(), job.OutputKey, s.presignTTL, effect.DownloadFilename)
	if err != nil {
		logging.FromContext(r.Context()).Error("presign download failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate download URL")
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}
