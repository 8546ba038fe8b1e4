package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/pixelstudio/internal/domain"
	"github.com/dunamismax/pixelstudio/internal/effect"
	"github.com/dunamismax/pixelstudio/internal/pipeline"
	"github.com/dunamismax/pixelstudio/internal/queue"
	"github.com/dunamismax/pixelstudio/internal/store"
	"github.com/dunamismax/pixelstudio/internal/webhook"
)

type recordedWebhook struct {
	endpoint string
	payload  webhook.Payload
}

type captureWebhooks struct {
	mu   sync.Mutex
	sent []recordedWebhook
	err  error
}

func (c *captureWebhooks) Send(_ context.Context, endpoint string, payload webhook.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, recordedWebhook{endpoint: endpoint, payload: payload})
	return c.err
}

type failingProcessor struct{ err error }

func (f failingProcessor) Process(context.Context, pipeline.Request) (pipeline.Result, error) {
	return pipeline.Result{}, f.err
}

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(dir, "input.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func seedJob(t *testing.T, jobs *store.MemoryJobStore, id, objectKey string, opt effect.Option) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, jobs.Create(context.Background(), domain.Job{
		ID:         id,
		UserID:     "user-1",
		Status:     domain.JobStatusQueued,
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "https://hooks.example.com/pixelstudio",
		Effect:     opt,
		Params:     effect.DefaultParams(),
		ObjectKey:  objectKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
}

func newTestServer(t *testing.T, jobs *store.MemoryJobStore, procs map[string]processor) (*Server, *captureWebhooks) {
	t.Helper()
	hooks := &captureWebhooks{}
	s := newServer(nil, 2, procs, jobs, jobs)
	s.webhooks = hooks
	return s, hooks
}

func TestApplyRendersAndCompletesJob(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	input := writePNG(t, inputDir, 40, 30)

	local, err := pipeline.NewLocalProcessor(outputDir)
	require.NoError(t, err)

	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-1", input, effect.OptionResize)
	s, hooks := newTestServer(t, jobs, map[string]processor{domain.SourceTypeLocalFile: local})

	err = s.apply(context.Background(), queue.ApplyEffectPayload{
		JobID:      "job-1",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "https://hooks.example.com/pixelstudio",
		ObjectKey:  input,
		Effect:     effect.OptionResize,
		Params:     effect.Params{Brightness: 1, Scale: 2},
	})
	require.NoError(t, err)

	job, ok, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	assert.Equal(t, filepath.Join(outputDir, "job-1", effect.DownloadFilename), job.OutputKey)

	f, err := os.Open(job.OutputKey)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Width)
	assert.Equal(t, 60, cfg.Height)

	require.Len(t, hooks.sent, 1)
	assert.Equal(t, webhook.EventJobCompleted, hooks.sent[0].payload.Event)
	assert.Equal(t, 80, hooks.sent[0].payload.Width)

	usage := jobs.UsageLogs()
	require.Len(t, usage, 1)
	assert.Equal(t, "user-1", usage[0].UserID)
	assert.Equal(t, "resize", usage[0].Effect)
	assert.Equal(t, int64(80*60), usage[0].PixelsProcessed)
	assert.Positive(t, usage[0].InputBytes)
	assert.Positive(t, usage[0].OutputBytes)
}

func TestApplyUndecodableInputSkipsRetry(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.png")
	require.NoError(t, os.WriteFile(input, []byte("definitely not an image"), 0o644))

	local, err := pipeline.NewLocalProcessor(t.TempDir())
	require.NoError(t, err)

	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-2", input, effect.OptionGreyscale)
	s, hooks := newTestServer(t, jobs, map[string]processor{domain.SourceTypeLocalFile: local})

	err = s.apply(context.Background(), queue.ApplyEffectPayload{
		JobID:      "job-2",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "https://hooks.example.com/pixelstudio",
		ObjectKey:  input,
		Effect:     effect.OptionGreyscale,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	job, _, err := jobs.Get(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.Len(t, hooks.sent, 1)
	assert.Equal(t, webhook.EventJobFailed, hooks.sent[0].payload.Event)
	assert.NotEmpty(t, hooks.sent[0].payload.Error)
	assert.Empty(t, jobs.UsageLogs())
}

func TestApplyUnknownSourceTypeIsPermanent(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	s, _ := newTestServer(t, jobs, map[string]processor{})

	err := s.apply(context.Background(), queue.ApplyEffectPayload{
		JobID:      "job-3",
		SourceType: "ftp",
		Effect:     effect.OptionEnhance,
	})
	require.ErrorIs(t, err, pipeline.ErrUnsupportedSourceType)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestApplyTransientFailureOutsideAsynqIsFinal(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-4", "uploads/job-4/source", effect.OptionEnhance)
	transient := errors.New("connection reset")
	s, hooks := newTestServer(t, jobs, map[string]processor{
		domain.SourceTypeLocalFile: failingProcessor{err: transient},
	})

	err := s.apply(context.Background(), queue.ApplyEffectPayload{
		JobID:      "job-4",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "https://hooks.example.com/pixelstudio",
		Effect:     effect.OptionEnhance,
	})
	require.ErrorIs(t, err, transient)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	job, _, _ := jobs.Get(context.Background(), "job-4")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.Len(t, hooks.sent, 1)
}

func TestWebhookFailureDoesNotFailJob(t *testing.T) {
	input := writePNG(t, t.TempDir(), 8, 8)
	local, err := pipeline.NewLocalProcessor(t.TempDir())
	require.NoError(t, err)

	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-5", input, effect.OptionBrightness)
	s, hooks := newTestServer(t, jobs, map[string]processor{domain.SourceTypeLocalFile: local})
	hooks.err = errors.New("receiver down")

	err = s.apply(context.Background(), queue.ApplyEffectPayload{
		JobID:      "job-5",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "https://hooks.example.com/pixelstudio",
		ObjectKey:  input,
		Effect:     effect.OptionBrightness,
		Params:     effect.Params{Brightness: 1.5, Scale: 2},
	})
	require.NoError(t, err)

	job, _, _ := jobs.Get(context.Background(), "job-5")
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
}

func TestRecordUsageFallsBackToAnonymous(t *testing.T) {
	usage := store.NewMemoryJobStore()
	s := newServer(nil, 1, nil, nil, usage)

	s.recordUsage(context.Background(), queue.ApplyEffectPayload{JobID: "job-6", Effect: effect.OptionHDResize}, pipeline.Result{
		SourceBytes: 1_000,
		Output:      pipeline.Output{Width: effect.HDWidth, Height: effect.HDHeight, Bytes: 4_000},
	}, 0)

	logs := usage.UsageLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "anonymous", logs[0].UserID)
	assert.Equal(t, int64(1280*720), logs[0].PixelsProcessed)
	assert.Equal(t, int64(1), logs[0].ComputeTimeMS)
	assert.Equal(t, int64(4_000), logs[0].OutputBytes)
}

func TestHandleApplyEffectRejectsBadPayload(t *testing.T) {
	s := newServer(nil, 1, nil, nil, nil)
	err := s.handleApplyEffect(context.Background(), asynq.NewTask(queue.TypeApplyEffect, []byte(`{"job_id":"x","effect":"sepia"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
