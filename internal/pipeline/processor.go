package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelstudio/internal/domain"
	"github.com/dunamismax/pixelstudio/internal/effect"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Effect     effect.Option
	Params     effect.Params
}

type Output struct {
	Effect      string      `json:"effect"`
	Path        string      `json:"path"`
	ContentType string      `json:"content_type"`
	Bytes       int         `json:"bytes"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Mode        effect.Mode `json:"mode"`
	Success     bool        `json:"success"`
}

type Result struct {
	Output      Output
	SourceBytes int
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, rendered Rendered) (Output, error)
}

type Processor struct {
	fetcher  Fetcher
	renderer Renderer
	emitter  Emitter
}

func NewProcessor(fetcher Fetcher, emitter Emitter) (*Processor, error) {
	if fetcher == nil || emitter == nil {
		return nil, errors.New("fetcher and emitter are required")
	}

	renderer, err := newRenderer()
	if err != nil {
		return nil, fmt.Errorf("build renderer: %w", err)
	}

	return &Processor{
		fetcher:  fetcher,
		renderer: renderer,
		emitter:  emitter,
	}, nil
}

func NewLocalProcessor(outputDir string) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir})
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if !req.Effect.Valid() {
		return Result{}, fmt.Errorf("%w: %q", effect.ErrUnknownOption, req.Effect)
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	rendered, err := p.renderer.Render(ctx, sourceBytes, req.Effect, req.Params)
	if err != nil {
		return Result{}, fmt.Errorf("render stage effect=%s: %w", req.Effect, err)
	}

	written, err := p.emitter.Emit(ctx, req, rendered)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage effect=%s: %w", req.Effect, err)
	}

	return Result{
		Output:      written,
		SourceBytes: len(sourceBytes),
	}, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, rendered Rendered) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, effect.DownloadFilename)
	if err := os.WriteFile(fullPath, rendered.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return newOutput(req, rendered, fullPath), nil
}

func newOutput(req Request, rendered Rendered, path string) Output {
	return Output{
		Effect:      string(req.Effect),
		Path:        path,
		ContentType: effect.DownloadContentType,
		Bytes:       len(rendered.Data),
		Width:       rendered.Width,
		Height:      rendered.Height,
		Mode:        rendered.Mode,
		Success:     true,
	}
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
