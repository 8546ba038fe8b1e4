package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/pixelstudio/internal/effect"
)

func TestLocalProcessor_FileInEffectFileOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")

	srcBytes := buildTestPNG(t, 240, 120)
	if err := os.WriteFile(inputPath, srcBytes, 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	processor, err := NewLocalProcessor(outputDir)
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-local-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Effect:     effect.OptionComposite,
		Params:     effect.Params{Brightness: 1.5, Scale: 2},
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	out := result.Output
	if want := filepath.Join(outputDir, "job-local-1", "processed_image.png"); out.Path != want {
		t.Fatalf("expected output path %s, got %s", want, out.Path)
	}
	if out.ContentType != "image/png" {
		t.Fatalf("expected image/png, got %s", out.ContentType)
	}
	if out.Width != 1280 || out.Height != 720 {
		t.Fatalf("expected 1280x720, got %dx%d", out.Width, out.Height)
	}
	if result.SourceBytes != len(srcBytes) {
		t.Fatalf("expected source bytes %d, got %d", len(srcBytes), result.SourceBytes)
	}

	img := decodeFile(t, out.Path)
	if got := img.Bounds().Size(); got != (image.Point{X: 1280, Y: 720}) {
		t.Fatalf("expected decoded size 1280x720, got %v", got)
	}
}

func TestLocalProcessor_GreyscaleWritesSingleChannelPNG(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	if err := os.WriteFile(inputPath, buildTestPNG(t, 64, 48), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	processor, err := NewLocalProcessor(filepath.Join(tmp, "out"))
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-grey",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Effect:     effect.OptionGreyscale,
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}
	if result.Output.Mode != effect.ModeGray {
		t.Fatalf("expected gray mode, got %s", result.Output.Mode)
	}

	img := decodeFile(t, result.Output.Path)
	if _, ok := img.(*image.Gray); !ok {
		t.Fatalf("expected *image.Gray, got %T", img)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Fatalf("expected 64x48, got %v", img.Bounds())
	}
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir())
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job/source",
		Effect:     effect.OptionEnhance,
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected unsupported source_type error, got %v", err)
	}
}

func TestProcessor_RejectsUnknownEffectAndBadInput(t *testing.T) {
	processor := &Processor{
		fetcher:  staticFetcher{data: []byte("not an image")},
		renderer: imagingRenderer{},
		emitter:  discardEmitter{},
	}

	_, err := processor.Process(context.Background(), Request{JobID: "job-1", Effect: "sepia"})
	if !errors.Is(err, effect.ErrUnknownOption) {
		t.Fatalf("expected unknown option error, got %v", err)
	}

	_, err = processor.Process(context.Background(), Request{JobID: "job-1", Effect: effect.OptionEnhance})
	if !errors.Is(err, effect.ErrInvalidImage) {
		t.Fatalf("expected invalid image error, got %v", err)
	}

	_, err = processor.Process(context.Background(), Request{Effect: effect.OptionEnhance})
	if err == nil {
		t.Fatal("expected missing job_id error")
	}
}

func TestObjectStoreStages(t *testing.T) {
	store := &memoryObjectStore{objects: map[string][]byte{
		"uploads/job-9/source": buildTestPNG(t, 50, 40),
	}}

	processor, err := NewObjectStoreProcessor(
		ObjectStoreFetcher{Storage: store},
		ObjectStoreEmitter{Storage: store},
	)
	if err != nil {
		t.Fatalf("new object-store processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-9",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-9/source",
		Effect:     effect.OptionResize,
		Params:     effect.Params{Scale: 1.5},
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	if result.Output.Path != "outputs/job-9/processed_image.png" {
		t.Fatalf("unexpected object key %s", result.Output.Path)
	}
	if store.contentTypes[result.Output.Path] != "image/png" {
		t.Fatalf("expected image/png content type, got %q", store.contentTypes[result.Output.Path])
	}
	if result.Output.Width != 75 || result.Output.Height != 60 {
		t.Fatalf("expected 75x60, got %dx%d", result.Output.Width, result.Output.Height)
	}
}

func TestSanitizePathToken(t *testing.T) {
	if got := sanitizePathToken("../etc/passwd"); got != "___etc_passwd" {
		t.Fatalf("unexpected sanitized token %q", got)
	}
	if got := sanitizePathToken("  "); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}

type memoryObjectStore struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func (s *memoryObjectStore) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

func (s *memoryObjectStore) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	if s.contentTypes == nil {
		s.contentTypes = make(map[string]string)
	}
	s.objects[key] = data
	s.contentTypes[key] = contentType
	return nil
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func decodeFile(t *testing.T, path string) image.Image {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image %s: %v", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode image %s: %v", path, err)
	}
	return img
}
