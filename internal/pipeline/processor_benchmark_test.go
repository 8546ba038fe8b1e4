package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/dunamismax/pixelstudio/internal/effect"
)

func BenchmarkProcessorComposite(b *testing.B) {
	benchmarkEffect(b, effect.OptionComposite)
}

func BenchmarkProcessorGreyscale(b *testing.B) {
	benchmarkEffect(b, effect.OptionGreyscale)
}

func benchmarkEffect(b *testing.B, opt effect.Option) {
	source := buildTestPNG(b, 1920, 1080)
	processor, err := NewLocalProcessor(b.TempDir())
	if err != nil {
		b.Fatalf("new local processor: %v", err)
	}
	processor.fetcher = staticFetcher{data: source}
	processor.emitter = discardEmitter{}

	req := Request{
		JobID:      "bench",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  "ignored.png",
		Effect:     opt,
		Params:     effect.DefaultParams(),
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-%s-%d", opt, i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, req Request, rendered Rendered) (Output, error) {
	return newOutput(req, rendered, ""), nil
}
