//go:build gocv && cgo && !govips

package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/dunamismax/pixelstudio/internal/effect"
)

func TestGocvEnhanceMatchesImaging(t *testing.T) {
	data := buildTestPNG(t, 48, 32)

	rendered, err := gocvRenderer{}.Render(context.Background(), data, effect.OptionEnhance, effect.DefaultParams())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	got, err := png.Decode(bytes.NewReader(rendered.Data))
	if err != nil {
		t.Fatalf("decode rendered png: %v", err)
	}

	src, err := effect.Decode(data)
	if err != nil {
		t.Fatalf("decode source: %v", err)
	}
	want := effect.Normalize(effect.Enhance(src)).(*image.NRGBA)

	b := want.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gr, gg, gb, _ := got.At(x, y).RGBA()
			w := want.NRGBAAt(x, y)
			for _, d := range []int{int(gr>>8) - int(w.R), int(gg>>8) - int(w.G), int(gb>>8) - int(w.B)} {
				if d > 2 || d < -2 {
					t.Fatalf("pixel (%d,%d) differs: got %v want %v", x, y, got.At(x, y), w)
				}
			}
		}
	}
}
