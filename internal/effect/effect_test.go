package effect

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGreyscaleKeepsSizeAndDropsChannels(t *testing.T) {
	src := NewImage(gradient(40, 30))

	out := Greyscale(src)

	assert.Equal(t, ModeGray, out.Mode())
	assert.Equal(t, 40, out.Width())
	assert.Equal(t, 30, out.Height())
	_, ok := out.Pixels().(*image.Gray)
	assert.True(t, ok, "expected *image.Gray, got %T", out.Pixels())
}

func TestGreyscaleUsesLuma(t *testing.T) {
	src := solid(4, 4, color.NRGBA{R: 255, A: 255})

	out := Greyscale(NewImage(src)).Pixels().(*image.Gray)

	assert.InDelta(t, 76, int(out.GrayAt(1, 1).Y), 1)
}

func TestResizeRoundsScaledDimensions(t *testing.T) {
	src := NewImage(gradient(33, 21))

	for _, scale := range []float64{1.0, 1.5, 2.0, 2.5, 4.0} {
		out, err := Resize(src, scale)
		require.NoError(t, err)

		wantW, wantH := ScaledSize(33, 21, scale)
		assert.Equal(t, wantW, out.Width(), "scale=%v", scale)
		assert.Equal(t, wantH, out.Height(), "scale=%v", scale)
	}

	w, h := ScaledSize(33, 21, 1.5)
	assert.Equal(t, 50, w)
	assert.Equal(t, 32, h)
}

func TestResizeRejectsNonPositiveScale(t *testing.T) {
	_, err := Resize(NewImage(gradient(8, 8)), 0)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestHDResizeAlwaysProduces1280x720(t *testing.T) {
	for _, size := range []image.Point{{400, 300}, {1920, 1080}, {17, 9}, {720, 1280}} {
		out := HDResize(NewImage(gradient(size.X, size.Y)))
		assert.Equal(t, HDWidth, out.Width(), "input %v", size)
		assert.Equal(t, HDHeight, out.Height(), "input %v", size)
	}
}

func TestEnhanceSteepensEdges(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			v := uint8(100)
			if x >= 5 {
				v = 150
			}
			src.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}

	out := Enhance(NewImage(src)).Pixels().(*image.NRGBA)

	assert.Less(t, out.NRGBAAt(4, 5).R, uint8(100))
	assert.Greater(t, out.NRGBAAt(5, 5).R, uint8(150))
	assert.Equal(t, uint8(100), out.NRGBAAt(0, 5).R, "edge pixels are copied")
	assert.Equal(t, uint8(100), out.NRGBAAt(2, 5).R, "flat areas are unchanged")
}

func TestBrightnessScalesAndClips(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 100, G: 50, B: 10, A: 128})
	src.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 200, B: 200, A: 255})

	out := Brightness(NewImage(src), 1.5).Pixels().(*image.NRGBA)

	assert.Equal(t, color.NRGBA{R: 150, G: 75, B: 15, A: 128}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, out.NRGBAAt(1, 0))
}

func TestApplyCompositeMatchesManualSequence(t *testing.T) {
	src := NewImage(gradient(64, 48))
	params := Params{Brightness: 1.3, Scale: 1.5}

	got, err := Apply(context.Background(), src, OptionCompositeGrey, params)
	require.NoError(t, err)

	manual := Enhance(src)
	manual = Brightness(manual, params.Brightness)
	manual, err = Resize(manual, params.Scale)
	require.NoError(t, err)
	manual = HDResize(manual)
	manual = Greyscale(manual)

	assert.Equal(t, ModeGray, got.Mode())
	assert.Equal(t, Normalize(manual).(*image.Gray).Pix, Normalize(got).(*image.Gray).Pix)

	noGrey, err := Apply(context.Background(), src, OptionComposite, params)
	require.NoError(t, err)

	manualColor := Enhance(src)
	manualColor = Brightness(manualColor, params.Brightness)
	manualColor, err = Resize(manualColor, params.Scale)
	require.NoError(t, err)
	manualColor = HDResize(manualColor)

	assert.Equal(t, ModeColor, noGrey.Mode())
	assert.Equal(t, HDWidth, noGrey.Width())
	assert.Equal(t, HDHeight, noGrey.Height())
	assert.Equal(t, Normalize(manualColor).(*image.NRGBA).Pix, Normalize(noGrey).(*image.NRGBA).Pix)
}

func TestApplySingleStepOptions(t *testing.T) {
	src := NewImage(gradient(50, 40))
	ctx := context.Background()

	for _, opt := range Options() {
		out, err := Apply(ctx, src, opt, DefaultParams())
		require.NoError(t, err, "option %s", opt)

		steps := opt.Steps()
		if steps[len(steps)-1] == StepGreyscale {
			assert.Equal(t, ModeGray, out.Mode(), "option %s", opt)
		} else {
			assert.Equal(t, ModeColor, out.Mode(), "option %s", opt)
		}
	}
}

func TestApplyBoundaryParams(t *testing.T) {
	src := NewImage(gradient(30, 20))
	ctx := context.Background()

	base, err := Apply(ctx, src, OptionBrightness, DefaultParams())
	require.NoError(t, err)
	for _, b := range []float64{MinBrightness, MaxBrightness} {
		out, err := Apply(ctx, src, OptionBrightness, Params{Brightness: b, Scale: DefaultScale})
		require.NoError(t, err)
		assert.NotEqual(t, meanLuma(Normalize(base)), meanLuma(Normalize(out)), "brightness=%v", b)
	}

	base, err = Apply(ctx, src, OptionResize, DefaultParams())
	require.NoError(t, err)
	for _, s := range []float64{MinScale, MaxScale} {
		out, err := Apply(ctx, src, OptionResize, Params{Brightness: DefaultBrightness, Scale: s})
		require.NoError(t, err)
		assert.NotEqual(t, base.Width(), out.Width(), "scale=%v", s)
	}
}

func TestApplyCompositeEndToEnd(t *testing.T) {
	src := NewImage(gradient(400, 300))

	out, err := Apply(context.Background(), src, OptionComposite, Params{Brightness: 1.5, Scale: 2.0})
	require.NoError(t, err)

	assert.Equal(t, ModeColor, out.Mode())
	assert.Equal(t, 1280, out.Width())
	assert.Equal(t, 720, out.Height())

	plain := HDResize(src)
	assert.Greater(t, meanLuma(Normalize(out)), meanLuma(Normalize(plain)))
}

func TestApplyRejectsEmptySourceAndUnknownOption(t *testing.T) {
	_, err := Apply(context.Background(), Image{}, OptionGreyscale, DefaultParams())
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = Apply(context.Background(), NewImage(gradient(4, 4)), Option("sepia"), DefaultParams())
	assert.ErrorIs(t, err, ErrUnknownOption)
}

func TestApplyStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Apply(ctx, NewImage(gradient(4, 4)), OptionComposite, DefaultParams())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEncodePNGRoundTrip(t *testing.T) {
	colour, err := Apply(context.Background(), NewImage(gradient(37, 23)), OptionEnhance, DefaultParams())
	require.NoError(t, err)
	grey := Greyscale(colour)

	for _, img := range []Image{colour, grey} {
		data, err := EncodePNG(img)
		require.NoError(t, err)

		decoded, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)

		want := Normalize(img)
		require.Equal(t, want.Bounds(), decoded.Bounds())
		for y := 0; y < want.Bounds().Dy(); y++ {
			for x := 0; x < want.Bounds().Dx(); x++ {
				if img.Mode() == ModeGray {
					require.Equal(t, want.At(x, y), color.GrayModel.Convert(decoded.At(x, y)))
				} else {
					require.Equal(t, want.At(x, y), color.NRGBAModel.Convert(decoded.At(x, y)))
				}
			}
		}
	}
}

func TestEncodePNGRejectsEmptyImage(t *testing.T) {
	_, err := EncodePNG(Image{})
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestNormalizeReanchorsSubImages(t *testing.T) {
	sub := gradient(20, 20).SubImage(image.Rect(5, 5, 15, 12))

	out := Normalize(NewImage(sub))

	assert.Equal(t, image.Rect(0, 0, 10, 7), out.Bounds())
	_, ok := out.(*image.NRGBA)
	assert.True(t, ok)
}

func TestDecode(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = Decode([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrInvalidImage)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(12, 8)))
	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 12, img.Width())
	assert.Equal(t, 8, img.Height())
	assert.Equal(t, ModeColor, img.Mode())
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	data := oversizedPNG(t, 12000, 12000)

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 12000, cfg.Width)

	_, err = Decode(data)
	require.ErrorIs(t, err, ErrInvalidImage)
	assert.ErrorIs(t, err, ErrTooManyPixels)
	assert.ErrorIs(t, CheckEncoded(data), ErrInvalidImage)
}

func TestCheckEncodedIgnoresUnknownFormats(t *testing.T) {
	assert.NoError(t, CheckEncoded([]byte("not an image header")))
}

func TestResizeRejectsOversizedOutput(t *testing.T) {
	src := NewImage(image.NewNRGBA(image.Rect(0, 0, 2500, 2500)))

	_, err := Resize(src, MaxScale)
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = Apply(context.Background(), src, OptionResize, Params{Scale: MaxScale})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestCheckBounds(t *testing.T) {
	assert.NoError(t, CheckSource(9000, 9000))
	assert.ErrorIs(t, CheckSource(10000, 10000), ErrTooManyPixels)
	assert.NoError(t, CheckOutput(HDWidth, HDHeight))
	assert.ErrorIs(t, CheckOutput(48000, 48000), ErrInvalidParams)
}

// oversizedPNG returns a 1x1 PNG whose header claims w x h.
func oversizedPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	data := buf.Bytes()

	// signature(8) | length(4) | "IHDR"(4) | width(4) height(4) ... | crc(4)
	binary.BigEndian.PutUint32(data[16:20], uint32(w))
	binary.BigEndian.PutUint32(data[20:24], uint32(h))
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func meanLuma(img image.Image) float64 {
	b := img.Bounds()
	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
	return sum / float64(b.Dx()*b.Dy())
}
