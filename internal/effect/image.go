package effect

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DownloadFilename    = "processed_image.png"
	DownloadContentType = "image/png"
)

var (
	ErrInvalidImage  = errors.New("invalid or undecodable image")
	ErrInvalidParams = errors.New("invalid effect parameters")

	// ErrTooManyPixels is an ErrInvalidImage for sources above MaxPixels.
	ErrTooManyPixels = fmt.Errorf("%w: too many pixels", ErrInvalidImage)

	// ErrRepresentation marks an encode-boundary invariant violation.
	ErrRepresentation = errors.New("image representation mismatch")
)

// Mode is the channel layout of an Image.
type Mode uint8

const (
	ModeColor Mode = iota
	ModeGray
)

func (m Mode) String() string {
	if m == ModeGray {
		return "gray"
	}
	return "color"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Image is the one value type that flows through the pipeline. The mode is
// set by whichever step produced the pixels; only the greyscale step yields
// ModeGray.
type Image struct {
	pix  image.Image
	mode Mode
}

// NewImage wraps a decoded raster as a colour image.
func NewImage(img image.Image) Image {
	return Image{pix: img, mode: ModeColor}
}

func grayImage(img *image.Gray) Image {
	return Image{pix: img, mode: ModeGray}
}

func (i Image) Pixels() image.Image { return i.pix }
func (i Image) Mode() Mode          { return i.mode }

func (i Image) Empty() bool {
	return i.pix == nil || i.pix.Bounds().Empty()
}

func (i Image) Width() int {
	if i.pix == nil {
		return 0
	}
	return i.pix.Bounds().Dx()
}

func (i Image) Height() int {
	if i.pix == nil {
		return 0
	}
	return i.pix.Bounds().Dy()
}

// MaxPixels bounds decoded rasters and planned resize outputs. It is
// Pillow's default decompression-bomb threshold.
const MaxPixels = 89_478_485

// CheckSource rejects a source raster of w x h above MaxPixels.
func CheckSource(w, h int) error {
	if exceedsMaxPixels(w, h) {
		return fmt.Errorf("%w: %dx%d exceeds %d", ErrTooManyPixels, w, h, MaxPixels)
	}
	return nil
}

// CheckOutput rejects a planned output raster of w x h above MaxPixels.
func CheckOutput(w, h int) error {
	if exceedsMaxPixels(w, h) {
		return fmt.Errorf("%w: output %dx%d exceeds %d pixels", ErrInvalidParams, w, h, MaxPixels)
	}
	return nil
}

func exceedsMaxPixels(w, h int) bool {
	return int64(w)*int64(h) > MaxPixels
}

// CheckEncoded reads only the header of data and rejects oversized images.
// Formats without a registered Go decoder pass through for the backend to judge.
func CheckEncoded(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return CheckSource(cfg.Width, cfg.Height)
}

// Decode reads a JPEG, PNG or WebP byte stream. The header is checked
// against MaxPixels before any pixel memory is allocated.
func Decode(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty input", ErrInvalidImage)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := CheckSource(cfg.Width, cfg.Height); err != nil {
		return Image{}, err
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	out := NewImage(img)
	if out.Empty() {
		return Image{}, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}
	return out, nil
}

// Normalize converts img to the canonical raster for its mode: *image.Gray
// for ModeGray, *image.NRGBA otherwise. Both are anchored at the origin.
// The conversion is applied on every call regardless of which step ran last.
func Normalize(img Image) image.Image {
	if img.pix == nil {
		return nil
	}

	bounds := img.pix.Bounds()
	switch img.mode {
	case ModeGray:
		if g, ok := img.pix.(*image.Gray); ok && bounds.Min == (image.Point{}) {
			return g
		}
		dst := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		xdraw.Draw(dst, dst.Bounds(), img.pix, bounds.Min, xdraw.Src)
		return dst
	default:
		if n, ok := img.pix.(*image.NRGBA); ok && bounds.Min == (image.Point{}) {
			return n
		}
		return imaging.Clone(img.pix)
	}
}

// EncodePNG normalizes img and encodes it for download.
func EncodePNG(img Image) ([]byte, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: nothing to encode", ErrInvalidImage)
	}

	normalized := Normalize(img)
	switch normalized.(type) {
	case *image.Gray, *image.NRGBA:
	default:
		return nil, fmt.Errorf("%w: %T for mode %s", ErrRepresentation, normalized, img.mode)
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, normalized); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
