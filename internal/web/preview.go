package web

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"image"
	"image/png"

	"github.com/nfnt/resize"

	"github.com/dunamismax/pixelstudio/internal/effect"
)

// previewMaxSide bounds the inline previews; the download keeps full size.
const previewMaxSide = 960

func thumbnail(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= previewMaxSide && b.Dy() <= previewMaxSide {
		return img
	}
	return resize.Thumbnail(previewMaxSide, previewMaxSide, img, resize.Lanczos3)
}

func previewURI(img image.Image) (template.URL, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, thumbnail(img)); err != nil {
		return "", fmt.Errorf("encode preview: %w", err)
	}
	return dataURI("image/png", buf.Bytes()), nil
}

func dataURI(contentType string, data []byte) template.URL {
	return template.URL("data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data))
}

// sourcePreview is what the page keeps of an upload: the full raster is
// dropped once the thumbnail is encoded, before the renderer decodes again.
type sourcePreview struct {
	src    template.URL
	width  int
	height int
}

func newSourcePreview(data []byte) (sourcePreview, error) {
	img, err := effect.Decode(data)
	if err != nil {
		return sourcePreview{}, err
	}
	src, err := previewURI(img.Pixels())
	if err != nil {
		return sourcePreview{}, err
	}
	return sourcePreview{src: src, width: img.Width(), height: img.Height()}, nil
}
