package pipeline

import (
	"context"

	"github.com/dunamismax/pixelstudio/internal/effect"
)

// Rendered is an encoded PNG plus the facts callers report about it.
type Rendered struct {
	Data   []byte
	Width  int
	Height int
	Mode   effect.Mode
}

// Renderer decodes input, applies the effect plan and encodes the result as PNG.
type Renderer interface {
	Render(ctx context.Context, input []byte, opt effect.Option, params effect.Params) (Rendered, error)
}

// NewRenderer returns the renderer compiled into this binary.
func NewRenderer() (Renderer, error) {
	return newRenderer()
}
