package pipeline

import (
	"context"

	"github.com/dunamismax/pixelstudio/internal/effect"
)

type imagingRenderer struct{}

func (imagingRenderer) Render(ctx context.Context, input []byte, opt effect.Option, params effect.Params) (Rendered, error) {
	select {
	case <-ctx.Done():
		return Rendered{}, ctx.Err()
	default:
	}

	src, err := effect.Decode(input)
	if err != nil {
		return Rendered{}, err
	}

	out, err := effect.Apply(ctx, src, opt, params)
	if err != nil {
		return Rendered{}, err
	}

	data, err := effect.EncodePNG(out)
	if err != nil {
		return Rendered{}, err
	}

	return Rendered{
		Data:   data,
		Width:  out.Width(),
		Height: out.Height(),
		Mode:   out.Mode(),
	}, nil
}
