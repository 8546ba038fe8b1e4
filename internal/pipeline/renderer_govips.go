//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelstudio/internal/effect"
)

type govipsRenderer struct{}

func (r govipsRenderer) Render(ctx context.Context, input []byte, opt effect.Option, params effect.Params) (Rendered, error) {
	steps := opt.Steps()
	if len(steps) == 0 {
		return Rendered{}, fmt.Errorf("%w: %q", effect.ErrUnknownOption, opt)
	}
	if len(input) == 0 {
		return Rendered{}, fmt.Errorf("%w: empty input", effect.ErrInvalidImage)
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Rendered{}, fmt.Errorf("%w: %v", effect.ErrInvalidImage, err)
	}
	defer img.Close()
	if err := effect.CheckSource(img.Width(), img.Height()); err != nil {
		return Rendered{}, err
	}

	params = params.WithDefaults()
	mode := effect.ModeColor
	for _, step := range steps {
		select {
		case <-ctx.Done():
			return Rendered{}, ctx.Err()
		default:
		}

		if err := applyGovipsStep(img, step, params); err != nil {
			return Rendered{}, fmt.Errorf("step %s: %w", step, err)
		}
		mode = effect.ModeColor
		if step == effect.StepGreyscale {
			mode = effect.ModeGray
		}
	}

	data, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return Rendered{}, fmt.Errorf("encode png: %w", err)
	}

	return Rendered{
		Data:   data,
		Width:  img.Width(),
		Height: img.Height(),
		Mode:   mode,
	}, nil
}

func applyGovipsStep(img *vips.ImageRef, step effect.Step, params effect.Params) error {
	switch step {
	case effect.StepGreyscale:
		return applyGovipsGreyscale(img)
	case effect.StepEnhance:
		return img.Sharpen(1.0, 2.0, effect.SharpnessFactor)
	case effect.StepBrightness:
		return applyGovipsBrightness(img, params.Brightness)
	case effect.StepResize:
		if err := effect.CheckOutput(effect.ScaledSize(img.Width(), img.Height(), params.Scale)); err != nil {
			return err
		}
		return img.Resize(params.Scale, vips.KernelLanczos3)
	case effect.StepHDResize:
		return img.ResizeWithVScale(
			float64(effect.HDWidth)/float64(img.Width()),
			float64(effect.HDHeight)/float64(img.Height()),
			vips.KernelLanczos3,
		)
	default:
		return fmt.Errorf("unknown step %q", step)
	}
}

// applyGovipsGreyscale leaves a single band. Alpha is flattened onto black
// first, the same result as drawing premultiplied pixels into a grey raster.
func applyGovipsGreyscale(img *vips.ImageRef) error {
	if img.HasAlpha() {
		if err := img.Flatten(&vips.Color{}); err != nil {
			return fmt.Errorf("flatten alpha: %w", err)
		}
	}
	if err := img.ToColorSpace(vips.InterpretationBW); err != nil {
		return fmt.Errorf("convert to bw: %w", err)
	}
	return nil
}

// applyGovipsBrightness multiplies colour bands only; alpha passes through.
func applyGovipsBrightness(img *vips.ImageRef, factor float64) error {
	bands := img.Bands()
	a := make([]float64, bands)
	b := make([]float64, bands)
	for i := range a {
		a[i] = factor
	}
	if img.HasAlpha() {
		a[bands-1] = 1
	}

	if err := img.Linear(a, b); err != nil {
		return fmt.Errorf("scale brightness: %w", err)
	}
	if err := img.Cast(vips.BandFormatUchar); err != nil {
		return fmt.Errorf("cast to uchar: %w", err)
	}
	return nil
}
