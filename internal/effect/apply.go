package effect

import (
	"context"
	"fmt"
)

// Apply runs the plan of opt against src. Parameters are used as given;
// range checks belong to the caller. Zero values fall back to defaults.
func Apply(ctx context.Context, src Image, opt Option, p Params) (Image, error) {
	if src.Empty() {
		return Image{}, fmt.Errorf("%w: no source image", ErrInvalidImage)
	}
	steps := opt.Steps()
	if len(steps) == 0 {
		return Image{}, fmt.Errorf("%w: %q", ErrUnknownOption, opt)
	}
	p = p.WithDefaults()

	out := src
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return Image{}, err
		}

		next, err := ApplyStep(out, step, p)
		if err != nil {
			return Image{}, fmt.Errorf("step %s: %w", step, err)
		}
		out = next
	}
	return out, nil
}

// ApplyStep runs a single base operation.
func ApplyStep(img Image, step Step, p Params) (Image, error) {
	if img.Empty() {
		return Image{}, fmt.Errorf("%w: no source image", ErrInvalidImage)
	}

	switch step {
	case StepGreyscale:
		return Greyscale(img), nil
	case StepEnhance:
		return Enhance(img), nil
	case StepBrightness:
		return Brightness(img, p.Brightness), nil
	case StepResize:
		return Resize(img, p.Scale)
	case StepHDResize:
		return HDResize(img), nil
	default:
		return Image{}, fmt.Errorf("unknown step %q", step)
	}
}

// WithDefaults replaces zero values with the defaults without range checks.
func (p Params) WithDefaults() Params {
	if p.Brightness == 0 {
		p.Brightness = DefaultBrightness
	}
	if p.Scale == 0 {
		p.Scale = DefaultScale
	}
	return p
}
