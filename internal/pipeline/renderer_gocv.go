//go:build gocv && cgo && !govips

package pipeline

import (
	"context"
	"fmt"
	"image"

	"github.com/dunamismax/pixelstudio/internal/effect"
	"gocv.io/x/gocv"
)

type gocvRenderer struct{}

func (r gocvRenderer) Render(ctx context.Context, input []byte, opt effect.Option, params effect.Params) (Rendered, error) {
	steps := opt.Steps()
	if len(steps) == 0 {
		return Rendered{}, fmt.Errorf("%w: %q", effect.ErrUnknownOption, opt)
	}
	if len(input) == 0 {
		return Rendered{}, fmt.Errorf("%w: empty input", effect.ErrInvalidImage)
	}
	if err := effect.CheckEncoded(input); err != nil {
		return Rendered{}, err
	}

	current, err := gocv.IMDecode(input, gocv.IMReadColor)
	if err != nil {
		return Rendered{}, fmt.Errorf("%w: %v", effect.ErrInvalidImage, err)
	}
	if current.Empty() {
		current.Close()
		return Rendered{}, fmt.Errorf("%w: decoder returned no pixels", effect.ErrInvalidImage)
	}
	defer func() { current.Close() }()

	params = params.WithDefaults()
	mode := effect.ModeColor
	for _, step := range steps {
		select {
		case <-ctx.Done():
			return Rendered{}, ctx.Err()
		default:
		}

		next, err := applyGocvStep(current, step, params)
		if err != nil {
			return Rendered{}, fmt.Errorf("step %s: %w", step, err)
		}
		current.Close()
		current = next

		mode = effect.ModeColor
		if step == effect.StepGreyscale {
			mode = effect.ModeGray
		}
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, current)
	if err != nil {
		return Rendered{}, fmt.Errorf("encode png: %w", err)
	}
	defer buf.Close()

	return Rendered{
		Data:   append([]byte(nil), buf.GetBytes()...),
		Width:  current.Cols(),
		Height: current.Rows(),
		Mode:   mode,
	}, nil
}

func applyGocvStep(src gocv.Mat, step effect.Step, params effect.Params) (gocv.Mat, error) {
	dst := gocv.NewMat()

	var err error
	switch step {
	case effect.StepGreyscale:
		err = gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	case effect.StepEnhance:
		err = gocvSharpen(src, &dst, effect.SharpnessFactor)
	case effect.StepBrightness:
		err = src.ConvertToWithParams(&dst, src.Type(), float32(params.Brightness), 0)
	case effect.StepResize:
		w, h := effect.ScaledSize(src.Cols(), src.Rows(), params.Scale)
		if err = effect.CheckOutput(w, h); err != nil {
			break
		}
		err = gocv.Resize(src, &dst, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationLanczos4)
	case effect.StepHDResize:
		err = gocv.Resize(src, &dst, image.Point{X: effect.HDWidth, Y: effect.HDHeight}, 0, 0, gocv.InterpolationLanczos4)
	default:
		err = fmt.Errorf("unknown step %q", step)
	}
	if err != nil {
		dst.Close()
		return gocv.Mat{}, err
	}
	return dst, nil
}

// gocvSharpen extrapolates away from the 3x3 smoothed image:
// factor*src + (1-factor)*smooth. Border pixels are copied from src.
func gocvSharpen(src gocv.Mat, dst *gocv.Mat, factor float64) error {
	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	for i, v := range effect.SmoothKernel() {
		kernel.SetFloatAt(i/3, i%3, float32(v/13))
	}

	smooth := gocv.NewMat()
	defer smooth.Close()
	if err := gocv.Filter2D(src, &smooth, -1, kernel, image.Point{X: -1, Y: -1}, 0, gocv.BorderReplicate); err != nil {
		return fmt.Errorf("smooth: %w", err)
	}
	if err := gocv.AddWeighted(src, factor, smooth, 1-factor, 0, dst); err != nil {
		return fmt.Errorf("blend: %w", err)
	}

	w, h := src.Cols(), src.Rows()
	if w < 3 || h < 3 {
		src.CopyTo(dst)
		return nil
	}
	for _, edge := range []image.Rectangle{
		image.Rect(0, 0, w, 1),
		image.Rect(0, h-1, w, h),
		image.Rect(0, 0, 1, h),
		image.Rect(w-1, 0, w, h),
	} {
		from := src.Region(edge)
		to := dst.Region(edge)
		from.CopyTo(&to)
		from.Close()
		to.Close()
	}
	return nil
}
