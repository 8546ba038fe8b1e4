package effect

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// 3x3 smoothing kernel used as the degenerate image for sharpening.
var smoothKernel = [9]float64{
	1, 1, 1,
	1, 5, 1,
	1, 1, 1,
}

// SmoothKernel returns the unnormalised 3x3 smoothing weights (sum 13)
// the enhance step sharpens against.
func SmoothKernel() [9]float64 {
	return smoothKernel
}

// Greyscale maps the image to a single ITU-R 601 luminance channel.
func Greyscale(img Image) Image {
	bounds := img.pix.Bounds()
	dst := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img.pix, bounds.Min, xdraw.Src)
	return grayImage(dst)
}

// Enhance boosts sharpness with the fixed SharpnessFactor.
func Enhance(img Image) Image {
	return NewImage(sharpen(img.pix, SharpnessFactor))
}

// sharpen extrapolates away from a smoothed copy: out = smooth + f*(src-smooth).
// Edge pixels have no full neighbourhood and are copied unchanged.
func sharpen(src image.Image, factor float64) *image.NRGBA {
	orig := imaging.Clone(src)
	smooth := imaging.Convolve3x3(orig, smoothKernel, &imaging.ConvolveOptions{Normalize: true})

	w, h := orig.Rect.Dx(), orig.Rect.Dy()
	out := image.NewNRGBA(orig.Rect)
	copy(out.Pix, orig.Pix)
	if w < 3 || h < 3 {
		return out
	}

	for y := 1; y < h-1; y++ {
		row := y * orig.Stride
		for x := 1; x < w-1; x++ {
			i := row + x*4
			for c := 0; c < 3; c++ {
				s := float64(smooth.Pix[i+c])
				o := float64(orig.Pix[i+c])
				out.Pix[i+c] = clampByte(s + factor*(o-s))
			}
		}
	}
	return out
}

// Brightness scales the colour channels by factor. Alpha is kept.
func Brightness(img Image, factor float64) Image {
	out := imaging.AdjustFunc(img.pix, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clampByte(float64(c.R) * factor),
			G: clampByte(float64(c.G) * factor),
			B: clampByte(float64(c.B) * factor),
			A: c.A,
		}
	})
	return NewImage(out)
}

// Resize scales both dimensions by scale with Lanczos resampling.
func Resize(img Image, scale float64) (Image, error) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return Image{}, fmt.Errorf("%w: scale %v", ErrInvalidParams, scale)
	}
	w, h := ScaledSize(img.Width(), img.Height(), scale)
	if err := CheckOutput(w, h); err != nil {
		return Image{}, err
	}
	return NewImage(imaging.Resize(img.pix, w, h, imaging.Lanczos)), nil
}

// HDResize resamples to exactly HDWidth x HDHeight.
func HDResize(img Image) Image {
	return NewImage(imaging.Resize(img.pix, HDWidth, HDHeight, imaging.Lanczos))
}

// ScaledSize rounds w*scale and h*scale, never going below one pixel.
func ScaledSize(w, h int, scale float64) (int, int) {
	sw := int(math.Round(float64(w) * scale))
	sh := int(math.Round(float64(h) * scale))
	return max(1, sw), max(1, sh)
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
