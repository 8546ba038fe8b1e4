package effect

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinBrightness     = 0.5
	MaxBrightness     = 3.0
	DefaultBrightness = 1.0

	MinScale     = 1.0
	MaxScale     = 4.0
	DefaultScale = 2.0

	// SharpnessFactor is the fixed strength of the enhance step.
	SharpnessFactor = 2.0

	HDWidth  = 1280
	HDHeight = 720
)

// Params carries the numeric inputs of the brightness and resize steps.
type Params struct {
	Brightness float64 `json:"brightness" validate:"gte=0.5,lte=3"`
	Scale      float64 `json:"scale" validate:"gte=1,lte=4"`
}

var validate = validator.New()

func DefaultParams() Params {
	return Params{
		Brightness: DefaultBrightness,
		Scale:      DefaultScale,
	}
}

// Clamp fills zero values with defaults and pulls the rest into range.
func (p Params) Clamp() Params {
	if p.Brightness == 0 || math.IsNaN(p.Brightness) {
		p.Brightness = DefaultBrightness
	}
	if p.Scale == 0 || math.IsNaN(p.Scale) {
		p.Scale = DefaultScale
	}
	p.Brightness = clampFloat(p.Brightness, MinBrightness, MaxBrightness)
	p.Scale = clampFloat(p.Scale, MinScale, MaxScale)
	return p
}

// Validate rejects values outside the declared ranges.
func (p Params) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s must be %s %s", strings.ToLower(fe.Field()), rangeWord(fe.Tag()), fe.Param()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(msgs, "; "))
}

func rangeWord(tag string) string {
	switch tag {
	case "gte":
		return ">="
	case "lte":
		return "<="
	default:
		return tag
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
