package effect

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownOption = errors.New("unknown effect option")

// Option selects the transformation, or fixed sequence of transformations,
// applied to an uploaded image.
type Option string

const (
	OptionGreyscale     Option = "greyscale"
	OptionEnhance       Option = "enhance"
	OptionBrightness    Option = "brightness"
	OptionResize        Option = "resize"
	OptionHDResize      Option = "hd_resize"
	OptionComposite     Option = "composite"
	OptionCompositeGrey Option = "composite_grey"
)

// Step is a single base operation of the pipeline.
type Step string

const (
	StepGreyscale  Step = "greyscale"
	StepEnhance    Step = "enhance"
	StepBrightness Step = "brightness"
	StepResize     Step = "resize"
	StepHDResize   Step = "hd_resize"
)

var plans = map[Option][]Step{
	OptionGreyscale:     {StepGreyscale},
	OptionEnhance:       {StepEnhance},
	OptionBrightness:    {StepBrightness},
	OptionResize:        {StepResize},
	OptionHDResize:      {StepHDResize},
	OptionComposite:     {StepEnhance, StepBrightness, StepResize, StepHDResize},
	OptionCompositeGrey: {StepEnhance, StepBrightness, StepResize, StepHDResize, StepGreyscale},
}

var labels = map[Option]string{
	OptionGreyscale:     "Convert to Greyscale",
	OptionEnhance:       "Enhance Image Quality",
	OptionBrightness:    "Adjust Brightness",
	OptionResize:        "Improve Resolution",
	OptionHDResize:      "HD Resize (1280x720)",
	OptionComposite:     "All of the Above",
	OptionCompositeGrey: "All of the Above (Greyscale)",
}

// Options lists every option in menu order.
func Options() []Option {
	return []Option{
		OptionGreyscale,
		OptionEnhance,
		OptionBrightness,
		OptionResize,
		OptionHDResize,
		OptionComposite,
		OptionCompositeGrey,
	}
}

// ClassicOptions is the reduced menu of the classic page.
func ClassicOptions() []Option {
	return []Option{
		OptionGreyscale,
		OptionEnhance,
		OptionBrightness,
		OptionResize,
	}
}

// ParseOption accepts either the canonical value or the menu label.
func ParseOption(raw string) (Option, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrUnknownOption)
	}

	candidate := Option(strings.ToLower(strings.ReplaceAll(raw, "-", "_")))
	if _, ok := plans[candidate]; ok {
		return candidate, nil
	}
	for opt, label := range labels {
		if strings.EqualFold(label, raw) {
			return opt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOption, raw)
}

func (o Option) Valid() bool {
	_, ok := plans[o]
	return ok
}

func (o Option) Label() string {
	if label, ok := labels[o]; ok {
		return label
	}
	return string(o)
}

// Steps returns the ordered plan for the option. The returned slice is a copy.
func (o Option) Steps() []Step {
	plan, ok := plans[o]
	if !ok {
		return nil
	}
	out := make([]Step, len(plan))
	copy(out, plan)
	return out
}

func (o Option) UsesBrightness() bool {
	return o.uses(StepBrightness)
}

func (o Option) UsesScale() bool {
	return o.uses(StepResize)
}

func (o Option) uses(step Step) bool {
	for _, s := range plans[o] {
		if s == step {
			return true
		}
	}
	return false
}
