package effect

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOption(t *testing.T) {
	cases := map[string]Option{
		"greyscale":                    OptionGreyscale,
		"HD-Resize":                    OptionHDResize,
		" composite_grey ":             OptionCompositeGrey,
		"Convert to Greyscale":         OptionGreyscale,
		"improve resolution":           OptionResize,
		"All of the Above (Greyscale)": OptionCompositeGrey,
	}
	for raw, want := range cases {
		got, err := ParseOption(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseOption("")
	assert.ErrorIs(t, err, ErrUnknownOption)
	_, err = ParseOption("sepia")
	assert.ErrorIs(t, err, ErrUnknownOption)
}

func TestCompositePlans(t *testing.T) {
	assert.Equal(t,
		[]Step{StepEnhance, StepBrightness, StepResize, StepHDResize},
		OptionComposite.Steps())
	assert.Equal(t,
		[]Step{StepEnhance, StepBrightness, StepResize, StepHDResize, StepGreyscale},
		OptionCompositeGrey.Steps())

	steps := OptionComposite.Steps()
	steps[0] = StepGreyscale
	assert.Equal(t, StepEnhance, OptionComposite.Steps()[0], "plans must not be mutable through Steps")
}

func TestOptionParameterUsage(t *testing.T) {
	assert.True(t, OptionBrightness.UsesBrightness())
	assert.False(t, OptionBrightness.UsesScale())
	assert.True(t, OptionResize.UsesScale())
	assert.True(t, OptionComposite.UsesBrightness())
	assert.True(t, OptionCompositeGrey.UsesScale())
	assert.False(t, OptionHDResize.UsesScale())
	assert.False(t, OptionGreyscale.UsesBrightness())
}

func TestClassicOptionsAreSubset(t *testing.T) {
	all := Options()
	for _, opt := range ClassicOptions() {
		assert.Contains(t, all, opt)
	}
	assert.Len(t, ClassicOptions(), 4)
}

func TestParamsClamp(t *testing.T) {
	assert.Equal(t, DefaultParams(), Params{}.Clamp())
	assert.Equal(t, Params{Brightness: MinBrightness, Scale: MaxScale}, Params{Brightness: 0.1, Scale: 9}.Clamp())
	assert.Equal(t, Params{Brightness: MaxBrightness, Scale: MinScale}, Params{Brightness: 7, Scale: 0.2}.Clamp())
	assert.Equal(t, DefaultParams(), Params{Brightness: math.NaN(), Scale: math.NaN()}.Clamp())
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	require.NoError(t, Params{Brightness: 0.5, Scale: 1}.Validate())
	require.NoError(t, Params{Brightness: 3, Scale: 4}.Validate())

	err := Params{Brightness: 3.5, Scale: 0.5}.Validate()
	require.ErrorIs(t, err, ErrInvalidParams)
	assert.Contains(t, err.Error(), "brightness")
	assert.Contains(t, err.Error(), "scale")
}
