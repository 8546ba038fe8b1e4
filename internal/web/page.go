package web

import (
	"embed"
	"fmt"
	"html/template"
	"strconv"

	"github.com/dunamismax/pixelstudio/internal/effect"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Variant is one of the two pages sharing the template.
type Variant string

const (
	VariantStudio  Variant = "studio"
	VariantClassic Variant = "classic"
)

func parseVariant(raw string) Variant {
	if Variant(raw) == VariantClassic {
		return VariantClassic
	}
	return VariantStudio
}

func (v Variant) title() string {
	if v == VariantClassic {
		return "Artistic Image Processor"
	}
	return "Pixel Studio"
}

func (v Variant) options() []effect.Option {
	if v == VariantClassic {
		return effect.ClassicOptions()
	}
	return effect.Options()
}

func (v Variant) allows(opt effect.Option) bool {
	for _, o := range v.options() {
		if o == opt {
			return true
		}
	}
	return false
}

type optionView struct {
	Value    effect.Option
	Label    string
	Selected bool
}

type sliderView struct {
	Min, Max, Step, Value string
}

type resultView struct {
	Caption      string
	OriginalSrc  template.URL
	ProcessedSrc template.URL
	DownloadHref template.URL
	DownloadName string
	SourceWidth  int
	SourceHeight int
	Width        int
	Height       int
	Mode         effect.Mode
}

type pageView struct {
	Title      string
	Variant    Variant
	Action     string
	Options    []optionView
	Brightness sliderView
	Scale      sliderView
	Error      string
	Result     *resultView
}

func newPageView(variant Variant, selected effect.Option, params effect.Params) pageView {
	opts := variant.options()
	if !variant.allows(selected) {
		selected = opts[0]
	}

	views := make([]optionView, 0, len(opts))
	for _, opt := range opts {
		views = append(views, optionView{Value: opt, Label: opt.Label(), Selected: opt == selected})
	}

	params = params.Clamp()
	return pageView{
		Title:      variant.title(),
		Variant:    variant,
		Action:     "/ui/process",
		Options:    views,
		Brightness: slider(effect.MinBrightness, effect.MaxBrightness, 0.1, params.Brightness),
		Scale:      slider(effect.MinScale, effect.MaxScale, 0.1, params.Scale),
	}
}

func slider(lo, hi, step, value float64) sliderView {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return sliderView{Min: f(lo), Max: f(hi), Step: f(step), Value: f(value)}
}

// caption mirrors the labels shown under the processed preview.
func caption(opt effect.Option, p effect.Params) string {
	switch opt {
	case effect.OptionGreyscale:
		return "Processed Image - Greyscale"
	case effect.OptionEnhance:
		return "Processed Image - Enhanced Quality"
	case effect.OptionBrightness:
		return fmt.Sprintf("Processed Image - Brightness: %g", p.Brightness)
	case effect.OptionResize:
		return fmt.Sprintf("Processed Image - Resolution Improved by %gx", p.Scale)
	case effect.OptionHDResize:
		return "Processed Image - HD 1280x720"
	case effect.OptionComposite:
		return fmt.Sprintf("Processed Image - All Effects (brightness %g, scale %gx)", p.Brightness, p.Scale)
	case effect.OptionCompositeGrey:
		return fmt.Sprintf("Processed Image - All Effects, Greyscale (brightness %g, scale %gx)", p.Brightness, p.Scale)
	default:
		return "Processed Image"
	}
}
