package web

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dunamismax/pixelstudio/internal/effect"
	"github.com/dunamismax/pixelstudio/internal/logging"
	"github.com/dunamismax/pixelstudio/internal/pipeline"
)

// Handler serves the studio and classic pages and their form submissions.
type Handler struct {
	renderer       pipeline.Renderer
	logger         *zap.Logger
	maxUploadBytes int64
}

func NewHandler(renderer pipeline.Renderer, logger *zap.Logger, maxUploadBytes int64) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &Handler{
		renderer:       renderer,
		logger:         logger.Named("web"),
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) Studio(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, newPageView(VariantStudio, effect.OptionGreyscale, effect.DefaultParams()))
}

func (h *Handler) Classic(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, newPageView(VariantClassic, effect.OptionGreyscale, effect.DefaultParams()))
}

// Process applies the selected effect to the uploaded file and re-renders
// the page with previews and a download link.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	bodyLimit := h.maxUploadBytes + 1<<20
	if r.ContentLength > bodyLimit {
		h.render(w, r, http.StatusRequestEntityTooLarge, h.errorView(VariantStudio, "The uploaded file is too large."))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		status := http.StatusBadRequest
		msg := "The form could not be read."
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
			msg = "The uploaded file is too large."
		}
		h.render(w, r, status, h.errorView(VariantStudio, msg))
		return
	}
	defer r.MultipartForm.RemoveAll()

	variant := parseVariant(r.FormValue("variant"))
	opt, err := effect.ParseOption(r.FormValue("effect"))
	if err != nil || !variant.allows(opt) {
		h.render(w, r, http.StatusBadRequest, h.errorView(variant, "Please choose one of the listed options."))
		return
	}
	params := formParams(r)
	view := newPageView(variant, opt, params)

	source, err := readUpload(r, h.maxUploadBytes)
	if err != nil {
		view.Error = err.Error()
		h.render(w, r, http.StatusBadRequest, view)
		return
	}

	original, err := newSourcePreview(source)
	if err != nil {
		view.Error = "The uploaded file is not a readable JPEG or PNG image."
		if errors.Is(err, effect.ErrTooManyPixels) {
			view.Error = "The uploaded image has too many pixels."
		}
		h.render(w, r, http.StatusBadRequest, view)
		return
	}

	rendered, err := h.renderer.Render(r.Context(), source, opt, params)
	if err != nil {
		logging.FromContext(r.Context()).Error("render failed", zap.String("effect", string(opt)), zap.Error(err))
		view.Error = "The image could not be processed."
		h.render(w, r, statusFor(err), view)
		return
	}

	result, err := h.resultView(original, rendered, opt, params)
	if err != nil {
		logging.FromContext(r.Context()).Error("preview failed", zap.Error(err))
		view.Error = "The processed image could not be displayed."
		h.render(w, r, http.StatusInternalServerError, view)
		return
	}
	view.Result = result
	h.render(w, r, http.StatusOK, view)
}

func (h *Handler) errorView(variant Variant, msg string) pageView {
	view := newPageView(variant, effect.OptionGreyscale, effect.DefaultParams())
	view.Error = msg
	return view
}

func (h *Handler) resultView(original sourcePreview, rendered pipeline.Rendered, opt effect.Option, p effect.Params) (*resultView, error) {
	processed, err := png.Decode(bytes.NewReader(rendered.Data))
	if err != nil {
		return nil, fmt.Errorf("decode rendered png: %w", err)
	}
	processedSrc, err := previewURI(processed)
	if err != nil {
		return nil, err
	}

	return &resultView{
		Caption:      caption(opt, p),
		OriginalSrc:  original.src,
		ProcessedSrc: processedSrc,
		DownloadHref: dataURI(effect.DownloadContentType, rendered.Data),
		DownloadName: effect.DownloadFilename,
		SourceWidth:  original.width,
		SourceHeight: original.height,
		Width:        rendered.Width,
		Height:       rendered.Height,
		Mode:         rendered.Mode,
	}, nil
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, view pageView) {
	var buf bytes.Buffer
	if err := pageTemplate.ExecuteTemplate(&buf, "page", view); err != nil {
		logging.FromContext(r.Context()).Error("template failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// formParams clamps slider values into range; unparsable values fall back
// to the defaults.
func formParams(r *http.Request) effect.Params {
	return effect.Params{
		Brightness: formFloat(r, "brightness"),
		Scale:      formFloat(r, "scale"),
	}.Clamp()
}

func formFloat(r *http.Request, key string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue(key)), 64)
	if err != nil {
		return 0
	}
	return v
}

// formError carries a message meant for the page, not the log.
type formError string

func (e formError) Error() string { return string(e) }

func readUpload(r *http.Request, limit int64) ([]byte, error) {
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, formError("Please upload an image.")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, formError("The upload could not be read.")
	}
	if int64(len(data)) > limit {
		return nil, formError("The uploaded file is too large.")
	}
	if len(data) == 0 {
		return nil, formError("The uploaded file is empty.")
	}
	return data, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, effect.ErrInvalidImage), errors.Is(err, effect.ErrInvalidParams):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
