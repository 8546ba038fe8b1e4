package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dunamismax/pixelstudio/internal/effect"
	"github.com/dunamismax/pixelstudio/internal/logging"
)

type effectView struct {
	Value          effect.Option `json:"value"`
	Label          string        `json:"label"`
	Steps          []effect.Step `json:"steps"`
	UsesBrightness bool          `json:"uses_brightness"`
	UsesScale      bool          `json:"uses_scale"`
}

type rangeView struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

func (s *Server) handleListEffects(w http.ResponseWriter, _ *http.Request) {
	opts := effect.Options()
	views := make([]effectView, 0, len(opts))
	for _, opt := range opts {
		views = append(views, effectView{
			Value:          opt,
			Label:          opt.Label(),
			Steps:          opt.Steps(),
			UsesBrightness: opt.UsesBrightness(),
			UsesScale:      opt.UsesScale(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"effects": views,
		"params": map[string]rangeView{
			"brightness": {Min: effect.MinBrightness, Max: effect.MaxBrightness, Default: effect.DefaultBrightness},
			"scale":      {Min: effect.MinScale, Max: effect.MaxScale, Default: effect.DefaultScale},
		},
		"output": map[string]string{
			"filename":     effect.DownloadFilename,
			"content_type": effect.DownloadContentType,
		},
	})
}

// handleApplyEffect renders the uploaded image synchronously and returns the
// PNG as an attachment.
func (s *Server) handleApplyEffect(w http.ResponseWriter, r *http.Request) {
	bodyLimit := s.maxUpload + 1<<20
	if r.ContentLength > bodyLimit {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	opt, err := effect.ParseOption(r.FormValue("effect"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := paramsFromForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	source, status, err := s.readImageField(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	rendered, err := s.renderer.Render(r.Context(), source, opt, params)
	if err != nil {
		switch {
		case errors.Is(err, effect.ErrTooManyPixels):
			writeError(w, http.StatusBadRequest, "image has too many pixels")
			return
		case errors.Is(err, effect.ErrInvalidImage):
			writeError(w, http.StatusBadRequest, "image could not be decoded")
			return
		case errors.Is(err, effect.ErrInvalidParams):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.FromContext(r.Context()).Error("render failed", zap.String("effect", string(opt)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process image")
		return
	}
	s.metrics.effectsRendered.WithLabelValues(string(opt)).Inc()

	w.Header().Set("Content-Type", effect.DownloadContentType)
	w.Header().Set("Content-Disposition", attachmentDisposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(rendered.Data)))
	w.Header().Set("X-Image-Width", strconv.Itoa(rendered.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(rendered.Height))
	w.Header().Set("X-Image-Mode", rendered.Mode.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rendered.Data)
}

func (s *Server) readImageField(r *http.Request) ([]byte, int, error) {
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("image file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > s.maxUpload {
		return nil, http.StatusRequestEntityTooLarge, errors.New("upload exceeds size limit")
	}
	if len(data) == 0 {
		return nil, http.StatusBadRequest, errors.New("image file is empty")
	}
	return data, http.StatusOK, nil
}

// paramsFromForm rejects out-of-range values; omitted ones take defaults.
func paramsFromForm(r *http.Request) (effect.Params, error) {
	p := effect.DefaultParams()
	for _, field := range []struct {
		name string
		dst  *float64
	}{
		{"brightness", &p.Brightness},
		{"scale", &p.Scale},
	} {
		raw := strings.TrimSpace(r.FormValue(field.name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return effect.Params{}, fmt.Errorf("%s must be a number", field.name)
		}
		*field.dst = v
	}

	if err := p.Validate(); err != nil {
		return effect.Params{}, err
	}
	return p, nil
}
