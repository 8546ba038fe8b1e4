package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelstudio/internal/effect"
	"github.com/go-playground/validator/v10"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

var validate = validator.New()

type CreateJobRequest struct {
	SourceType string  `json:"source_type"`
	WebhookURL string  `json:"webhook_url,omitempty" validate:"omitempty,url"`
	ObjectKey  string  `json:"object_key,omitempty"`
	Effect     string  `json:"effect"`
	Brightness float64 `json:"brightness,omitempty"`
	Scale      float64 `json:"scale,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	Effect     effect.Option
	Params     effect.Params
	ObjectKey  string
	OutputKey  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if err := validate.Struct(r); err != nil {
		return errors.New("webhook_url must be a valid URL")
	}
	if _, err := effect.ParseOption(r.Effect); err != nil {
		return err
	}
	if err := r.EffectParams().Validate(); err != nil {
		return err
	}
	return nil
}

// EffectOption returns the parsed option; call Validate first.
func (r CreateJobRequest) EffectOption() effect.Option {
	opt, _ := effect.ParseOption(r.Effect)
	return opt
}

// EffectParams fills omitted parameters with their defaults.
func (r CreateJobRequest) EffectParams() effect.Params {
	return effect.Params{
		Brightness: r.Brightness,
		Scale:      r.Scale,
	}.WithDefaults()
}
