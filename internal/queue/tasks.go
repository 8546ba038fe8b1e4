package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/pixelstudio/internal/domain"
	"github.com/dunamismax/pixelstudio/internal/effect"
)

const TypeApplyEffect = "effect:apply"

const (
	MaxRetry    = 5
	TaskTimeout = 3 * time.Minute
)

type ApplyEffectPayload struct {
	JobID       string        `json:"job_id"`
	UserID      string        `json:"user_id,omitempty"`
	SourceType  string        `json:"source_type"`
	WebhookURL  string        `json:"webhook_url,omitempty"`
	ObjectKey   string        `json:"object_key"`
	Effect      effect.Option `json:"effect"`
	Params      effect.Params `json:"params"`
	RequestedAt time.Time     `json:"requested_at"`
}

// PayloadForJob snapshots the fields a worker needs from a stored job.
func PayloadForJob(job domain.Job, requestedAt time.Time) ApplyEffectPayload {
	return ApplyEffectPayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Effect:      job.Effect,
		Params:      job.Params,
		RequestedAt: requestedAt.UTC(),
	}
}

func (p ApplyEffectPayload) validate() error {
	if strings.TrimSpace(p.JobID) == "" {
		return errors.New("job_id is required")
	}
	if !p.Effect.Valid() {
		return fmt.Errorf("%w: %q", effect.ErrUnknownOption, p.Effect)
	}
	return nil
}

func NewApplyEffectTask(payload ApplyEffectPayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal apply payload: %w", err)
	}
	return asynq.NewTask(TypeApplyEffect, body), nil
}

func ParseApplyEffectPayload(task *asynq.Task) (ApplyEffectPayload, error) {
	var payload ApplyEffectPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ApplyEffectPayload{}, fmt.Errorf("unmarshal apply payload: %w", err)
	}
	if err := payload.validate(); err != nil {
		return ApplyEffectPayload{}, err
	}
	return payload, nil
}
