package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/pixelaug/internal/domain"
)

const TypeAugmentImages = "image:augment"

var ErrInvalidPayload = errors.New("invalid augment payload")

type AugmentPayload struct {
	JobID       string             `json:"job_id"`
	SourceType  string             `json:"source_type"`
	WebhookURL  string             `json:"webhook_url,omitempty"`
	Sources     []string           `json:"sources"`
	Augment     domain.AugmentSpec `json:"augment"`
	RequestedAt time.Time          `json:"requested_at"`
	// Trace carries the enqueuing span context to the worker.
	Trace       map[string]string  `json:"trace,omitempty"`
}

func PayloadForJob(job domain.Job, now time.Time) AugmentPayload {
	return AugmentPayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		Sources:     job.Sources,
		Augment:     job.Augment,
		RequestedAt: now.UTC(),
	}
}

func NewAugmentTask(payload AugmentPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal augment payload: %w", err)
	}
	return asynq.NewTask(TypeAugmentImages, body), nil
}

// ParseAugmentPayload decodes a task body. Structural problems wrap
// ErrInvalidPayload; retrying such a task can never succeed.
func ParseAugmentPayload(task *asynq.Task) (AugmentPayload, error) {
	var payload AugmentPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AugmentPayload{}, fmt.Errorf("%w: unmarshal: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(payload.JobID) == "" {
		return AugmentPayload{}, fmt.Errorf("%w: job_id is required", ErrInvalidPayload)
	}
	if len(payload.Sources) == 0 {
		return AugmentPayload{}, fmt.Errorf("%w: sources are required", ErrInvalidPayload)
	}
	return payload, nil
}
