package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dunamismax/pixelaug/internal/augment"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	MaxVariants = 50
	MaxSources  = 500
)

var ErrInvalidRequest = errors.New("invalid request")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type CreateJobRequest struct {
	SourceType  string      `json:"source_type" validate:"required,oneof=local_file s3_presigned"`
	WebhookURL  string      `json:"webhook_url,omitempty" validate:"omitempty,url"`
	Sources     []string    `json:"sources,omitempty" validate:"max=500,dive,required"`
	SourceCount int         `json:"source_count,omitempty" validate:"gte=0,lte=500"`
	Augment     AugmentSpec `json:"augment"`
}

// AugmentSpec describes what every source of a job goes through.
type AugmentSpec struct {
	Operations []string       `json:"operations" validate:"required,min=1,dive,required"`
	NoiseType  string         `json:"noise_type,omitempty" validate:"omitempty,oneof=gaussian salt_pepper"`
	BlurType   string         `json:"blur_type,omitempty" validate:"omitempty,oneof=gaussian median"`
	Ranges     augment.Ranges `json:"ranges,omitempty"`
	Variants   int            `json:"variants,omitempty" validate:"gte=0,lte=50"`
	Format     string         `json:"format,omitempty" validate:"omitempty,oneof=jpeg jpg png webp bmp"`
	Quality    int            `json:"quality,omitempty" validate:"gte=0,lte=100"`
	Seed       *uint64        `json:"seed,omitempty"`
}

type Job struct {
	ID         string
	Status     string
	SourceType string
	WebhookURL string
	Sources    []string
	Augment    AugmentSpec
	Total      int
	Processed  int
	Failed     int
	Error      string
	Outputs    []JobOutput
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobOutput is the recorded result of one source/variant pair. Location is a
// file path for local_file jobs and an object key for s3_presigned jobs.
type JobOutput struct {
	Source   string `json:"source"`
	Variant  int    `json:"variant"`
	Success  bool   `json:"success"`
	Location string `json:"location,omitempty"`
	Format   string `json:"format,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Normalize lowercases enumerations so tag validation and downstream switches
// see canonical values.
func (r CreateJobRequest) Normalize() CreateJobRequest {
	r.SourceType = strings.ToLower(strings.TrimSpace(r.SourceType))
	r.WebhookURL = strings.TrimSpace(r.WebhookURL)
	r.Augment = r.Augment.Normalize()
	return r
}

func (r CreateJobRequest) Validate() error {
	r = r.Normalize()
	if err := validate.Struct(r); err != nil {
		return translate(err)
	}

	switch r.SourceType {
	case SourceTypeLocalFile:
		if len(r.Sources) == 0 {
			return fmt.Errorf("%w: sources is required for source_type=local_file", ErrInvalidRequest)
		}
	case SourceTypeS3Presigned:
		if r.SourceCount < 1 {
			return fmt.Errorf("%w: source_count must be at least 1 for source_type=s3_presigned", ErrInvalidRequest)
		}
	}

	if err := r.Augment.Params().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

func (s AugmentSpec) Normalize() AugmentSpec {
	ops := make([]string, 0, len(s.Operations))
	for _, op := range augment.ParseOperations(s.Operations) {
		ops = append(ops, string(op))
	}
	s.Operations = ops
	s.NoiseType = strings.ToLower(strings.TrimSpace(s.NoiseType))
	s.BlurType = strings.ToLower(strings.TrimSpace(s.BlurType))
	s.Format = strings.ToLower(strings.TrimSpace(s.Format))
	return s
}

func (s AugmentSpec) Ops() []augment.Operation {
	return augment.ParseOperations(s.Operations)
}

func (s AugmentSpec) Params() augment.Params {
	return augment.Params{
		NoiseType: augment.NoiseType(s.NoiseType),
		BlurType:  augment.BlurType(s.BlurType),
		Ranges:    s.Ranges,
	}
}

// VariantCount is the number of outputs produced per source; zero means one.
func (s AugmentSpec) VariantCount() int {
	if s.Variants <= 0 {
		return 1
	}
	return s.Variants
}

func translate(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldPath(fe)+" "+validationMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min":
		return fmt.Sprintf("must contain at least %s entries", fe.Param())
	case "max":
		return fmt.Sprintf("must contain at most %s entries", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation for tag '%s'", fe.Tag())
	}
}
