package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/dunamismax/pixelaug/internal/augment"
)

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		SourceType:  SourceTypeS3Presigned,
		SourceCount: 3,
		Augment: AugmentSpec{
			Operations: []string{"rotation", "flip"},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := CreateJobRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingSources := CreateJobRequest{
		SourceType: SourceTypeLocalFile,
		Augment:    AugmentSpec{Operations: []string{"blur"}},
	}
	if err := missingSources.Validate(); err == nil {
		t.Fatal("expected validation error for local_file sources")
	}

	missingCount := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Augment:    AugmentSpec{Operations: []string{"blur"}},
	}
	if err := missingCount.Validate(); err == nil {
		t.Fatal("expected validation error for s3_presigned source_count")
	}

	unsupportedSourceType := CreateJobRequest{
		SourceType: "http_url",
		Sources:    []string{"a.png"},
		Augment:    AugmentSpec{Operations: []string{"blur"}},
	}
	err := unsupportedSourceType.Validate()
	if err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), "source_type must be one of") {
		t.Fatalf("expected json field name in message, got %q", err.Error())
	}
}

func TestCreateJobRequestNormalizesCase(t *testing.T) {
	req := CreateJobRequest{
		SourceType: " LOCAL_FILE ",
		Sources:    []string{"/tmp/in.png"},
		Augment: AugmentSpec{
			Operations: []string{" Rotation", "NOISE"},
			NoiseType:  "Salt_Pepper",
			Format:     "PNG",
		},
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	norm := req.Normalize()
	if norm.SourceType != SourceTypeLocalFile {
		t.Fatalf("expected source_type local_file, got %q", norm.SourceType)
	}
	if got := strings.Join(norm.Augment.Operations, ","); got != "rotation,noise" {
		t.Fatalf("expected normalized operations, got %q", got)
	}
	if norm.Augment.Params().NoiseType != augment.NoiseSaltPepper {
		t.Fatalf("expected salt_pepper noise, got %q", norm.Augment.Params().NoiseType)
	}
}

func TestAugmentSpecValidation(t *testing.T) {
	base := func(spec AugmentSpec) CreateJobRequest {
		return CreateJobRequest{SourceType: SourceTypeS3Presigned, SourceCount: 1, Augment: spec}
	}

	cases := map[string]AugmentSpec{
		"no operations":    {},
		"too many":         {Operations: []string{"flip"}, Variants: MaxVariants + 1},
		"unknown noise":    {Operations: []string{"noise"}, NoiseType: "poisson"},
		"unknown blur":     {Operations: []string{"blur"}, BlurType: "box"},
		"unknown format":   {Operations: []string{"flip"}, Format: "tiff"},
		"quality too high": {Operations: []string{"flip"}, Quality: 101},
		"inverted range": {
			Operations: []string{"scale"},
			Ranges:     augment.Ranges{ScaleFactor: &augment.Range{Min: 2, Max: 1}},
		},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			if err := base(spec).Validate(); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestAugmentSpecVariantCount(t *testing.T) {
	if got := (AugmentSpec{}).VariantCount(); got != 1 {
		t.Fatalf("expected default of 1 variant, got %d", got)
	}
	if got := (AugmentSpec{Variants: 7}).VariantCount(); got != 7 {
		t.Fatalf("expected 7 variants, got %d", got)
	}
}
