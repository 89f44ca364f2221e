package augment

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

type Operation string

const (
	OpRotation   Operation = "rotation"
	OpFlip       Operation = "flip"
	OpCrop       Operation = "crop"
	OpScale      Operation = "scale"
	OpColor      Operation = "color"
	OpBrightness Operation = "brightness"
	OpContrast   Operation = "contrast"
	OpNoise      Operation = "noise"
	OpBlur       Operation = "blur"
)

// Operations returns every recognized identifier in registry order.
func Operations() []Operation {
	return []Operation{
		OpRotation, OpFlip, OpCrop, OpScale,
		OpColor, OpBrightness, OpContrast,
		OpNoise, OpBlur,
	}
}

// ParseOperations converts raw identifiers. Unrecognized names are kept so the
// dispatcher can skip them.
func ParseOperations(names []string) []Operation {
	ops := make([]Operation, 0, len(names))
	for _, name := range names {
		ops = append(ops, Operation(strings.ToLower(strings.TrimSpace(name))))
	}
	return ops
}

type NoiseType string

const (
	NoiseGaussian   NoiseType = "gaussian"
	NoiseSaltPepper NoiseType = "salt_pepper"
)

type BlurType string

const (
	BlurGaussian BlurType = "gaussian"
	BlurMedian   BlurType = "median"
)

var ErrInvalidParams = errors.New("invalid augmentation params")

// MaxScaleFactor caps scale_factor so an upscale stays within a few times the
// source footprint.
const MaxScaleFactor = 4.0

// Range is a closed interval sampled uniformly. Min == Max pins the value.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) sample(rng *rand.Rand) float64 {
	if r.Min == r.Max {
		return r.Min
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

func (r Range) validate(name string) error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return fmt.Errorf("%w: %s range must be finite", ErrInvalidParams, name)
	}
	if r.Min > r.Max {
		return fmt.Errorf("%w: %s range min %.3f > max %.3f", ErrInvalidParams, name, r.Min, r.Max)
	}
	return nil
}

// Ranges overrides the default sampling intervals. Nil fields use defaults.
type Ranges struct {
	RotationDegrees *Range `json:"rotation_degrees,omitempty"`
	CropRatio       *Range `json:"crop_ratio,omitempty"`
	ScaleFactor     *Range `json:"scale_factor,omitempty"`

	JitterBrightness *Range `json:"jitter_brightness,omitempty"`
	JitterContrast   *Range `json:"jitter_contrast,omitempty"`
	JitterSaturation *Range `json:"jitter_saturation,omitempty"`

	Brightness *Range `json:"brightness,omitempty"`
	Contrast   *Range `json:"contrast,omitempty"`
}

var (
	defaultRotation         = Range{Min: -30, Max: 30}
	defaultCropRatio        = Range{Min: 0.70, Max: 0.90}
	defaultScaleFactor      = Range{Min: 0.5, Max: 1.5}
	defaultJitterBrightness = Range{Min: 0.5, Max: 1.8}
	defaultJitterContrast   = Range{Min: 0.5, Max: 1.8}
	defaultJitterSaturation = Range{Min: 0.3, Max: 2.0}
	defaultEnhance          = Range{Min: 0.5, Max: 1.8}
)

// Params carries the optional knobs of a pipeline call.
type Params struct {
	NoiseType NoiseType `json:"noise_type,omitempty"`
	BlurType  BlurType  `json:"blur_type,omitempty"`
	Ranges    Ranges    `json:"ranges,omitempty"`
}

func (p Params) noiseType() NoiseType {
	if p.NoiseType == "" {
		return NoiseGaussian
	}
	return p.NoiseType
}

func (p Params) blurType() BlurType {
	if p.BlurType == "" {
		return BlurGaussian
	}
	return p.BlurType
}

// Validate rejects unknown noise/blur types and malformed ranges.
func (p Params) Validate() error {
	switch p.noiseType() {
	case NoiseGaussian, NoiseSaltPepper:
	default:
		return fmt.Errorf("%w: noise_type %q", ErrInvalidParams, p.NoiseType)
	}
	switch p.blurType() {
	case BlurGaussian, BlurMedian:
	default:
		return fmt.Errorf("%w: blur_type %q", ErrInvalidParams, p.BlurType)
	}

	checks := []struct {
		name string
		r    *Range
	}{
		{"rotation_degrees", p.Ranges.RotationDegrees},
		{"crop_ratio", p.Ranges.CropRatio},
		{"scale_factor", p.Ranges.ScaleFactor},
		{"jitter_brightness", p.Ranges.JitterBrightness},
		{"jitter_contrast", p.Ranges.JitterContrast},
		{"jitter_saturation", p.Ranges.JitterSaturation},
		{"brightness", p.Ranges.Brightness},
		{"contrast", p.Ranges.Contrast},
	}
	for _, c := range checks {
		if c.r == nil {
			continue
		}
		if err := c.r.validate(c.name); err != nil {
			return err
		}
	}

	if r := p.Ranges.CropRatio; r != nil && (r.Min <= 0 || r.Max > 1) {
		return fmt.Errorf("%w: crop_ratio must lie in (0, 1]", ErrInvalidParams)
	}
	if r := p.Ranges.ScaleFactor; r != nil {
		if r.Min <= 0 {
			return fmt.Errorf("%w: scale_factor must be positive", ErrInvalidParams)
		}
		if r.Max > MaxScaleFactor {
			return fmt.Errorf("%w: scale_factor max %.3f exceeds %.0f", ErrInvalidParams, r.Max, MaxScaleFactor)
		}
	}
	for _, r := range []*Range{
		p.Ranges.JitterBrightness, p.Ranges.JitterContrast, p.Ranges.JitterSaturation,
		p.Ranges.Brightness, p.Ranges.Contrast,
	} {
		if r != nil && r.Min < 0 {
			return fmt.Errorf("%w: enhancement factors must be non-negative", ErrInvalidParams)
		}
	}
	return nil
}

func pick(override *Range, fallback Range) Range {
	if override != nil {
		return *override
	}
	return fallback
}
