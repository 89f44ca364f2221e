// Package augment implements the randomized image augmentation engine: a
// registry of stateless operators folded over an image in caller order.
package augment

import (
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"
)

// OpError reports which operation aborted a pipeline.
type OpError struct {
	Op  Operation
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("augment %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// call is the per-invocation state handed to every operator.
type call struct {
	rng    *rand.Rand
	params Params
	logger *zap.Logger
}

type operator func(c *call, buf *PixelBuffer) (*PixelBuffer, error)

type Engine struct {
	logger   *zap.Logger
	registry map[Operation]operator
}

type Option func(*Engine)

// WithLogger sets the logger used for non-fatal diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		logger: zap.NewNop(),
		registry: map[Operation]operator{
			OpRotation:   rotate,
			OpFlip:       flip,
			OpCrop:       crop,
			OpScale:      scale,
			OpColor:      colorJitter,
			OpBrightness: brightness,
			OpContrast:   contrast,
			OpNoise:      noise,
			OpBlur:       blur,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewRand returns a generator for reproducible ApplyRand calls.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Apply runs ops over img with a fresh generator. Safe for concurrent use.
func (e *Engine) Apply(img Image, ops []Operation, params Params) (Image, error) {
	return e.ApplyRand(nil, img, ops, params)
}

// ApplyRand runs ops over img drawing all randomness from rng. The result has
// the representation and dimensions of img. Unknown operations are skipped.
// A nil rng behaves like Apply.
func (e *Engine) ApplyRand(rng *rand.Rand, img Image, ops []Operation, params Params) (Image, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	buf, err := normalize(img)
	if err != nil {
		return nil, err
	}

	c := &call{rng: rng, params: params, logger: e.logger}
	for _, op := range ops {
		fn, ok := e.registry[op]
		if !ok {
			e.logger.Debug("skipping unknown operation", zap.String("op", string(op)))
			continue
		}
		next, err := fn(c, buf)
		if err != nil {
			return nil, &OpError{Op: op, Err: err}
		}
		buf = next
	}

	return restore(buf, img)
}
