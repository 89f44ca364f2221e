//go:build !govips || !cgo

package pipeline

import "github.com/dunamismax/pixelaug/internal/augment"

// Startup and Shutdown are no-ops without libvips; the standard library
// codecs need no process-wide setup.
func Startup() error { return nil }

func Shutdown() {}

func newTransformer(engine *augment.Engine) (Transformer, error) {
	return augmentTransformer{engine: engine, codec: newCodec()}, nil
}

func newCodec() codec { return stdCodec{} }
