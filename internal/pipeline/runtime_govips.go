//go:build govips && cgo

package pipeline

import (
	"errors"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/dunamismax/pixelaug/internal/augment"
)

var errRuntimeStopped = errors.New("libvips was shut down and cannot restart")

var runtimeState struct {
	mu      sync.Mutex
	running bool
	stopped bool
}

// Startup boots libvips for decode and encode. Calling it again is a no-op;
// the augmentation operators stay in Go and do not need it.
func Startup() error {
	runtimeState.mu.Lock()
	defer runtimeState.mu.Unlock()

	switch {
	case runtimeState.stopped:
		return errRuntimeStopped
	case runtimeState.running:
		return nil
	}
	vips.Startup(&vips.Config{
		MaxCacheFiles: 0,
		MaxCacheMem:   64 * 1024 * 1024,
		MaxCacheSize:  50,
	})
	runtimeState.running = true
	return nil
}

// Shutdown stops libvips for the rest of the process.
func Shutdown() {
	runtimeState.mu.Lock()
	defer runtimeState.mu.Unlock()
	if !runtimeState.running {
		return
	}
	vips.Shutdown()
	runtimeState.running = false
	runtimeState.stopped = true
}

func newTransformer(engine *augment.Engine) (Transformer, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	return augmentTransformer{engine: engine, codec: newCodec()}, nil
}

func newCodec() codec { return govipsCodec{} }
