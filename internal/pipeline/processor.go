package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dunamismax/pixelaug/internal/augment"
	"github.com/dunamismax/pixelaug/internal/domain"
)

const (
	SourceTypeLocalFile = domain.SourceTypeLocalFile

	maxDefaultConcurrency = 8
)

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

// Observer is told about every finished image, successful or not. It may be
// called from several goroutines at once.
type Observer func(Output)

type Request struct {
	JobID      string
	SourceType string
	Sources    []string
	Augment    domain.AugmentSpec
	Observer   Observer
}

// Item addresses one output: a source and one of its variants.
type Item struct {
	Index   int
	Source  string
	Variant int
}

type Output struct {
	Source  string
	Variant int
	Format  string
	Path    string
	Bytes   int
	Width   int
	Height  int
	Success bool
	Error   string
}

type Result struct {
	Outputs     []Output
	Succeeded   int
	Failed      int
	SourceBytes int64
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request, source string) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, item Item, r Rendered) (Output, error)
}

type Processor struct {
	fetcher     Fetcher
	transformer Transformer
	emitter     Emitter
	concurrency int
	logger      *zap.Logger
}

type Option func(*Processor)

func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTransformer replaces the build-tag selected transformer.
func WithTransformer(t Transformer) Option {
	return func(p *Processor) {
		p.transformer = t
	}
}

func NewProcessor(fetcher Fetcher, emitter Emitter, opts ...Option) (*Processor, error) {
	p := &Processor{
		fetcher:     fetcher,
		emitter:     emitter,
		concurrency: min(maxDefaultConcurrency, runtime.NumCPU()),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.transformer == nil {
		transformer, err := newTransformer(augment.New(augment.WithLogger(p.logger)))
		if err != nil {
			return nil, fmt.Errorf("build transformer: %w", err)
		}
		p.transformer = transformer
	}
	return p, nil
}

func NewLocalProcessor(outputDir string, opts ...Option) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir, PerJob: true}, opts...)
}

// Process augments every source VariantCount times. Per-image failures are
// recorded in the result; only a malformed request or cancellation is
// returned as an error.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Sources) == 0 {
		return Result{}, errors.New("at least one source is required")
	}

	spec := req.Augment.Normalize()
	params := spec.Params()
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	ops := spec.Ops()
	variants := spec.VariantCount()

	slots := make([]*sourceSlot, len(req.Sources))
	for i := range slots {
		slots[i] = &sourceSlot{}
		slots[i].remaining.Store(int32(variants))
	}

	outputs := make([]Output, len(req.Sources)*variants)
	var sourceBytes atomic.Int64

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

dispatch:
	for i, source := range req.Sources {
		for v := 0; v < variants; v++ {
			select {
			case <-ctx.Done():
				break dispatch
			case sem <- struct{}{}:
			}

			item := Item{Index: i, Source: source, Variant: v}
			variant := Variant{Ops: ops, Params: params, Format: spec.Format, Quality: spec.Quality}
			if spec.Seed != nil {
				variant.Rand = augment.NewRand(*spec.Seed + uint64(i*variants+v))
			}

			wg.Add(1)
			go func(slot *sourceSlot, ordinal int) {
				defer wg.Done()
				defer func() { <-sem }()

				out := p.processItem(ctx, req, slot, item, variant, &sourceBytes)
				outputs[ordinal] = out
				if req.Observer != nil {
					req.Observer(out)
				}
			}(slots[i], i*variants+v)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{Outputs: outputs, SourceBytes: sourceBytes.Load()}
	for _, out := range outputs {
		if out.Success {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

func (p *Processor) processItem(ctx context.Context, req Request, slot *sourceSlot, item Item, v Variant, sourceBytes *atomic.Int64) Output {
	defer slot.release()

	data, err := slot.load(func() ([]byte, error) {
		data, err := p.fetcher.Fetch(ctx, req, item.Source)
		if err == nil {
			sourceBytes.Add(int64(len(data)))
		}
		return data, err
	})
	if err != nil {
		return p.failed(req, item, fmt.Errorf("fetch stage: %w", err))
	}

	rendered, err := p.transformer.Transform(ctx, data, v)
	if err != nil {
		return p.failed(req, item, fmt.Errorf("transform stage: %w", err))
	}

	out, err := p.emitter.Emit(ctx, req, item, rendered)
	if err != nil {
		return p.failed(req, item, fmt.Errorf("emit stage: %w", err))
	}
	return out
}

func (p *Processor) failed(req Request, item Item, err error) Output {
	p.logger.Warn("augment image failed",
		zap.String("job_id", req.JobID),
		zap.String("source", item.Source),
		zap.Int("variant", item.Variant),
		zap.Error(err),
	)
	return Output{Source: item.Source, Variant: item.Variant, Error: err.Error()}
}

// sourceSlot fetches a source once for all of its variants and drops the bytes
// after the last one finishes.
type sourceSlot struct {
	once      sync.Once
	data      []byte
	err       error
	remaining atomic.Int32
}

func (s *sourceSlot) load(fetch func() ([]byte, error)) ([]byte, error) {
	s.once.Do(func() {
		s.data, s.err = fetch()
	})
	return s.data, s.err
}

func (s *sourceSlot) release() {
	if s.remaining.Add(-1) == 0 {
		s.data = nil
	}
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request, source string) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", source, err)
	}
	return data, nil
}

// LocalFileEmitter writes outputs under OutputDir, inside a per-job directory
// when PerJob is set.
type LocalFileEmitter struct {
	OutputDir string
	PerJob    bool
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, item Item, r Rendered) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	dir := e.OutputDir
	if e.PerJob {
		dir = filepath.Join(dir, sanitizePathToken(req.JobID))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(dir, outputName(item, r.Format))
	if err := os.WriteFile(fullPath, r.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return renderedOutput(item, r, fullPath), nil
}

func renderedOutput(item Item, r Rendered, location string) Output {
	return Output{
		Source:  item.Source,
		Variant: item.Variant,
		Format:  r.Format,
		Path:    location,
		Bytes:   len(r.Data),
		Width:   r.Width,
		Height:  r.Height,
		Success: true,
	}
}

// outputName is "<index>_<stem>_v<variant>.<ext>"; the index keeps sources
// with equal base names apart.
func outputName(item Item, format string) string {
	stem := strings.TrimSuffix(filepath.Base(item.Source), filepath.Ext(item.Source))
	return fmt.Sprintf("%03d_%s_v%02d.%s", item.Index, sanitizePathToken(stem), item.Variant, extensionForFormat(format))
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
