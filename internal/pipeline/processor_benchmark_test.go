package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/dunamismax/pixelaug/internal/domain"
)

func BenchmarkProcessorGeometric(b *testing.B) {
	benchmarkSpec(b, domain.AugmentSpec{
		Operations: []string{"rotation", "flip", "crop", "scale"},
		Format:     "jpeg",
		Quality:    82,
	})
}

func BenchmarkProcessorPhotometric(b *testing.B) {
	benchmarkSpec(b, domain.AugmentSpec{
		Operations: []string{"color", "brightness", "contrast", "noise"},
		Format:     "png",
	})
}

func BenchmarkProcessorMedianBlur(b *testing.B) {
	benchmarkSpec(b, domain.AugmentSpec{
		Operations: []string{"blur"},
		BlurType:   "median",
		Format:     "jpeg",
	})
}

func benchmarkSpec(b *testing.B, spec domain.AugmentSpec) {
	source := buildTestPNG(b, 1280, 720)
	processor, err := NewProcessor(staticFetcher{data: source}, discardEmitter{})
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	req := Request{
		SourceType: SourceTypeLocalFile,
		Sources:    []string{"ignored.png"},
		Augment:    spec,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-%d", i)
		res, err := processor.Process(context.Background(), req)
		if err != nil {
			b.Fatalf("process: %v", err)
		}
		if res.Failed > 0 {
			b.Fatalf("augment failed: %s", res.Outputs[0].Error)
		}
	}
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(context.Context, Request, string) ([]byte, error) {
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, item Item, r Rendered) (Output, error) {
	return renderedOutput(item, r, ""), nil
}
