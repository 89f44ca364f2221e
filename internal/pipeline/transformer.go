package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand/v2"
	"strings"

	"github.com/dunamismax/pixelaug/internal/augment"
)

var ErrUnsupportedFormat = errors.New("unsupported output format")

// Variant is one augmentation pass over a decoded source.
type Variant struct {
	Ops     []augment.Operation
	Params  augment.Params
	Format  string
	Quality int
	// Rand pins the generator for reproducible runs. Nil draws a fresh one.
	Rand *rand.Rand
}

type Rendered struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

type Transformer interface {
	Transform(ctx context.Context, input []byte, v Variant) (Rendered, error)
}

// codec is the decode/encode backend selected by build tags.
type codec interface {
	decode(input []byte) (image.Image, string, error)
	encode(img image.Image, format string, quality int) ([]byte, error)
	encodable(format string) bool
}

var outputFormats = []string{"jpeg", "png", "webp", "bmp"}

// OutputFormats lists the formats this build can write. A requested or source
// format outside the list is written as png.
func OutputFormats() []string {
	c := newCodec()
	var out []string
	for _, f := range outputFormats {
		if c.encodable(f) {
			out = append(out, f)
		}
	}
	return out
}

type augmentTransformer struct {
	engine *augment.Engine
	codec  codec
}

func (t augmentTransformer) Transform(ctx context.Context, input []byte, v Variant) (Rendered, error) {
	select {
	case <-ctx.Done():
		return Rendered{}, ctx.Err()
	default:
	}

	src, srcFormat, err := t.codec.decode(input)
	if err != nil {
		return Rendered{}, fmt.Errorf("decode source image: %w", err)
	}

	var out augment.Image
	if v.Rand != nil {
		out, err = t.engine.ApplyRand(v.Rand, augment.NewPicture(src), v.Ops, v.Params)
	} else {
		out, err = t.engine.Apply(augment.NewPicture(src), v.Ops, v.Params)
	}
	if err != nil {
		return Rendered{}, err
	}

	pic, ok := out.(*augment.Picture)
	if !ok {
		return Rendered{}, fmt.Errorf("augment returned %T, want *augment.Picture", out)
	}

	format := outputFormat(v.Format, srcFormat)
	if !t.codec.encodable(format) {
		format = "png"
	}
	data, err := t.codec.encode(pic.Image, format, v.Quality)
	if err != nil {
		return Rendered{}, err
	}

	w, h := pic.Size()
	return Rendered{Data: data, Format: format, Width: w, Height: h}, nil
}

// outputFormat picks the requested format, falling back to the source's.
func outputFormat(requested, source string) string {
	if f := strings.ToLower(strings.TrimSpace(requested)); f != "" {
		return normalizeOutputFormat(f)
	}
	return normalizeOutputFormat(strings.ToLower(source))
}

func normalizeOutputFormat(format string) string {
	switch format {
	case "jpg":
		return "jpeg"
	case "jpeg", "png", "webp", "bmp":
		return format
	default:
		return "png"
	}
}

func contentTypeForFormat(format string) string {
	switch normalizeOutputFormat(strings.ToLower(strings.TrimSpace(format))) {
	case "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	default:
		return "image/png"
	}
}

func extensionForFormat(format string) string {
	if f := normalizeOutputFormat(format); f != "jpeg" {
		return f
	}
	return "jpg"
}
