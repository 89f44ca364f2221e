package augment

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledBuffer(w, h int, v uint8) *PixelBuffer {
	buf := NewPixelBuffer(w, h)
	for i := range buf.Pix {
		buf.Pix[i] = v
	}
	return buf
}

func gradientBuffer(w, h int) *PixelBuffer {
	buf := NewPixelBuffer(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := buf.offset(x, y)
			buf.Pix[off+0] = uint8((x * 255) / max(1, w-1))
			buf.Pix[off+1] = uint8((y * 255) / max(1, h-1))
			buf.Pix[off+2] = uint8((x*7 + y*13) % 256)
		}
	}
	return buf
}

func TestApplyEmptyPipelineIsIdentity(t *testing.T) {
	src := gradientBuffer(32, 24)
	out, err := New().Apply(src, nil, Params{})
	require.NoError(t, err)

	got, ok := out.(*PixelBuffer)
	require.True(t, ok, "expected *PixelBuffer, got %T", out)
	assert.Equal(t, src.Pix, got.Pix)
	assert.Equal(t, src.Width, got.Width)
	assert.Equal(t, src.Height, got.Height)
}

func TestApplySkipsUnknownOperations(t *testing.T) {
	src := gradientBuffer(16, 16)
	out, err := New().Apply(src, []Operation{"not_a_real_op", "sharpen"}, Params{})
	require.NoError(t, err)
	assert.Equal(t, src.Pix, out.(*PixelBuffer).Pix)
}

func TestApplyPreservesDimensions(t *testing.T) {
	sizes := [][2]int{{1, 1}, {1, 7}, {7, 1}, {2, 2}, {3, 5}, {31, 17}, {64, 48}}
	paramSets := []Params{
		{},
		{NoiseType: NoiseSaltPepper, BlurType: BlurMedian},
	}

	engine := New()
	for _, size := range sizes {
		for pi, params := range paramSets {
			for _, op := range Operations() {
				name := fmt.Sprintf("%dx%d/%s/params%d", size[0], size[1], op, pi)
				t.Run(name, func(t *testing.T) {
					src := gradientBuffer(size[0], size[1])
					out, err := engine.ApplyRand(NewRand(uint64(size[0]*100+size[1])), src, []Operation{op}, params)
					require.NoError(t, err)

					got := out.(*PixelBuffer)
					require.NoError(t, got.Validate())
					assert.Equal(t, size[0], got.Width)
					assert.Equal(t, size[1], got.Height)
				})
			}
		}
	}
}

func TestApplyFullPipelinePreservesDimensions(t *testing.T) {
	src := gradientBuffer(45, 30)
	out, err := New().ApplyRand(NewRand(7), src, Operations(), Params{})
	require.NoError(t, err)

	w, h := out.Size()
	assert.Equal(t, 45, w)
	assert.Equal(t, 30, h)
}

func TestApplyReturnsCallerRepresentation(t *testing.T) {
	pic := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			pic.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 12), G: uint8(y * 25), B: 90, A: 255})
		}
	}

	out, err := New().Apply(NewPicture(pic), []Operation{OpFlip, OpCrop, OpColor}, Params{})
	require.NoError(t, err)

	got, ok := out.(*Picture)
	require.True(t, ok, "expected *Picture, got %T", out)
	assert.Equal(t, image.Rect(0, 0, 20, 10), got.Image.Bounds())
}

func TestApplyPictureMatchesPixelBuffer(t *testing.T) {
	buf := gradientBuffer(40, 28)
	rgb, err := buf.ToNRGBA()
	require.NoError(t, err)

	ops := []Operation{OpRotation, OpFlip, OpCrop, OpScale, OpColor, OpBrightness, OpContrast, OpNoise, OpBlur}
	engine := New()

	fromBuffer, err := engine.ApplyRand(NewRand(42), buf, ops, Params{})
	require.NoError(t, err)
	fromPicture, err := engine.ApplyRand(NewRand(42), NewPicture(rgb), ops, Params{})
	require.NoError(t, err)

	pic := fromPicture.(*Picture)
	assert.Equal(t, fromBuffer.(*PixelBuffer).Pix, BufferFromImage(pic.Image).Pix)
}

func TestApplyRandIsReproducible(t *testing.T) {
	src := gradientBuffer(30, 30)
	ops := []Operation{OpRotation, OpCrop, OpNoise}
	engine := New()

	a, err := engine.ApplyRand(NewRand(99), src, ops, Params{NoiseType: NoiseSaltPepper})
	require.NoError(t, err)
	b, err := engine.ApplyRand(NewRand(99), src, ops, Params{NoiseType: NoiseSaltPepper})
	require.NoError(t, err)

	assert.Equal(t, a.(*PixelBuffer).Pix, b.(*PixelBuffer).Pix)
}

func TestApplyRandNilGeneratorDrawsFreshOne(t *testing.T) {
	out, err := New().ApplyRand(nil, gradientBuffer(10, 10), []Operation{OpRotation, OpFlip, OpNoise}, Params{})
	require.NoError(t, err)
	assert.NoError(t, out.(*PixelBuffer).Validate())
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	src := gradientBuffer(12, 12)
	before := src.Clone()

	_, err := New().Apply(src, []Operation{OpFlip, OpNoise}, Params{})
	require.NoError(t, err)
	assert.Equal(t, before.Pix, src.Pix)
}

func TestApplyRejectsInvalidParams(t *testing.T) {
	src := gradientBuffer(8, 8)
	cases := map[string]Params{
		"inverted range":   {Ranges: Ranges{ScaleFactor: &Range{Min: 1.5, Max: 0.5}}},
		"crop above one":   {Ranges: Ranges{CropRatio: &Range{Min: 0.5, Max: 1.2}}},
		"negative factor":  {Ranges: Ranges{Brightness: &Range{Min: -1, Max: 1}}},
		"unknown noise":    {NoiseType: "poisson"},
		"unknown blur":     {BlurType: "box"},
		"zero scale floor": {Ranges: Ranges{ScaleFactor: &Range{Min: 0, Max: 1}}},
		"huge scale":       {Ranges: Ranges{ScaleFactor: &Range{Min: 1e9, Max: 1e9}}},
		"scale above cap":  {Ranges: Ranges{ScaleFactor: &Range{Min: 1, Max: MaxScaleFactor + 0.5}}},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New().Apply(src, []Operation{OpScale}, params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParams), "got %v", err)
		})
	}
}

func TestApplyRejectsMalformedImages(t *testing.T) {
	cases := map[string]Image{
		"short buffer": &PixelBuffer{Pix: make([]uint8, 10), Width: 4, Height: 4},
		"zero width":   &PixelBuffer{Pix: nil, Width: 0, Height: 4},
		"nil picture":  &Picture{},
		"empty image":  NewPicture(image.NewNRGBA(image.Rect(0, 0, 0, 0))),
	}
	for name, img := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New().Apply(img, []Operation{OpFlip}, Params{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidImage), "got %v", err)
		})
	}
}

func TestApplyWrapsOperatorFailures(t *testing.T) {
	cause := errors.New("boom")
	engine := New()
	engine.registry[OpContrast] = func(*call, *PixelBuffer) (*PixelBuffer, error) {
		return nil, cause
	}

	_, err := engine.Apply(gradientBuffer(4, 4), []Operation{OpFlip, OpContrast, OpBlur}, Params{})
	require.Error(t, err)

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, OpContrast, opErr.Op)
	assert.ErrorIs(t, err, cause)
}

func TestParseOperationsNormalizesNames(t *testing.T) {
	ops := ParseOperations([]string{" Rotation", "FLIP", "bogus"})
	assert.Equal(t, []Operation{OpRotation, OpFlip, "bogus"}, ops)
}

func BenchmarkApplyDefaultPipeline(b *testing.B) {
	src := gradientBuffer(640, 480)
	ops := []Operation{OpRotation, OpFlip, OpCrop, OpScale, OpColor}
	engine := New()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.ApplyRand(NewRand(uint64(i)), src, ops, Params{}); err != nil {
			b.Fatalf("apply: %v", err)
		}
	}
}
