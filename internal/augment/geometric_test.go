package augment

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotationThenFlipOnConstantImage(t *testing.T) {
	src := filledBuffer(100, 100, 128)
	for seed := uint64(0); seed < 10; seed++ {
		out, err := New().ApplyRand(NewRand(seed), src, []Operation{OpRotation, OpFlip}, Params{})
		require.NoError(t, err)

		got := out.(*PixelBuffer)
		require.Equal(t, 100, got.Width)
		require.Equal(t, 100, got.Height)
		require.Len(t, got.Pix, 100*100*3)
		for i, v := range got.Pix {
			if v != 128 && v != 0 {
				t.Fatalf("seed %d: byte %d = %d, want 128 or rotation fill 0", seed, i, v)
			}
		}
		// The center never leaves the canvas.
		c := got.offset(50, 50)
		assert.Equal(t, []uint8{128, 128, 128}, got.Pix[c:c+3])
	}
}

func TestRotateExposesZeroCorners(t *testing.T) {
	out, err := rotateBy(filledBuffer(60, 60, 200), 30)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 0}, out.Pix[0:3])
	c := out.offset(30, 30)
	assert.Equal(t, []uint8{200, 200, 200}, out.Pix[c:c+3])
}

func TestFlipModes(t *testing.T) {
	// 2x2: pixel value encodes its position.
	buf := NewPixelBuffer(2, 2)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			off := buf.offset(x, y)
			buf.Pix[off], buf.Pix[off+1], buf.Pix[off+2] = uint8(10*y+x), 0, 0
		}
	}

	v := flipBy(buf.Clone(), flipVertical)
	assert.Equal(t, uint8(10), v.Pix[v.offset(0, 0)])
	assert.Equal(t, uint8(1), v.Pix[v.offset(1, 1)])

	h := flipBy(buf.Clone(), flipHorizontal)
	assert.Equal(t, uint8(1), h.Pix[h.offset(0, 0)])
	assert.Equal(t, uint8(10), h.Pix[h.offset(1, 1)])

	n := flipBy(buf.Clone(), flipNone)
	assert.Equal(t, buf.Pix, n.Pix)
}

func TestFlipLeavesRoughlyOneThirdUnchanged(t *testing.T) {
	src := gradientBuffer(5, 4)
	rng := NewRand(2024)
	c := &call{rng: rng}

	const trials = 3000
	unchanged := 0
	for i := 0; i < trials; i++ {
		out, err := flip(c, src.Clone())
		require.NoError(t, err)
		if bytes.Equal(out.Pix, src.Pix) {
			unchanged++
		}
	}

	ratio := float64(unchanged) / trials
	assert.InDelta(t, 1.0/3.0, ratio, 0.05, "unchanged ratio %.3f", ratio)
}

func TestCropBoxStaysInsideSource(t *testing.T) {
	c := &call{rng: NewRand(1)}
	for w := 1; w <= 48; w++ {
		for h := 1; h <= 48; h += 5 {
			for i := 0; i < 20; i++ {
				box := sampleCropBox(c, w, h)
				require.GreaterOrEqual(t, box.W, 1)
				require.GreaterOrEqual(t, box.H, 1)
				require.GreaterOrEqual(t, box.X, 0)
				require.GreaterOrEqual(t, box.Y, 0)
				require.LessOrEqual(t, box.X+box.W, w, "w=%d h=%d box=%+v", w, h, box)
				require.LessOrEqual(t, box.Y+box.H, h, "w=%d h=%d box=%+v", w, h, box)
			}
		}
	}
}

func TestCropExtentUsesRatioOnBothAxes(t *testing.T) {
	assert.Equal(t, 80, cropExtent(100, 0.8))
	assert.Equal(t, 37, cropExtent(50, 0.75))
	assert.Equal(t, 1, cropExtent(1, 0.7))
	assert.Equal(t, 1, cropExtent(2, 0.7))
}

func TestScaleForcedToOneIsIdentity(t *testing.T) {
	src := gradientBuffer(50, 50)
	params := Params{Ranges: Ranges{ScaleFactor: &Range{Min: 1, Max: 1}}}

	out, err := New().Apply(src, []Operation{OpScale}, params)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, out.(*PixelBuffer).Pix)
}

func TestScaleIntoShrinkCentersOnZeroCanvas(t *testing.T) {
	out, err := scaleInto(filledBuffer(40, 40, 200), 0.5)
	require.NoError(t, err)
	require.Equal(t, 40, out.Width)
	require.Equal(t, 40, out.Height)

	assert.Equal(t, []uint8{0, 0, 0}, out.Pix[0:3])
	corner := out.offset(39, 39)
	assert.Equal(t, []uint8{0, 0, 0}, out.Pix[corner:corner+3])

	center := out.offset(20, 20)
	for _, v := range out.Pix[center : center+3] {
		assert.InDelta(t, 200, int(v), 1)
	}
	// Pasted block spans [10, 30).
	edge := out.offset(10, 10)
	assert.NotZero(t, out.Pix[edge])
	outside := out.offset(9, 10)
	assert.Zero(t, out.Pix[outside])
}

func TestScaleIntoGrowCropsCenter(t *testing.T) {
	src := gradientBuffer(20, 16)
	out, err := scaleInto(src, 1.5)
	require.NoError(t, err)
	assert.Equal(t, 20, out.Width)
	assert.Equal(t, 16, out.Height)
	assert.NoError(t, out.Validate())
}

func TestScaleAtCapKeepsCanvas(t *testing.T) {
	params := Params{Ranges: Ranges{ScaleFactor: &Range{Min: MaxScaleFactor, Max: MaxScaleFactor}}}
	out, err := New().Apply(gradientBuffer(12, 9), []Operation{OpScale}, params)
	require.NoError(t, err)
	assert.Equal(t, 12, out.(*PixelBuffer).Width)
	assert.Equal(t, 9, out.(*PixelBuffer).Height)
}

func TestScaleIntoRefusesOversizedResult(t *testing.T) {
	_, err := scaleInto(filledBuffer(10, 10, 5), 1e9)
	require.Error(t, err)
	assert.ErrorIs(t, err, errScaledTooLarge)
}

func TestRegionAndPasteRoundTrip(t *testing.T) {
	src := gradientBuffer(9, 7)
	part := src.region(2, 3, 4, 2)

	canvas := NewPixelBuffer(9, 7)
	canvas.paste(part, 2, 3)
	for y := 3; y < 5; y++ {
		for x := 2; x < 6; x++ {
			o := src.offset(x, y)
			assert.Equal(t, src.Pix[o:o+3], canvas.Pix[o:o+3])
		}
	}

	// Out-of-canvas pastes are clipped rather than panicking.
	canvas.paste(part, 7, 6)
	canvas.paste(part, -10, -10)
}
