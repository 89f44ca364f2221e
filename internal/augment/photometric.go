package augment

import (
	"fmt"
	"image"

	"go.uber.org/zap"
)

// colorJitter is fail-soft: a failure is logged and the input comes back
// untouched. brightness and contrast below propagate their errors instead.
func colorJitter(c *call, buf *PixelBuffer) (*PixelBuffer, error) {
	out, err := jitter(c, buf)
	if err != nil {
		c.logger.Warn("color jitter failed, keeping input", zap.Error(err))
		return buf, nil
	}
	return out, nil
}

func jitter(c *call, buf *PixelBuffer) (*PixelBuffer, error) {
	img, err := buf.ToNRGBA()
	if err != nil {
		return nil, fmt.Errorf("convert to rgb: %w", err)
	}

	enhanceBrightness(img, pick(c.params.Ranges.JitterBrightness, defaultJitterBrightness).sample(c.rng))
	enhanceContrast(img, pick(c.params.Ranges.JitterContrast, defaultJitterContrast).sample(c.rng))
	enhanceSaturation(img, pick(c.params.Ranges.JitterSaturation, defaultJitterSaturation).sample(c.rng))

	return BufferFromImage(img), nil
}

func brightness(c *call, buf *PixelBuffer) (*PixelBuffer, error) {
	factor := pick(c.params.Ranges.Brightness, defaultEnhance).sample(c.rng)
	img, err := buf.ToNRGBA()
	if err != nil {
		return nil, fmt.Errorf("convert to rgb: %w", err)
	}
	enhanceBrightness(img, factor)
	return BufferFromImage(img), nil
}

func contrast(c *call, buf *PixelBuffer) (*PixelBuffer, error) {
	factor := pick(c.params.Ranges.Contrast, defaultEnhance).sample(c.rng)
	img, err := buf.ToNRGBA()
	if err != nil {
		return nil, fmt.Errorf("convert to rgb: %w", err)
	}
	enhanceContrast(img, factor)
	return BufferFromImage(img), nil
}

// Each enhancement blends the image with a degenerate version of itself:
// out = deg + f*(in - deg). f == 1 is the identity.

func enhanceBrightness(img *image.NRGBA, factor float64) {
	f := float32(factor)
	forEachRGB(img, func(px []uint8) {
		for i := 0; i < 3; i++ {
			px[i] = blend(0, px[i], f)
		}
	})
}

func enhanceContrast(img *image.NRGBA, factor float64) {
	mean := uint8(meanLuma(img) + 0.5)
	f := float32(factor)
	forEachRGB(img, func(px []uint8) {
		for i := 0; i < 3; i++ {
			px[i] = blend(mean, px[i], f)
		}
	})
}

func enhanceSaturation(img *image.NRGBA, factor float64) {
	f := float32(factor)
	forEachRGB(img, func(px []uint8) {
		gray := luma(px[0], px[1], px[2])
		for i := 0; i < 3; i++ {
			px[i] = blend(gray, px[i], f)
		}
	})
}

func blend(deg, in uint8, f float32) uint8 {
	v := float32(deg) + f*(float32(in)-float32(deg))
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

// luma is the ITU-R 601-2 transform in 16.16 fixed point.
func luma(r, g, b uint8) uint8 {
	return uint8((uint32(r)*19595 + uint32(g)*38470 + uint32(b)*7471 + 0x8000) >> 16)
}

func meanLuma(img *image.NRGBA) float64 {
	var sum uint64
	n := 0
	forEachRGB(img, func(px []uint8) {
		sum += uint64(luma(px[0], px[1], px[2]))
		n++
	})
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

func forEachRGB(img *image.NRGBA, fn func(px []uint8)) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			fn(img.Pix[off+x*4 : off+x*4+3 : off+x*4+3])
		}
	}
}
