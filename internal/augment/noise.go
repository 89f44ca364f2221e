package augment

import (
	"math"
	"math/rand/v2"
)

const (
	noiseSigma       = 25.0
	saltPepperAmount = 0.05
)

func noise(c *call, buf *PixelBuffer) (*PixelBuffer, error) {
	switch c.params.noiseType() {
	case NoiseSaltPepper:
		saltPepper(c.rng, buf)
	default:
		gaussianNoise(c.rng, buf)
	}
	return buf, nil
}

// gaussianNoise adds N(0, 25) per element. The sample is truncated and
// wrapped to uint8 before a saturating add, so it never darkens a pixel.
func gaussianNoise(rng *rand.Rand, buf *PixelBuffer) {
	for i, p := range buf.Pix {
		n := int(rng.NormFloat64() * noiseSigma)
		buf.Pix[i] = addSat(p, uint8(n))
	}
}

func addSat(a, b uint8) uint8 {
	if s := uint16(a) + uint16(b); s < 0xff {
		return uint8(s)
	}
	return 0xff
}

// saltPepper whitens k sampled pixels, then blackens another k, where k is
// half of 5% of the element count. A sampled pixel is set on all channels.
func saltPepper(rng *rand.Rand, buf *PixelBuffer) {
	k := int(math.Ceil(saltPepperAmount * float64(len(buf.Pix)) * 0.5))
	for _, value := range []uint8{0xff, 0x00} {
		for i := 0; i < k; i++ {
			off := buf.offset(rng.IntN(buf.Width), rng.IntN(buf.Height))
			buf.Pix[off], buf.Pix[off+1], buf.Pix[off+2] = value, value, value
		}
	}
}
