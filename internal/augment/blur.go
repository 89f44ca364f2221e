package augment

import "math"

const blurKernel = 15

func blur(c *call, buf *PixelBuffer) (*PixelBuffer, error) {
	switch c.params.blurType() {
	case BlurMedian:
		return medianBlur(buf, blurKernel)
	default:
		return gaussianBlur(buf, blurKernel)
	}
}

// gaussianKernel returns a normalized 1-D kernel. A non-positive sigma is
// derived from the size as 0.3*((k-1)*0.5-1)+0.8.
func gaussianKernel(ksize int, sigma float64) []float32 {
	if sigma <= 0 {
		sigma = 0.3*((float64(ksize)-1)*0.5-1) + 0.8
	}
	k := make([]float64, ksize)
	center := float64(ksize-1) / 2
	scale := -0.5 / (sigma * sigma)
	var sum float64
	for i := range k {
		d := float64(i) - center
		k[i] = math.Exp(scale * d * d)
		sum += k[i]
	}
	out := make([]float32, ksize)
	for i := range k {
		out[i] = float32(k[i] / sum)
	}
	return out
}

// reflect101 maps i into [0, n) mirroring about the edge pixels (gfedcb|abcdefgh|gfedcba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func gaussianBlurGo(buf *PixelBuffer, ksize int) *PixelBuffer {
	kernel := gaussianKernel(ksize, 0)
	r := ksize / 2
	w, h := buf.Width, buf.Height

	tmp := make([]float32, len(buf.Pix))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc [Channels]float32
			for k := -r; k <= r; k++ {
				s := buf.offset(reflect101(x+k, w), y)
				wt := kernel[k+r]
				for ch := 0; ch < Channels; ch++ {
					acc[ch] += wt * float32(buf.Pix[s+ch])
				}
			}
			d := buf.offset(x, y)
			copy(tmp[d:d+Channels], acc[:])
		}
	}

	out := NewPixelBuffer(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc [Channels]float32
			for k := -r; k <= r; k++ {
				s := buf.offset(x, reflect101(y+k, h))
				wt := kernel[k+r]
				for ch := 0; ch < Channels; ch++ {
					acc[ch] += wt * tmp[s+ch]
				}
			}
			d := out.offset(x, y)
			for ch := 0; ch < Channels; ch++ {
				out.Pix[d+ch] = roundByte(acc[ch])
			}
		}
	}
	return out
}

func roundByte(v float32) uint8 {
	v += 0.5
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

// medianBlurGo runs a ksize×ksize median per channel with a sliding
// histogram. Borders replicate the edge pixels.
func medianBlurGo(buf *PixelBuffer, ksize int) *PixelBuffer {
	r := ksize / 2
	rank := ksize * ksize / 2
	w, h := buf.Width, buf.Height
	out := NewPixelBuffer(w, h)

	var hist [256]int
	column := func(ch, x, y, delta int) {
		cx := clampIndex(x, w)
		for dy := -r; dy <= r; dy++ {
			hist[buf.Pix[buf.offset(cx, clampIndex(y+dy, h))+ch]] += delta
		}
	}

	for ch := 0; ch < Channels; ch++ {
		for y := 0; y < h; y++ {
			hist = [256]int{}
			for dx := -r; dx <= r; dx++ {
				column(ch, dx, y, 1)
			}
			for x := 0; x < w; x++ {
				out.Pix[out.offset(x, y)+ch] = histogramRank(&hist, rank)
				if x+1 < w {
					column(ch, x-r, y, -1)
					column(ch, x+r+1, y, 1)
				}
			}
		}
	}
	return out
}

// histogramRank returns the value at 0-based position rank in sorted order.
func histogramRank(hist *[256]int, rank int) uint8 {
	seen := 0
	for v, n := range hist {
		seen += n
		if seen > rank {
			return uint8(v)
		}
	}
	return 255
}
