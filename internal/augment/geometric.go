package augment

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// rotate turns the image about its center by a sampled angle in degrees.
// Corners exposed by the rotation stay zero (black). Destination pixels whose
// source point falls outside the image are left untouched rather than blended
// with the border, so the rotated edge is hard instead of antialiased.
func rotate(c *call, buf *PixelBuffer) (*PixelBuffer, error) {
	angle := pick(c.params.Ranges.RotationDegrees, defaultRotation).sample(c.rng)
	return rotateBy(buf, angle)
}

func rotateBy(buf *PixelBuffer, degrees float64) (*PixelBuffer, error) {
	src, err := buf.ToNRGBA()
	if err != nil {
		return nil, err
	}

	rad := degrees * math.Pi / 180
	alpha, beta := math.Cos(rad), math.Sin(rad)
	cx, cy := float64(buf.Width/2), float64(buf.Height/2)

	// Source-to-destination affine; positive angles turn counter-clockwise.
	s2d := f64.Aff3{
		alpha, beta, (1-alpha)*cx - beta*cy,
		-beta, alpha, beta*cx + (1-alpha)*cy,
	}

	dst := image.NewNRGBA(image.Rect(0, 0, buf.Width, buf.Height))
	draw.BiLinear.Transform(dst, s2d, src, src.Bounds(), draw.Src, nil)
	return BufferFromImage(dst), nil
}

const (
	flipVertical = iota
	flipHorizontal
	flipNone
)

func flip(c *call, buf *PixelBuffer) (*PixelBuffer, error) {
	return flipBy(buf, c.rng.IntN(3)), nil
}

func flipBy(buf *PixelBuffer, mode int) *PixelBuffer {
	rowBytes := buf.Width * Channels
	switch mode {
	case flipVertical:
		for top, bottom := 0, buf.Height-1; top < bottom; top, bottom = top+1, bottom-1 {
			a := buf.Pix[top*rowBytes : (top+1)*rowBytes]
			b := buf.Pix[bottom*rowBytes : (bottom+1)*rowBytes]
			for i := range a {
				a[i], b[i] = b[i], a[i]
			}
		}
	case flipHorizontal:
		for y := 0; y < buf.Height; y++ {
			for left, right := 0, buf.Width-1; left < right; left, right = left+1, right-1 {
				l, r := buf.offset(left, y), buf.offset(right, y)
				for ch := 0; ch < Channels; ch++ {
					buf.Pix[l+ch], buf.Pix[r+ch] = buf.Pix[r+ch], buf.Pix[l+ch]
				}
			}
		}
	}
	return buf
}

// cropBox is the sub-rectangle a crop extracts.
type cropBox struct {
	X, Y, W, H int
}

// cropExtent scales one dimension by ratio, never below one pixel.
func cropExtent(dim int, ratio float64) int {
	n := int(float64(dim) * ratio)
	if n < 1 {
		n = 1
	}
	if n > dim {
		n = dim
	}
	return n
}

func sampleCropBox(c *call, width, height int) cropBox {
	ratio := pick(c.params.Ranges.CropRatio, defaultCropRatio).sample(c.rng)
	box := cropBox{W: cropExtent(width, ratio), H: cropExtent(height, ratio)}
	box.X = c.rng.IntN(width - box.W + 1)
	box.Y = c.rng.IntN(height - box.H + 1)
	return box
}

func crop(c *call, buf *PixelBuffer) (*PixelBuffer, error) {
	box := sampleCropBox(c, buf.Width, buf.Height)
	region := buf.region(box.X, box.Y, box.W, box.H)
	return resizeBuffer(region, buf.Width, buf.Height)
}

func scale(c *call, buf *PixelBuffer) (*PixelBuffer, error) {
	factor := pick(c.params.Ranges.ScaleFactor, defaultScaleFactor).sample(c.rng)
	return scaleInto(buf, factor)
}

// maxScaledPixels bounds the intermediate image an upscale may allocate.
const maxScaledPixels = 1 << 28

var errScaledTooLarge = errors.New("scaled image too large")

// scaleInto resizes by factor and reconciles to the original canvas: a larger
// result is center-cropped, a smaller one is centered on a zero canvas.
func scaleInto(buf *PixelBuffer, factor float64) (*PixelBuffer, error) {
	w, h := buf.Width, buf.Height
	nw := max(1, int(float64(w)*factor))
	nh := max(1, int(float64(h)*factor))
	if float64(nw)*float64(nh) > maxScaledPixels {
		return nil, fmt.Errorf("%w: %dx%d", errScaledTooLarge, nw, nh)
	}

	scaled, err := resizeBuffer(buf, nw, nh)
	if err != nil {
		return nil, err
	}

	// factor > 1 implies nw >= w and nh >= h.
	if factor > 1.0 {
		return scaled.region((nw-w)/2, (nh-h)/2, w, h), nil
	}

	canvas := NewPixelBuffer(w, h)
	canvas.paste(scaled, (w-nw)/2, (h-nh)/2)
	return canvas, nil
}

// region copies the w×h block at (x0, y0). The block must lie inside b.
func (b *PixelBuffer) region(x0, y0, w, h int) *PixelBuffer {
	out := NewPixelBuffer(w, h)
	rowBytes := w * Channels
	for y := 0; y < h; y++ {
		s := b.offset(x0, y0+y)
		copy(out.Pix[y*rowBytes:(y+1)*rowBytes], b.Pix[s:s+rowBytes])
	}
	return out
}

// paste copies src onto b with its top-left corner at (x0, y0), clipped to b.
func (b *PixelBuffer) paste(src *PixelBuffer, x0, y0 int) {
	dst := image.Rect(0, 0, b.Width, b.Height)
	area := image.Rect(x0, y0, x0+src.Width, y0+src.Height).Intersect(dst)
	if area.Empty() {
		return
	}
	n := area.Dx() * Channels
	for y := area.Min.Y; y < area.Max.Y; y++ {
		s := src.offset(area.Min.X-x0, y-y0)
		d := b.offset(area.Min.X, y)
		copy(b.Pix[d:d+n], src.Pix[s:s+n])
	}
}

// resizeBuffer resamples buf to w×h with bilinear interpolation.
func resizeBuffer(buf *PixelBuffer, w, h int) (*PixelBuffer, error) {
	if w == buf.Width && h == buf.Height {
		return buf.Clone(), nil
	}
	img, err := buf.ToNRGBA()
	if err != nil {
		return nil, err
	}
	return BufferFromImage(resize.Resize(uint(w), uint(h), img, resize.Bilinear)), nil
}
