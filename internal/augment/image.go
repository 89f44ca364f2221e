package augment

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Channels is the only channel count the engine supports.
const Channels = 3

var ErrInvalidImage = errors.New("invalid image")

// Image is either a *PixelBuffer (B-G-R) or a *Picture (R-G-B). The engine
// returns the same variant it was given.
type Image interface {
	Size() (width, height int)
	isImage()
}

// PixelBuffer is the raw pixel-array form: interleaved B-G-R bytes, row major,
// no padding between rows.
type PixelBuffer struct {
	Pix    []uint8
	Width  int
	Height int
}

func NewPixelBuffer(width, height int) *PixelBuffer {
	return &PixelBuffer{
		Pix:    make([]uint8, width*height*Channels),
		Width:  width,
		Height: height,
	}
}

func (b *PixelBuffer) Size() (int, int) { return b.Width, b.Height }

func (*PixelBuffer) isImage() {}

func (b *PixelBuffer) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil pixel buffer", ErrInvalidImage)
	}
	if b.Width < 1 || b.Height < 1 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidImage, b.Width, b.Height)
	}
	if want := b.Width * b.Height * Channels; len(b.Pix) != want {
		return fmt.Errorf("%w: buffer holds %d bytes, %dx%dx%d needs %d", ErrInvalidImage, len(b.Pix), b.Width, b.Height, Channels, want)
	}
	return nil
}

func (b *PixelBuffer) Clone() *PixelBuffer {
	out := &PixelBuffer{
		Pix:    make([]uint8, len(b.Pix)),
		Width:  b.Width,
		Height: b.Height,
	}
	copy(out.Pix, b.Pix)
	return out
}

func (b *PixelBuffer) offset(x, y int) int {
	return (y*b.Width + x) * Channels
}

// Picture is the high-level image-object form. Any image.Image is accepted on
// input; outputs carry an opaque *image.NRGBA.
type Picture struct {
	Image image.Image
}

func NewPicture(img image.Image) *Picture {
	return &Picture{Image: img}
}

func (p *Picture) Size() (int, int) {
	if p == nil || p.Image == nil {
		return 0, 0
	}
	b := p.Image.Bounds()
	return b.Dx(), b.Dy()
}

func (*Picture) isImage() {}

// BufferFromImage copies img into a B-G-R pixel buffer. Alpha is dropped.
func BufferFromImage(img image.Image) *PixelBuffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := NewPixelBuffer(w, h)

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[src.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
			for x := 0; x < w; x++ {
				s := row[x*4 : x*4+3 : x*4+3]
				d := out.Pix[out.offset(x, y):]
				d[0], d[1], d[2] = s[2], s[1], s[0]
			}
		}
	case *image.RGBA:
		// Premultiplied; opaque pixels convert exactly.
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(src.RGBAAt(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				d := out.Pix[out.offset(x, y):]
				d[0], d[1], d[2] = c.B, c.G, c.R
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				d := out.Pix[out.offset(x, y):]
				d[0], d[1], d[2] = c.B, c.G, c.R
			}
		}
	}
	return out
}

// ToNRGBA converts the buffer into the R-G-B high-level form with opaque alpha.
func (b *PixelBuffer) ToNRGBA() (*image.NRGBA, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Width; x++ {
			s := b.Pix[b.offset(x, y):]
			d := row[x*4 : x*4+4 : x*4+4]
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 0xff
		}
	}
	return dst, nil
}

// normalize converts any Image into a private PixelBuffer the operators may
// mutate freely.
func normalize(img Image) (*PixelBuffer, error) {
	switch v := img.(type) {
	case *PixelBuffer:
		if err := v.Validate(); err != nil {
			return nil, err
		}
		return v.Clone(), nil
	case *Picture:
		if v == nil || v.Image == nil {
			return nil, fmt.Errorf("%w: nil picture", ErrInvalidImage)
		}
		if w, h := v.Size(); w < 1 || h < 1 {
			return nil, fmt.Errorf("%w: size %dx%d", ErrInvalidImage, w, h)
		}
		return BufferFromImage(v.Image), nil
	case nil:
		return nil, fmt.Errorf("%w: nil image", ErrInvalidImage)
	default:
		return nil, fmt.Errorf("%w: unsupported representation %T", ErrInvalidImage, img)
	}
}

// restore converts buf back to the representation of like.
func restore(buf *PixelBuffer, like Image) (Image, error) {
	if _, ok := like.(*Picture); !ok {
		return buf, nil
	}
	img, err := buf.ToNRGBA()
	if err != nil {
		return nil, err
	}
	return &Picture{Image: img}, nil
}
