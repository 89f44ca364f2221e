//go:build gocv && cgo

package augment

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

func gaussianBlur(buf *PixelBuffer, ksize int) (*PixelBuffer, error) {
	return withMat(buf, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.GaussianBlur(src, dst, image.Pt(ksize, ksize), 0, 0, gocv.BorderDefault)
	})
}

func medianBlur(buf *PixelBuffer, ksize int) (*PixelBuffer, error) {
	return withMat(buf, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.MedianBlur(src, dst, ksize)
	})
}

// withMat wraps buf as an 8UC3 Mat (OpenCV's native B-G-R layout) and copies
// the result of fn back out.
func withMat(buf *PixelBuffer, fn func(src gocv.Mat, dst *gocv.Mat)) (*PixelBuffer, error) {
	src, err := gocv.NewMatFromBytes(buf.Height, buf.Width, gocv.MatTypeCV8UC3, buf.Pix)
	if err != nil {
		return nil, fmt.Errorf("wrap pixel buffer: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	fn(src, &dst)
	if dst.Empty() {
		return nil, fmt.Errorf("opencv produced an empty image")
	}

	out := &PixelBuffer{Pix: dst.ToBytes(), Width: buf.Width, Height: buf.Height}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
