//go:build !gocv || !cgo

package augment

func gaussianBlur(buf *PixelBuffer, ksize int) (*PixelBuffer, error) {
	return gaussianBlurGo(buf, ksize), nil
}

func medianBlur(buf *PixelBuffer, ksize int) (*PixelBuffer, error) {
	return medianBlurGo(buf, ksize), nil
}
