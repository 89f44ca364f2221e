//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

// govipsCodec decodes anything libvips reads (HEIF, TIFF, AVIF on top of the
// stdlib set) and exports with libvips encoders. Pixels cross into Go as PNG.
type govipsCodec struct {
	fallback stdCodec
}

func (c govipsCodec) decode(input []byte) (image.Image, string, error) {
	ref, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, "", err
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, "", fmt.Errorf("auto rotate: %w", err)
	}

	data, _, err := ref.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, "", fmt.Errorf("export intermediate png: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("read intermediate png: %w", err)
	}
	return img, sourceFormat(vips.DetermineImageType(input)), nil
}

func (c govipsCodec) encodable(format string) bool {
	return format == "webp" || c.fallback.encodable(format)
}

func (c govipsCodec) encode(img image.Image, format string, quality int) ([]byte, error) {
	if format == "bmp" || format == "png" {
		return c.fallback.encode(img, format, quality)
	}

	raw, err := c.fallback.encode(img, "png", 0)
	if err != nil {
		return nil, err
	}
	ref, err := vips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, fmt.Errorf("load into libvips: %w", err)
	}
	defer ref.Close()

	switch format {
	case "jpeg":
		params := vips.NewJpegExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := ref.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case "webp":
		params := vips.NewWebpExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := ref.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func sourceFormat(t vips.ImageType) string {
	switch t {
	case vips.ImageTypeJPEG:
		return "jpeg"
	case vips.ImageTypeWEBP:
		return "webp"
	case vips.ImageTypeBMP:
		return "bmp"
	default:
		return "png"
	}
}
