package compressor

import (
	"bytes"
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var errEmptyOutput = errors.New("encoder produced no output")

// ImagingCodec implements Codec with github.com/disintegration/imaging.
type ImagingCodec struct {
	// Filter is the resampling filter used by Resize. Defaults to Lanczos.
	Filter imaging.ResampleFilter
}

// NewImagingCodec returns a codec using Lanczos resampling.
func NewImagingCodec() *ImagingCodec {
	return &ImagingCodec{Filter: imaging.Lanczos}
}

// Decode reads the image and applies its EXIF orientation.
func (c *ImagingCodec) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty source")
	}
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// Resize scales img to w x h.
func (c *ImagingCodec) Resize(img image.Image, w, h int) image.Image {
	filter := c.Filter
	if filter.Support == 0 && filter.Kernel == nil {
		filter = imaging.Lanczos
	}
	return imaging.Resize(img, w, h, filter)
}

// EncodeLossy encodes img as JPEG. quality is clamped to [0,1] and mapped onto 1..100.
func (c *ImagingCodec) EncodeLossy(img image.Image, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality(quality))); err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, errEmptyOutput
	}
	return buf.Bytes(), nil
}

// clampQuality keeps quality inside the encoder's [0,1] range.
func clampQuality(q float64) float64 {
	if math.IsNaN(q) || q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

func jpegQuality(q float64) int {
	v := int(math.Round(clampQuality(q) * 100))
	if v < 1 {
		v = 1
	}
	return v
}
