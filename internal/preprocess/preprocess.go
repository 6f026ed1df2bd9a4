// Package preprocess normalizes arbitrary input images into the fixed-size
// pixel layout the classifier expects.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// TargetSize is the square edge length, in pixels, of the classifier input.
const TargetSize = 224

// Channels is the number of color channels in the classifier input.
const Channels = 3

// ErrInvalidImage indicates the input could not be decoded or has zero area.
var ErrInvalidImage = errors.New("invalid image")

// PixelBuffer holds a decoded image flattened into the classifier's input
// layout: CHW order (all red values, then green, then blue), each channel
// normalized from its 8-bit value into [0,1].
type PixelBuffer struct {
	Data   []float32
	Width  int
	Height int
}

// Preprocess decodes data (JPEG or PNG), stretches it to TargetSize×TargetSize
// without preserving aspect ratio, and flattens it into a PixelBuffer.
// The transformation is pure and deterministic.
func Preprocess(data []byte) (*PixelBuffer, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: zero-area dimensions %dx%d", ErrInvalidImage, bounds.Dx(), bounds.Dy())
	}

	return FromImage(img), nil
}

// FromImage flattens an already-decoded image into the classifier input
// layout. The image is stretched to TargetSize×TargetSize.
func FromImage(img image.Image) *PixelBuffer {
	resized := resize.Resize(TargetSize, TargetSize, img, resize.Bilinear)

	width := TargetSize
	height := TargetSize
	data := make([]float32, Channels*width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()

			idx := y*width + x
			data[idx] = float32(r) / 65535.0
			data[width*height+idx] = float32(g) / 65535.0
			data[2*width*height+idx] = float32(b) / 65535.0
		}
	}

	return &PixelBuffer{Data: data, Width: width, Height: height}
}
