// internal/fractal/image.go
package fractal

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// ImageExt is the file extension of encoded images.
const ImageExt = ".png"

// FileName is the headless output name of a task: zero-padded 4-digit id plus ImageExt.
func FileName(taskID uint32) string {
	return fmt.Sprintf("%04d%s", taskID, ImageExt)
}

// Encode compresses img for the wire.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode restores an image produced by Encode.
func Decode(b []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}
