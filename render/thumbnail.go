package render

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// Thumbnail scales the image at path to fit within maxW x maxH and encodes it as JPEG.
func Thumbnail(path string, maxW, maxH int) ([]byte, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	thumb := imaging.Fit(img, maxW, maxH, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
