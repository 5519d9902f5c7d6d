//go:build opencv

package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"DatasetApp/dataset"

	"gocv.io/x/gocv"
)

// Annotate draws every detection with OpenCV and returns the image JPEG
// encoded. IMRead applies the EXIF orientation, so boxes follow the rotated image.
func Annotate(path string, detections []dataset.Detection, palette *Palette) ([]byte, string, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		_ = mat.Close()
		return nil, "", errors.New("failed to open image: decoded image is empty or unsupported format")
	}
	defer mat.Close()

	bounds := image.Rect(0, 0, mat.Cols(), mat.Rows())
	for _, d := range detections {
		r := pixelRect(d, bounds)
		if r.Empty() {
			continue
		}
		c := palette.Color(d.Label)
		gocv.Rectangle(&mat, r, c, 2)

		text := Caption(d)
		size := gocv.GetTextSize(text, gocv.FontHersheySimplex, 0.5, 1)
		top := r.Min.Y - size.Y - 6
		if top < 0 {
			top = r.Min.Y
		}
		tag := image.Rect(r.Min.X, top, r.Min.X+size.X+4, top+size.Y+6)
		gocv.Rectangle(&mat, tag, c, -1)
		gocv.PutText(&mat, text, image.Pt(r.Min.X+2, top+size.Y+3), gocv.FontHersheySimplex, 0.5, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 1)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), "image/jpeg", nil
}
