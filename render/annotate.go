//go:build !opencv

package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"DatasetApp/dataset"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	lineWidth  = 2
	captionPad = 2
)

// Annotate draws every detection onto the image at path and returns it PNG
// encoded. Boxes are placed on the EXIF-rotated image.
func Annotate(path string, detections []dataset.Detection, palette *Palette) ([]byte, string, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image: %w", err)
	}
	canvas := imaging.Clone(src)
	for _, d := range detections {
		drawDetection(canvas, d, palette.Color(d.Label))
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), "image/png", nil
}

func drawDetection(dst draw.Image, d dataset.Detection, c color.RGBA) {
	r := pixelRect(d, dst.Bounds())
	if r.Empty() {
		return
	}
	fill := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+lineWidth),
		image.Rect(r.Min.X, r.Max.Y-lineWidth, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+lineWidth, r.Max.Y),
		image.Rect(r.Max.X-lineWidth, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), fill, image.Point{}, draw.Src)
	}
	drawCaption(dst, r, Caption(d), c)
}

// drawCaption writes text on a filled tag above the box, or inside it when
// the box touches the top edge.
func drawCaption(dst draw.Image, box image.Rectangle, text string, c color.RGBA) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(color.White), Face: face}
	w := d.MeasureString(text).Ceil() + 2*captionPad
	h := face.Height + 2*captionPad
	top := box.Min.Y - h
	if top < dst.Bounds().Min.Y {
		top = box.Min.Y
	}
	tag := image.Rect(box.Min.X, top, box.Min.X+w, top+h).Intersect(dst.Bounds())
	draw.Draw(dst, tag, image.NewUniform(c), image.Point{}, draw.Src)
	d.Dot = fixed.P(box.Min.X+captionPad, top+captionPad+face.Ascent)
	d.DrawString(text)
}
