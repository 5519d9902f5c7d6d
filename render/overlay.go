package render

import (
	"fmt"
	"image"

	"DatasetApp/dataset"
	iface "DatasetApp/interface"
)

// Caption is the text drawn on a detection's tag.
func Caption(d dataset.Detection) string {
	if d.Confidence == nil {
		return d.Label
	}
	return fmt.Sprintf("%s %.2f", d.Label, *d.Confidence)
}

func boxRect(b iface.Box) image.Rectangle {
	return image.Rect(int(b.LT.X), int(b.LT.Y), int(b.RB.X), int(b.RB.Y))
}

// pixelRect places the relative box of d on the decoded image. bounds must
// be the orientation-corrected canvas, which is what YOLO labels refer to.
func pixelRect(d dataset.Detection, bounds image.Rectangle) image.Rectangle {
	r := boxRect(d.PixelBox(bounds.Dx(), bounds.Dy()))
	return r.Add(bounds.Min).Intersect(bounds)
}
