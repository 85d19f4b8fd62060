package detector

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	boxColor   = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	matchColor = color.RGBA{R: 255, G: 0, B: 255, A: 0}
)

// Annotate draws a box and a "label conf" caption for each detection onto
// frame in place. Detections for which highlight returns true are drawn in a
// second color. highlight may be nil.
func Annotate(frame *gocv.Mat, detections []Detection, highlight func(Detection) bool) {
	if frame == nil || frame.Empty() {
		return
	}

	for _, det := range detections {
		c := boxColor
		if highlight != nil && highlight(det) {
			c = matchColor
		}

		gocv.Rectangle(frame, det.Box, c, 2)

		y := det.Box.Min.Y - 5
		if y < 12 {
			y = det.Box.Min.Y + 15
		}
		gocv.PutText(frame, fmt.Sprintf("%s %.2f", det.Label, det.Confidence),
			image.Pt(det.Box.Min.X, y), gocv.FontHersheySimplex, 0.5, c, 1)
	}
}

// Caption writes a status line in the top left corner of frame.
func Caption(frame *gocv.Mat, text string) {
	if frame == nil || frame.Empty() {
		return
	}
	gocv.PutText(frame, text, image.Pt(10, 25), gocv.FontHersheyPlain, 1.2, matchColor, 1)
}
