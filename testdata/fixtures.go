// Package testdata builds synthetic camera frames for tests.
package testdata

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Frame size used by the fixtures, matching the default camera resolution.
const (
	Width  = 640
	Height = 480
)

// BottleBox is where SceneWithBottle draws the bottle.
var BottleBox = image.Rect(280, 120, 360, 420)

// EmptyScene returns a uniform grey frame, like an idle chute.
func EmptyScene() *gocv.Mat {
	m := gocv.NewMatWithSize(Height, Width, gocv.MatTypeCV8UC3)
	m.SetTo(gocv.NewScalar(90, 90, 90, 0))
	return &m
}

// SceneWithBottle returns the empty scene with a bright bottle-shaped block in it.
func SceneWithBottle() *gocv.Mat {
	m := EmptyScene()
	gocv.Rectangle(m, BottleBox, color.RGBA{R: 240, G: 240, B: 255}, -1)
	return m
}

// Sequence returns idle empty frames followed by one frame with a bottle.
func Sequence(idle int) []*gocv.Mat {
	frames := make([]*gocv.Mat, 0, idle+1)
	for i := 0; i < idle; i++ {
		frames = append(frames, EmptyScene())
	}
	return append(frames, SceneWithBottle())
}

// CloseAll releases frames.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}
