package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Motion gate tuning.
const (
	blurKernel    = 21
	diffThreshold = 25
)

// MotionGate decides whether a frame differs enough from the previous one
// to be worth running inference on. A sorting chute is static between
// bottles, so most idle frames can be skipped.
type MotionGate struct {
	percent  float64
	previous gocv.Mat
	primed   bool
	mu       sync.Mutex
}

// NewMotionGate creates a gate that opens when more than percent of the
// pixels changed since the last frame.
func NewMotionGate(percent float64) *MotionGate {
	return &MotionGate{
		percent:  percent,
		previous: gocv.NewMat(),
	}
}

// Changed reports whether frame moved relative to the previous frame, and by
// how many percent of its pixels. The first frame after creation or Reset
// always counts as changed.
func (g *MotionGate) Changed(frame *gocv.Mat) (bool, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(blurKernel, blurKernel), 0, 0, gocv.BorderDefault)

	if !g.primed || g.previous.Rows() != blurred.Rows() || g.previous.Cols() != blurred.Cols() {
		blurred.CopyTo(&g.previous)
		g.primed = true
		return true, 100
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, g.previous, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, diffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(mask)) / float64(mask.Rows()*mask.Cols()) * 100.0
	blurred.CopyTo(&g.previous)

	return changed > g.percent, changed
}

// Reset forgets the previous frame.
func (g *MotionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.primed = false
}

// Close releases the stored frame.
func (g *MotionGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.previous.Empty() {
		g.previous.Close()
		g.previous = gocv.NewMat()
	}
	g.primed = false
}
