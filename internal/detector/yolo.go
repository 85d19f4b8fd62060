package detector

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// boxFields is the number of leading values per candidate holding cx, cy, w, h.
const boxFields = 4

// ErrEmptyFrame is returned when Detect receives no image data.
var ErrEmptyFrame = errors.New("empty frame")

// YOLODetector runs a YOLOv8 ONNX model through the OpenCV DNN module.
type YOLODetector struct {
	net     gocv.Net
	config  Config
	classes []string
	mu      sync.Mutex
}

// candidate is a raw prediction before non-maximum suppression.
type candidate struct {
	box     image.Rectangle
	score   float32
	classID int
}

// NewYOLO loads the model and class table described by cfg.
func NewYOLO(cfg Config) (*YOLODetector, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultConfig().InputSize
	}
	if cfg.NMSThreshold <= 0 {
		cfg.NMSThreshold = DefaultConfig().NMSThreshold
	}

	classes := COCOClasses
	if cfg.ClassesPath != "" {
		names, err := LoadClassNames(cfg.ClassesPath)
		if err != nil {
			return nil, err
		}
		classes = names
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", cfg.ModelPath, err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:     net,
		config:  cfg,
		classes: classes,
	}, nil
}

// Detect runs one forward pass on frame and returns the objects scoring at
// least confidence, after non-maximum suppression.
func (d *YOLODetector) Detect(frame *gocv.Mat, confidence float64) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	size := image.Pt(d.config.InputSize, d.config.InputSize)
	blob := gocv.BlobFromImage(*frame, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	// YOLOv8 output is [1, 4+classes, anchors].
	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output tensor: %w", err)
	}

	scaleX := float32(frame.Cols()) / float32(d.config.InputSize)
	scaleY := float32(frame.Rows()) / float32(d.config.InputSize)
	cands := decodeOutput(data, dims[1], dims[2], float32(confidence), scaleX, scaleY)
	if len(cands) == 0 {
		return []Detection{}, nil
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.box
		scores[i] = c.score
	}

	indices := gocv.NMSBoxes(boxes, scores, float32(confidence), float32(d.config.NMSThreshold))

	detections := make([]Detection, 0, len(indices))
	for _, idx := range indices {
		c := cands[idx]
		detections = append(detections, Detection{
			Label:      ClassName(d.classes, c.classID),
			ClassID:    c.classID,
			Confidence: float64(c.score),
			Box:        c.box.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows())),
		})
	}
	return detections, nil
}

// decodeOutput turns a channel-major [channels][anchors] tensor into candidates.
// Boxes are scaled from network input space to frame pixels.
func decodeOutput(data []float32, channels, anchors int, threshold, scaleX, scaleY float32) []candidate {
	if channels <= boxFields || anchors <= 0 || len(data) < channels*anchors {
		return nil
	}

	var cands []candidate
	for i := 0; i < anchors; i++ {
		best := float32(0)
		bestID := -1
		for c := boxFields; c < channels; c++ {
			if s := data[c*anchors+i]; s > best {
				best = s
				bestID = c - boxFields
			}
		}
		if bestID < 0 || best < threshold {
			continue
		}

		cx := data[0*anchors+i]
		cy := data[1*anchors+i]
		w := data[2*anchors+i]
		h := data[3*anchors+i]

		cands = append(cands, candidate{
			box: image.Rect(
				int((cx-w/2)*scaleX),
				int((cy-h/2)*scaleY),
				int((cx+w/2)*scaleX),
				int((cy+h/2)*scaleY),
			),
			score:   best,
			classID: bestID,
		})
	}
	return cands
}

// Classes returns the class table in use.
func (d *YOLODetector) Classes() []string {
	return d.classes
}

// Close releases the network.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
