// Package detector runs object detection on video frames and renders the results.
package detector

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Detection is a single labelled object found in a frame.
type Detection struct {
	Label      string          `json:"label"`
	ClassID    int             `json:"class_id"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// String formats the detection as "label 0.87".
func (d Detection) String() string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// Detector defines the interface for object detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns objects scoring at least
	// confidence. Returns an empty slice if nothing is found.
	Detect(frame *gocv.Mat, confidence float64) ([]Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for the YOLO detector.
type Config struct {
	// ModelPath is the YOLOv8 ONNX export.
	ModelPath string

	// ClassesPath is an optional text file with one class name per line.
	// When empty the COCO class table is used.
	ClassesPath string

	// InputSize is the square network input size (default: 640).
	InputSize int

	// NMSThreshold is the IoU threshold for non-maximum suppression.
	NMSThreshold float64
}

// DefaultConfig returns a Config matching a stock YOLOv8 export.
func DefaultConfig() Config {
	return Config{
		ModelPath:    "models/best.onnx",
		InputSize:    640,
		NMSThreshold: 0.45,
	}
}
