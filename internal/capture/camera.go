// Package capture provides frame capture from cameras, video files and streams using GoCV.
package capture

import (
	"errors"
	"strconv"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// Default capture resolution. It matches the detector input width.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrEmptyFrame is returned when the source produced no image data.
	ErrEmptyFrame = errors.New("captured frame is empty")
	// ErrReadFailed is returned when the source could not deliver a frame.
	ErrReadFailed = errors.New("failed to read frame")
)

// Camera defines the interface for frame sources.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller owns the returned Mat and must close it.
	ReadFrame() (*gocv.Mat, error)
	IsOpen() bool
}

// cameraImpl reads frames from a gocv.VideoCapture.
type cameraImpl struct {
	source  string
	width   int
	height  int
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
}

// NewCamera creates a Camera for source. A numeric source is a device index,
// anything else is passed to OpenCV as a file name or stream URL.
func NewCamera(source string) Camera {
	return &cameraImpl{
		source: source,
		width:  DefaultWidth,
		height: DefaultHeight,
	}
}

// ParseSource converts a configured source into the value gocv.OpenVideoCapture expects.
func ParseSource(source string) interface{} {
	s := strings.TrimSpace(source)
	if s == "" {
		return 0
	}
	if id, err := strconv.Atoi(s); err == nil {
		return id
	}
	return s
}

// Open opens the source. Device sources are asked for 640x480.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	src := ParseSource(c.source)
	capture, err := gocv.OpenVideoCapture(src)
	if err != nil {
		return err
	}

	if _, isDevice := src.(int); isDevice {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	}

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the source and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, ErrReadFailed
	}

	if mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}

	return &mat, nil
}

// IsOpen returns true if the source is open.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
