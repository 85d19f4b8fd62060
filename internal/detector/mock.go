package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It returns a scripted sequence of results, one entry per Detect call,
// and then the default result for every further call.
type MockDetector struct {
	mu          sync.Mutex
	script      [][]Detection
	defaults    []Detection
	err         error
	calls       int
	confidences []float64
	closed      bool
}

// NewMockDetector creates a new MockDetector instance that detects nothing.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetDetections sets the detections returned once the script is exhausted.
func (m *MockDetector) SetDetections(dets []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = dets
}

// SetScript sets per-call results. Call i returns script[i].
func (m *MockDetector) SetScript(script [][]Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = script
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the next scripted result or error.
func (m *MockDetector) Detect(frame *gocv.Mat, confidence float64) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.calls
	m.calls++
	m.confidences = append(m.confidences, confidence)

	if m.err != nil {
		return nil, m.err
	}
	if call < len(m.script) {
		return m.script[call], nil
	}
	return m.defaults, nil
}

// Calls returns how many times Detect was invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Confidences returns the thresholds passed to each Detect call.
func (m *MockDetector) Confidences() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.confidences...)
}

// Close marks the detector as closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Bottle returns a plausible bottle detection for tests and demos.
func Bottle(confidence float64) Detection {
	return Detection{
		Label:      "bottle",
		ClassID:    39,
		Confidence: confidence,
		Box:        image.Rect(250, 120, 330, 400),
	}
}
