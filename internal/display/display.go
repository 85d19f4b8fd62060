// Package display shows annotated frames and listens for the manual quit key.
package display

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// DefaultQuitKey stops the detection loop when pressed in the window.
const DefaultQuitKey = 'q'

// Sink accepts annotated frames.
type Sink interface {
	// Show displays frame. The sink must not keep a reference to it.
	Show(frame *gocv.Mat) error
	// QuitRequested reports whether the operator asked to stop.
	QuitRequested() bool
	Close() error
}

// Window shows frames in an OpenCV HighGUI window.
type Window struct {
	window  *gocv.Window
	quitKey int
	quit    bool
	mu      sync.Mutex
}

// NewWindow opens a window with the given title.
func NewWindow(title string) *Window {
	return &Window{
		window:  gocv.NewWindow(title),
		quitKey: DefaultQuitKey,
	}
}

// Show draws frame and polls the keyboard for one millisecond.
func (w *Window) Show(frame *gocv.Mat) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.window == nil {
		return errors.New("window is closed")
	}
	if frame == nil || frame.Empty() {
		return nil
	}

	w.window.IMShow(*frame)
	if key := w.window.WaitKey(1); key >= 0 && key&0xFF == w.quitKey {
		w.quit = true
	}
	return nil
}

// QuitRequested reports whether the quit key was pressed.
func (w *Window) QuitRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.quit
}

// Close destroys the window.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.window == nil {
		return nil
	}
	err := w.window.Close()
	w.window = nil
	return err
}

// Discard drops frames. It is used when running headless.
type Discard struct{}

func (Discard) Show(*gocv.Mat) error { return nil }
func (Discard) QuitRequested() bool  { return false }
func (Discard) Close() error         { return nil }

// Multi fans frames out to several sinks. Quit is requested when any sink requests it.
type Multi []Sink

// Show forwards frame to every sink and returns the first error.
func (m Multi) Show(frame *gocv.Mat) error {
	var first error
	for _, s := range m {
		if err := s.Show(frame); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) QuitRequested() bool {
	for _, s := range m {
		if s.QuitRequested() {
			return true
		}
	}
	return false
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps count of frames shown and can simulate a quit after a number
// of frames. Useful in tests.
type Recorder struct {
	mu        sync.Mutex
	shown     int
	quitAfter int
}

// NewRecorder returns a Recorder that requests quit after quitAfter frames.
// Zero never quits.
func NewRecorder(quitAfter int) *Recorder {
	return &Recorder{quitAfter: quitAfter}
}

func (r *Recorder) Show(frame *gocv.Mat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown++
	return nil
}

func (r *Recorder) QuitRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quitAfter > 0 && r.shown >= r.quitAfter
}

func (r *Recorder) Close() error { return nil }

// Shown returns the number of frames shown.
func (r *Recorder) Shown() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shown
}
