package display

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

type failingSink struct {
	Recorder
	err error
}

func (f *failingSink) Show(frame *gocv.Mat) error {
	f.Recorder.Show(frame)
	return f.err
}

func TestRecorder_QuitAfter(t *testing.T) {
	r := NewRecorder(2)
	frame := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer frame.Close()

	r.Show(&frame)
	if r.QuitRequested() {
		t.Error("quit requested after one frame, want two")
	}
	r.Show(&frame)
	if !r.QuitRequested() {
		t.Error("quit not requested after two frames")
	}
	if r.Shown() != 2 {
		t.Errorf("Shown() = %d, want 2", r.Shown())
	}
}

func TestRecorder_NeverQuits(t *testing.T) {
	r := NewRecorder(0)
	for i := 0; i < 10; i++ {
		r.Show(nil)
	}
	if r.QuitRequested() {
		t.Error("zero quitAfter should never request quit")
	}
}

func TestMulti(t *testing.T) {
	a := NewRecorder(0)
	b := NewRecorder(1)
	wantErr := errors.New("encode failed")
	c := &failingSink{err: wantErr}

	m := Multi{a, b, c}
	frame := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer frame.Close()

	if err := m.Show(&frame); !errors.Is(err, wantErr) {
		t.Errorf("Show() error = %v, want %v", err, wantErr)
	}
	if a.Shown() != 1 || b.Shown() != 1 || c.Shown() != 1 {
		t.Errorf("every sink should see the frame: %d %d %d", a.Shown(), b.Shown(), c.Shown())
	}
	if !m.QuitRequested() {
		t.Error("quit from one sink should propagate")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestDiscard(t *testing.T) {
	var d Discard
	if err := d.Show(nil); err != nil {
		t.Errorf("Show() error = %v", err)
	}
	if d.QuitRequested() {
		t.Error("Discard never requests quit")
	}
}
