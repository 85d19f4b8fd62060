package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// StreamSink keeps the most recent annotated frame as JPEG so it can be
// served to browsers. It implements display.Sink and never requests quit.
type StreamSink struct {
	mu     sync.RWMutex
	jpeg   []byte
	seq    uint64
	closed bool
}

// NewStreamSink creates an empty StreamSink.
func NewStreamSink() *StreamSink {
	return &StreamSink{}
}

// Show encodes frame as JPEG and replaces the stored frame.
func (s *StreamSink) Show(frame *gocv.Mat) error {
	if frame == nil || frame.Empty() {
		return nil
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases C memory that buf.Close releases.
	data := append([]byte(nil), buf.GetBytes()...)
	s.Publish(data)
	return nil
}

// Publish stores an already encoded JPEG.
func (s *StreamSink) Publish(jpeg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.jpeg = jpeg
	s.seq++
}

// Latest returns the stored JPEG and its sequence number. The sequence is
// zero until the first frame arrives.
func (s *StreamSink) Latest() ([]byte, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jpeg, s.seq
}

func (s *StreamSink) QuitRequested() bool { return false }

// Close stops accepting frames. Connected viewers keep the last frame.
func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// StreamHandler serves the sink's frames as MJPEG.
type StreamHandler struct {
	sink     *StreamSink
	interval time.Duration
}

// NewStreamHandler creates a new StreamHandler polling sink at about 15 FPS.
func NewStreamHandler(sink *StreamSink) *StreamHandler {
	return &StreamHandler{sink: sink, interval: 66 * time.Millisecond}
}

// ServeHTTP streams MJPEG frames until the client goes away. A frame is
// written only when the sink has a new one.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last uint64
	for {
		if jpeg, seq := h.sink.Latest(); seq != last {
			last = seq
			if err := writePart(w, jpeg); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writePart(w http.ResponseWriter, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}
