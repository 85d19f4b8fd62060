package e2e

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ayusman/pilah/internal/actuator"
	"github.com/ayusman/pilah/internal/capture"
	"github.com/ayusman/pilah/internal/detector"
	"github.com/ayusman/pilah/internal/pipeline"
	"github.com/ayusman/pilah/internal/port"
	"github.com/ayusman/pilah/internal/server"
	"github.com/ayusman/pilah/internal/server/api"
	"github.com/ayusman/pilah/internal/store"
	"github.com/ayusman/pilah/testdata"
)

// tickClock advances one second per reading.
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// board hands out a fresh firmware mock per connection and remembers them.
type board struct {
	mu      sync.Mutex
	devices []*actuator.MockDevice
}

func (b *board) open(ctx context.Context, device string) (io.ReadWriteCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := actuator.NewFirmwareMock(10)
	b.devices = append(b.devices, d)
	return d, nil
}

func (b *board) written() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.devices))
	for i, d := range b.devices {
		out[i] = d.Written()
	}
	return out
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	s, err := store.New(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	frames := testdata.Sequence(2)
	defer testdata.CloseAll(frames)

	det := detector.NewMockDetector()
	// The second idle frame is gated by the motion gate, so the bottle frame
	// is the second one the detector sees.
	det.SetScript([][]detector.Detection{nil, {detector.Bottle(0.91)}})

	brd := &board{}
	stream := server.NewStreamSink()

	p, err := pipeline.New(pipeline.Config{
		Camera:   capture.NewMockCamera(frames, true),
		Detector: det,
		Sink:     stream,
		Ports: &port.MockLister{Ports: []port.Descriptor{
			{Device: "/dev/ttyACM0", Description: "Arduino Uno", IsUSB: true},
		}},
		Opener:          actuator.OpenerFunc(brd.open),
		Store:           s,
		Budget:          20 * time.Second,
		MotionThreshold: 1.0,
		AckTimeout:      2 * time.Second,
		Clock:           &tickClock{},
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("pipeline.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := server.NewEventHub(zerolog.Nop())
	p.OnRun(hub.PublishRun)

	srv := server.New(server.Config{
		Store:  s,
		Stream: stream,
		Events: hub,
		Trigger: func() error {
			if err := p.Trigger(ctx); errors.Is(err, pipeline.ErrRunInProgress) {
				return fmt.Errorf("%w: %w", api.ErrBusy, err)
			} else if err != nil {
				return err
			}
			return nil
		},
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	for deadline := time.Now().Add(2 * time.Second); hub.Clients() == 0; {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Run("BottleRunViaAPI", func(t *testing.T) {
		resp, err := client.Post(ts.URL+"/api/runs", "application/json", nil)
		if err != nil {
			t.Fatalf("POST /api/runs error = %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
		}

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev server.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		run := ev.Run
		if run == nil {
			t.Fatal("event carries no run")
		}
		if run.Status != store.RunCompleted || run.Command != "BOTOL" {
			t.Fatalf("run = %+v, want completed BOTOL", run)
		}
		if run.Device != "/dev/ttyACM0" || run.Points != 10 {
			t.Errorf("device = %q, points = %d", run.Device, run.Points)
		}
		if run.Frames != 2 {
			t.Errorf("frames = %d, want 2", run.Frames)
		}
		if _, seq := stream.Latest(); seq == 0 {
			t.Error("stream sink never received a frame")
		}
	})

	t.Run("NoBottleRun", func(t *testing.T) {
		det.SetScript(nil)

		run, err := p.Run(ctx)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if run.Command != "TIDAK" || run.BottleDetected {
			t.Errorf("run = %+v, want TIDAK without bottle", run)
		}
		if run.StopReason != string(pipeline.StopBudget) {
			t.Errorf("stop reason = %q, want budget", run.StopReason)
		}
	})

	t.Run("History", func(t *testing.T) {
		got := brd.written()
		if len(got) != 2 || got[0] != "BOTOL\n" || got[1] != "TIDAK\n" {
			t.Errorf("board received %q, want exactly one command per run", got)
		}

		runs, err := s.Runs().List(0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("stored %d runs, want 2", len(runs))
		}

		summary, err := s.Runs().Summary()
		if err != nil {
			t.Fatalf("Summary() error = %v", err)
		}
		if summary.Bottles != 1 || summary.TotalPoints != 10 || summary.Failed != 0 {
			t.Errorf("summary = %+v", summary)
		}
	})
}

func TestE2E_NoBoardAttached(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	frames := testdata.Sequence(0)
	defer testdata.CloseAll(frames)

	brd := &board{}
	p, err := pipeline.New(pipeline.Config{
		Camera:   capture.NewMockCamera(frames, true),
		Detector: detector.NewMockDetector(),
		Ports:    &port.MockLister{Ports: []port.Descriptor{{Device: "/dev/ttyS0", Description: "16550A"}}},
		Opener:   actuator.OpenerFunc(brd.open),
		Clock:    &tickClock{},
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("pipeline.New() error = %v", err)
	}

	if _, err := p.Run(context.Background()); !errors.Is(err, port.ErrDeviceNotFound) {
		t.Fatalf("Run() error = %v, want ErrDeviceNotFound", err)
	}
	if len(brd.written()) != 0 {
		t.Error("no connection should be opened without a matching port")
	}
}
