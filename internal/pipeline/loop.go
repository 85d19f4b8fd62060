// Package pipeline runs the detect-then-signal cycle of the sorting station.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/ayusman/pilah/internal/capture"
	"github.com/ayusman/pilah/internal/detector"
	"github.com/ayusman/pilah/internal/display"
)

// Loop defaults.
const (
	DefaultBudget      = 20 * time.Second
	DefaultConfidence  = 0.25
	DefaultTargetClass = "bottle"
	DefaultRetryDelay  = 10 * time.Millisecond
)

// StopReason says why the detection loop ended.
type StopReason string

const (
	StopBudget    StopReason = "budget"
	StopDetected  StopReason = "detected"
	StopQuit      StopReason = "quit"
	StopCancelled StopReason = "cancelled"
)

// LoopConfig parameterizes one detection loop.
type LoopConfig struct {
	Camera      capture.Camera
	Detector    detector.Detector
	Sink        display.Sink
	TargetClass string
	Budget      time.Duration
	Confidence  float64
	Match       MatchPolicy
	// Motion skips inference on frames that did not change. Nil disables it.
	Motion *capture.MotionGate
	Clock  Clock
	// RetryDelay is the pause after a failed frame read.
	RetryDelay time.Duration
	Logger     zerolog.Logger
}

// Outcome is the result of a detection loop.
type Outcome struct {
	BottleDetected bool
	// Frames counts frames submitted to the detector.
	Frames int
	// Skipped counts failed frame reads and failed inferences.
	Skipped int
	// Gated counts frames the motion gate kept from the detector.
	Gated      int
	Elapsed    time.Duration
	Match      *detector.Detection
	StopReason StopReason
}

func (c *LoopConfig) validate() error {
	if c.Camera == nil {
		return errors.New("loop: camera is required")
	}
	if c.Detector == nil {
		return errors.New("loop: detector is required")
	}
	if c.Budget <= 0 {
		return fmt.Errorf("loop: budget must be positive, got %s", c.Budget)
	}
	if c.Sink == nil {
		c.Sink = display.Discard{}
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	if c.Match.Mode == "" {
		c.Match.Mode = MatchSubstring
	}
	return nil
}

// RunDetectionLoop pulls frames from the camera and runs the detector on them
// until the target class is seen, the budget elapses, the sink reports the quit
// key, or ctx is cancelled. The camera must already be open.
//
// Failed frame reads and failed inferences are skipped; the loop keeps going
// until the budget runs out. Cancellation returns the partial outcome together
// with the context error.
func RunDetectionLoop(ctx context.Context, cfg LoopConfig) (Outcome, error) {
	if err := cfg.validate(); err != nil {
		return Outcome{}, err
	}

	log := cfg.Logger
	start := cfg.Clock.Now()
	var out Outcome

	for {
		if err := ctx.Err(); err != nil {
			out.StopReason = StopCancelled
			return out, err
		}

		out.Elapsed = cfg.Clock.Now().Sub(start)
		if out.Elapsed >= cfg.Budget {
			out.StopReason = StopBudget
			break
		}

		frame, err := cfg.Camera.ReadFrame()
		if err != nil {
			out.Skipped++
			log.Debug().Err(err).Int("skipped", out.Skipped).Msg("frame read failed, skipping")
			if err := sleepCtx(ctx, cfg.RetryDelay); err != nil {
				out.StopReason = StopCancelled
				return out, err
			}
			continue
		}

		matched := processFrame(&cfg, frame, &out)
		frame.Close()

		if cfg.Sink.QuitRequested() {
			out.StopReason = StopQuit
			break
		}
		if matched && !cfg.Match.Accumulate {
			out.StopReason = StopDetected
			break
		}
	}

	ev := log.Info().
		Bool("bottle", out.BottleDetected).
		Str("reason", string(out.StopReason)).
		Int("frames", out.Frames).
		Int("skipped", out.Skipped).
		Dur("elapsed", out.Elapsed)
	if out.Match != nil {
		ev = ev.Str("label", out.Match.Label).Float64("confidence", out.Match.Confidence)
	}
	ev.Msg("detection loop finished")

	return out, nil
}

// processFrame runs inference on one frame, updates out and renders the overlay.
// It reports whether the frame contained the target class.
func processFrame(cfg *LoopConfig, frame *gocv.Mat, out *Outcome) bool {
	log := cfg.Logger

	if cfg.Motion != nil {
		if moved, _ := cfg.Motion.Changed(frame); !moved {
			out.Gated++
			show(cfg, frame, out)
			return false
		}
	}

	detections, err := cfg.Detector.Detect(frame, cfg.Confidence)
	out.Frames++
	if err != nil {
		out.Skipped++
		log.Warn().Err(err).Msg("inference failed, skipping frame")
		show(cfg, frame, out)
		return false
	}

	matched := false
	for i := range detections {
		det := detections[i]
		if !cfg.Match.Matches(det.Label, cfg.TargetClass) {
			continue
		}
		matched = true
		out.BottleDetected = true
		if out.Match == nil || det.Confidence > out.Match.Confidence {
			out.Match = &det
		}
		if !cfg.Match.Accumulate {
			break
		}
	}

	detector.Annotate(frame, detections, func(d detector.Detection) bool {
		return cfg.Match.Matches(d.Label, cfg.TargetClass)
	})
	show(cfg, frame, out)

	return matched
}

func show(cfg *LoopConfig, frame *gocv.Mat, out *Outcome) {
	status := "mencari..."
	if out.BottleDetected {
		status = "BOTOL"
	}
	detector.Caption(frame, status)

	if err := cfg.Sink.Show(frame); err != nil {
		cfg.Logger.Warn().Err(err).Msg("display failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
