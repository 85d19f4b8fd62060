package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayusman/pilah/internal/actuator"
	"github.com/ayusman/pilah/internal/capture"
	"github.com/ayusman/pilah/internal/detector"
	"github.com/ayusman/pilah/internal/display"
	"github.com/ayusman/pilah/internal/port"
	"github.com/ayusman/pilah/internal/store"
)

// DefaultAckTimeout bounds the wait for SELESAI. The firmware needs about a
// second to rotate the chute.
const DefaultAckTimeout = 15 * time.Second

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// Config holds everything a Pipeline needs.
type Config struct {
	Camera   capture.Camera
	Detector detector.Detector
	Sink     display.Sink
	Ports    port.Lister
	Opener   actuator.Opener
	// Store records every run. Optional.
	Store *store.Store

	// Device is a fixed serial path. When empty the port is discovered
	// by matching Signatures.
	Device     string
	Signatures []string

	TargetClass string
	Budget      time.Duration
	Confidence  float64
	Match       MatchPolicy
	// MotionThreshold is the percentage of changed pixels below which a
	// frame skips inference. Zero disables the motion gate.
	MotionThreshold float64
	AckTimeout      time.Duration
	RetryDelay      time.Duration
	Clock           Clock

	Logger zerolog.Logger
}

// Pipeline runs port resolution, detection and the serial handshake in sequence.
type Pipeline struct {
	config    Config
	running   sync.Mutex
	mu        sync.RWMutex
	observers []func(*store.Run)
	last      *store.Run
}

// New validates config and fills in defaults.
func New(config Config) (*Pipeline, error) {
	if config.Camera == nil {
		return nil, errors.New("pipeline: camera is required")
	}
	if config.Detector == nil {
		return nil, errors.New("pipeline: detector is required")
	}
	if config.Opener == nil {
		return nil, errors.New("pipeline: serial opener is required")
	}
	if config.Ports == nil {
		config.Ports = port.SystemLister{}
	}
	if config.Sink == nil {
		config.Sink = display.Discard{}
	}
	if config.TargetClass == "" {
		config.TargetClass = DefaultTargetClass
	}
	if config.Budget <= 0 {
		config.Budget = DefaultBudget
	}
	if config.Confidence <= 0 {
		config.Confidence = DefaultConfidence
	}
	if config.Match.Mode == "" {
		config.Match.Mode = MatchSubstring
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultAckTimeout
	}
	if config.Clock == nil {
		config.Clock = SystemClock()
	}

	return &Pipeline{config: config}, nil
}

// OnRun registers fn to be called after every finished run, successful or not.
func (p *Pipeline) OnRun(fn func(*store.Run)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// LastRun returns the most recent finished run, or nil.
func (p *Pipeline) LastRun() *store.Run {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Run performs one full cycle: resolve the board's port, run the detection
// loop, send exactly one command and wait for SELESAI. A run that starts is
// always returned and recorded, even when err is set. When another run is
// active Run returns a nil run and ErrRunInProgress.
func (p *Pipeline) Run(ctx context.Context) (*store.Run, error) {
	if !p.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.running.Unlock()

	return p.run(ctx)
}

// Trigger starts a run in the background and returns immediately. It returns
// ErrRunInProgress without starting anything when a run is already active.
// The outcome is delivered to the OnRun observers.
func (p *Pipeline) Trigger(ctx context.Context) error {
	if !p.running.TryLock() {
		return ErrRunInProgress
	}
	go func() {
		defer p.running.Unlock()
		p.run(ctx)
	}()
	return nil
}

func (p *Pipeline) run(ctx context.Context) (*store.Run, error) {
	run := &store.Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		AckLines:  []string{},
	}
	log := p.config.Logger.With().Str("run_id", run.ID).Logger()

	device, err := port.Resolve(p.config.Ports, p.config.Device, p.config.Signatures)
	if err != nil {
		return p.finish(log, run, fmt.Errorf("resolve device: %w", err))
	}
	run.Device = device
	log.Info().Str("device", device).Msg("using serial device")

	outcome, err := p.detect(ctx, log)
	run.BottleDetected = outcome.BottleDetected
	run.Frames = outcome.Frames
	run.Skipped = outcome.Skipped
	run.StopReason = string(outcome.StopReason)
	if outcome.Match != nil {
		run.MatchedLabel = outcome.Match.Label
		run.MatchedConfidence = outcome.Match.Confidence
	}
	if err != nil {
		return p.finish(log, run, err)
	}

	if err := p.signal(ctx, log, run, device, outcome.BottleDetected); err != nil {
		return p.finish(log, run, err)
	}

	return p.finish(log, run, nil)
}

func (p *Pipeline) detect(ctx context.Context, log zerolog.Logger) (Outcome, error) {
	cam := p.config.Camera
	if err := cam.Open(); err != nil {
		return Outcome{}, fmt.Errorf("open camera: %w", err)
	}
	defer func() {
		if err := cam.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing camera")
		}
	}()

	var gate *capture.MotionGate
	if p.config.MotionThreshold > 0 {
		gate = capture.NewMotionGate(p.config.MotionThreshold)
		defer gate.Close()
	}

	return RunDetectionLoop(ctx, LoopConfig{
		Camera:      cam,
		Detector:    p.config.Detector,
		Sink:        p.config.Sink,
		TargetClass: p.config.TargetClass,
		Budget:      p.config.Budget,
		Confidence:  p.config.Confidence,
		Match:       p.config.Match,
		Motion:      gate,
		Clock:       p.config.Clock,
		RetryDelay:  p.config.RetryDelay,
		Logger:      log,
	})
}

func (p *Pipeline) signal(ctx context.Context, log zerolog.Logger, run *store.Run, device string, detected bool) error {
	conn, err := p.config.Opener.Open(ctx, device)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing serial connection")
		}
	}()

	cmd, err := actuator.Signal(conn, detected)
	if err != nil {
		return err
	}
	run.Command = cmd.Token()
	log.Info().Str("command", cmd.Token()).Msg("command sent")

	ack, err := actuator.AwaitAck(ctx, conn, p.config.AckTimeout)
	run.AckLines = append(run.AckLines, ack.Lines...)
	run.Points = ack.Points
	run.HasPoints = ack.HasPoints
	if err != nil {
		return err
	}

	ev := log.Info().Strs("lines", ack.Lines)
	if ack.HasPoints {
		ev = ev.Int("points", ack.Points)
	}
	ev.Msg("board acknowledged")
	return nil
}

// finish stamps, stores and publishes run, and passes err through.
func (p *Pipeline) finish(log zerolog.Logger, run *store.Run, err error) (*store.Run, error) {
	run.FinishedAt = time.Now()

	switch {
	case err == nil:
		run.Status = store.RunCompleted
	case errors.Is(err, actuator.ErrAckTimeout):
		run.Status = store.RunAckTimeout
		run.Error = err.Error()
	default:
		run.Status = store.RunFailed
		run.Error = err.Error()
	}

	if p.config.Store != nil {
		if serr := p.config.Store.Runs().Create(run); serr != nil {
			log.Error().Err(serr).Msg("failed to record run")
		}
	}

	if err != nil {
		log.Error().Err(err).Str("status", string(run.Status)).Msg("run failed")
	} else {
		log.Info().
			Str("command", run.Command).
			Dur("duration", run.Duration()).
			Msg("run completed")
	}

	p.mu.Lock()
	p.last = run
	observers := append([]func(*store.Run){}, p.observers...)
	p.mu.Unlock()

	// Call the observers outside the lock to prevent deadlocks
	for _, fn := range observers {
		fn(run)
	}

	return run, err
}

// RunContinuous repeats Run every interval until ctx is cancelled. Failed runs
// are logged and do not stop the cycle.
func (p *Pipeline) RunContinuous(ctx context.Context, interval time.Duration) error {
	for {
		if _, err := p.Run(ctx); err != nil && ctx.Err() != nil {
			return nil
		}

		if err := sleepCtx(ctx, interval); err != nil {
			return nil
		}
	}
}
