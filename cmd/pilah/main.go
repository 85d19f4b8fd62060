package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/ayusman/pilah/internal/actuator"
	"github.com/ayusman/pilah/internal/capture"
	"github.com/ayusman/pilah/internal/config"
	"github.com/ayusman/pilah/internal/detector"
	"github.com/ayusman/pilah/internal/display"
	"github.com/ayusman/pilah/internal/logger"
	"github.com/ayusman/pilah/internal/pipeline"
	"github.com/ayusman/pilah/internal/port"
	"github.com/ayusman/pilah/internal/server"
	"github.com/ayusman/pilah/internal/server/api"
	"github.com/ayusman/pilah/internal/store"
	"github.com/ayusman/pilah/internal/tray"
)

const windowTitle = "Deteksi Botol"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pilah: %v\n", err)
		return 2
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st *store.Store
	if cfg.Store.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
			log.Error().Err(err).Msg("failed to create data directory")
			return 1
		}
		st, err = store.New(cfg.Store.Path)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.Store.Path).Msg("failed to open run history")
			return 1
		}
		defer st.Close()
	}

	det, err := detector.NewYOLO(detector.Config{
		ModelPath:    cfg.Detector.Model,
		ClassesPath:  cfg.Detector.Classes,
		InputSize:    cfg.Detector.InputSize,
		NMSThreshold: cfg.Detector.NMS,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to load detector")
		return 1
	}
	defer det.Close()
	log.Info().Str("model", cfg.Detector.Model).Int("classes", len(det.Classes())).Msg("detector ready")

	// HighGUI and the tray both want the main thread.
	showWindow := cfg.Loop.Display && !cfg.Tray
	if cfg.Loop.Display && cfg.Tray {
		log.Warn().Msg("camera window is disabled while the tray is shown")
	}

	var sinks display.Multi
	if showWindow {
		sinks = append(sinks, display.NewWindow(windowTitle))
	}
	var stream *server.StreamSink
	if cfg.HTTP.Addr != "" {
		stream = server.NewStreamSink()
		sinks = append(sinks, stream)
	}
	defer sinks.Close()

	p, err := pipeline.New(pipeline.Config{
		Camera:   capture.NewCamera(cfg.Camera.Source),
		Detector: det,
		Sink:     sinks,
		Ports:    port.SystemLister{},
		Opener: actuator.SerialOpener{Options: actuator.Options{
			BaudRate: cfg.Serial.Baud,
			Settle:   cfg.Serial.Settle,
		}},
		Store:           st,
		Device:          cfg.Serial.Device,
		Signatures:      cfg.Serial.Signatures,
		TargetClass:     cfg.Loop.TargetClass,
		Budget:          cfg.Loop.Budget,
		Confidence:      cfg.Detector.Confidence,
		Match:           cfg.MatchPolicy(),
		MotionThreshold: cfg.Loop.MotionThreshold,
		AckTimeout:      cfg.Serial.AckTimeout,
		RetryDelay:      pipeline.DefaultRetryDelay,
		Logger:          log.With().Str("component", "pipeline").Logger(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build pipeline")
		return 1
	}

	if cfg.HTTP.Addr != "" {
		startServer(ctx, cfg, log, p, st, stream)
	}

	if cfg.Tray {
		runTray(ctx, stop, cfg, log, p)
		return 0
	}

	if cfg.Run.Continuous {
		log.Info().Dur("interval", cfg.Run.Interval).Msg("running continuously, press Ctrl+C to stop")
		if err := p.RunContinuous(ctx, cfg.Run.Interval); err != nil {
			log.Error().Err(err).Msg("continuous run stopped")
			return 1
		}
		return 0
	}

	if _, err := p.Run(ctx); err != nil {
		return 1
	}
	return 0
}

func startServer(ctx context.Context, cfg *config.Config, log zerolog.Logger, p *pipeline.Pipeline, st *store.Store, stream *server.StreamSink) {
	hub := server.NewEventHub(log.With().Str("component", "events").Logger())
	p.OnRun(hub.PublishRun)

	srv := server.New(server.Config{
		StaticDir: cfg.HTTP.Static,
		Store:     st,
		Stream:    stream,
		Events:    hub,
		Trigger: func() error {
			err := p.Trigger(ctx)
			if errors.Is(err, pipeline.ErrRunInProgress) {
				return fmt.Errorf("%w: %w", api.ErrBusy, err)
			}
			return err
		},
		Logger: log.With().Str("component", "http").Logger(),
	})

	go func() {
		if err := srv.ListenAndServe(ctx, cfg.HTTP.Addr); err != nil {
			log.Error().Err(err).Msg("status server failed")
		}
	}()
}

func runTray(ctx context.Context, stop context.CancelFunc, cfg *config.Config, log zerolog.Logger, p *pipeline.Pipeline) {
	tr := tray.New()
	p.OnRun(tr.SetLastRun)

	tr.OnRunNow(func() {
		if err := p.Trigger(ctx); err != nil {
			log.Warn().Err(err).Msg("run not started")
		}
	})
	if cfg.HTTP.Addr != "" {
		url := statusURL(cfg.HTTP.Addr, cfg.HTTP.Static != "")
		tr.OnStatus(func() {
			if err := openBrowser(url); err != nil {
				log.Warn().Err(err).Str("url", url).Msg("failed to open browser")
			}
		})
	}
	tr.OnQuit(stop)

	if cfg.Run.Continuous {
		go func() {
			if err := p.RunContinuous(ctx, cfg.Run.Interval); err != nil {
				log.Error().Err(err).Msg("continuous run stopped")
			}
		}()
	}

	go func() {
		<-ctx.Done()
		tr.Quit()
	}()

	tr.Run()
}

// statusURL points at the dashboard when one is served, else at the run history.
func statusURL(addr string, dashboard bool) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if dashboard {
		return "http://" + addr + "/"
	}
	return "http://" + addr + "/api/runs"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
