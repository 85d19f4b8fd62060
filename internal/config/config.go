// Package config loads runtime settings from flags, PILAH_ environment
// variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ayusman/pilah/internal/pipeline"
	"github.com/ayusman/pilah/internal/port"
)

// EnvPrefix is prepended to every environment variable, e.g. PILAH_SERIAL_DEVICE.
const EnvPrefix = "PILAH"

// Config is the full set of runtime settings.
type Config struct {
	Camera   CameraConfig   `mapstructure:"camera"`
	Detector DetectorConfig `mapstructure:"detector"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Store    StoreConfig    `mapstructure:"store"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Run      RunConfig      `mapstructure:"run"`
	Tray     bool           `mapstructure:"tray"`
	Log      LogConfig      `mapstructure:"log"`
}

type CameraConfig struct {
	// Source is a device index such as "0" or a video file path.
	Source string `mapstructure:"source"`
}

type DetectorConfig struct {
	Model      string  `mapstructure:"model"`
	Classes    string  `mapstructure:"classes"`
	Confidence float64 `mapstructure:"confidence"`
	NMS        float64 `mapstructure:"nms"`
	InputSize  int     `mapstructure:"input_size"`
}

type LoopConfig struct {
	TargetClass     string        `mapstructure:"target_class"`
	Budget          time.Duration `mapstructure:"budget"`
	MatchMode       string        `mapstructure:"match_mode"`
	StopOnFirst     bool          `mapstructure:"stop_on_first"`
	MotionThreshold float64       `mapstructure:"motion_threshold"`
	Display         bool          `mapstructure:"display"`
}

type SerialConfig struct {
	// Device overrides port discovery when set.
	Device     string        `mapstructure:"device"`
	Signatures []string      `mapstructure:"signatures"`
	Baud       int           `mapstructure:"baud"`
	Settle     time.Duration `mapstructure:"settle"`
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
}

type StoreConfig struct {
	// Path of the SQLite database. Empty disables run history.
	Path string `mapstructure:"path"`
}

type HTTPConfig struct {
	// Addr enables the status server when set, e.g. ":8080".
	Addr string `mapstructure:"addr"`
	// Static is a directory with a dashboard served at /.
	Static string `mapstructure:"static"`
}

type RunConfig struct {
	Continuous bool          `mapstructure:"continuous"`
	Interval   time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DefaultStorePath returns ~/.pilah/pilah.db, or pilah.db in the working
// directory when the home directory is unknown.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pilah.db"
	}
	return filepath.Join(home, ".pilah", "pilah.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("camera.source", "0")

	v.SetDefault("detector.model", "models/best.onnx")
	v.SetDefault("detector.classes", "")
	v.SetDefault("detector.confidence", pipeline.DefaultConfidence)
	v.SetDefault("detector.nms", 0.45)
	v.SetDefault("detector.input_size", 640)

	v.SetDefault("loop.target_class", pipeline.DefaultTargetClass)
	v.SetDefault("loop.budget", pipeline.DefaultBudget)
	v.SetDefault("loop.match_mode", string(pipeline.MatchSubstring))
	v.SetDefault("loop.stop_on_first", true)
	v.SetDefault("loop.motion_threshold", 0.0)
	v.SetDefault("loop.display", true)

	v.SetDefault("serial.device", "")
	v.SetDefault("serial.signatures", port.DefaultSignatures)
	v.SetDefault("serial.baud", 9600)
	v.SetDefault("serial.settle", 2*time.Second)
	v.SetDefault("serial.ack_timeout", pipeline.DefaultAckTimeout)

	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("http.addr", "")
	v.SetDefault("http.static", "")
	v.SetDefault("run.continuous", false)
	v.SetDefault("run.interval", 2*time.Second)
	v.SetDefault("tray", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"camera":           "camera.source",
	"model":            "detector.model",
	"classes":          "detector.classes",
	"confidence":       "detector.confidence",
	"nms":              "detector.nms",
	"input-size":       "detector.input_size",
	"target":           "loop.target_class",
	"budget":           "loop.budget",
	"match":            "loop.match_mode",
	"stop-on-first":    "loop.stop_on_first",
	"motion-threshold": "loop.motion_threshold",
	"display":          "loop.display",
	"device":           "serial.device",
	"signatures":       "serial.signatures",
	"baud":             "serial.baud",
	"settle":           "serial.settle",
	"ack-timeout":      "serial.ack_timeout",
	"db":               "store.path",
	"http-addr":        "http.addr",
	"http-static":      "http.static",
	"continuous":       "run.continuous",
	"interval":         "run.interval",
	"tray":             "tray",
	"log-level":        "log.level",
	"log-pretty":       "log.pretty",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("pilah", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String("config", "", "path to a YAML config file")

	fs.String("camera", "0", "camera index or video file")
	fs.String("model", "models/best.onnx", "YOLOv8 ONNX model")
	fs.String("classes", "", "class names file, one per line (default COCO)")
	fs.Float64("confidence", pipeline.DefaultConfidence, "minimum detection confidence")
	fs.Float64("nms", 0.45, "non-maximum suppression IoU threshold")
	fs.Int("input-size", 640, "model input size in pixels")

	fs.String("target", pipeline.DefaultTargetClass, "class label that counts as a bottle")
	fs.Duration("budget", pipeline.DefaultBudget, "how long to look for a bottle")
	fs.String("match", string(pipeline.MatchSubstring), "label match mode: exact, substring or substring-fold")
	fs.Bool("stop-on-first", true, "stop at the first match instead of using the whole budget")
	fs.Float64("motion-threshold", 0, "skip inference when less than this percent of pixels changed (0 disables)")
	fs.Bool("display", true, "show the annotated camera window")

	fs.String("device", "", "serial device path (default: auto-detect)")
	fs.StringSlice("signatures", port.DefaultSignatures, "port description substrings used for auto-detect")
	fs.Int("baud", 9600, "serial baud rate")
	fs.Duration("settle", 2*time.Second, "wait after opening the port for the board to reset")
	fs.Duration("ack-timeout", pipeline.DefaultAckTimeout, "how long to wait for SELESAI")

	fs.String("db", DefaultStorePath(), "run history database (empty disables)")
	fs.String("http-addr", "", "status server address, e.g. :8080 (empty disables)")
	fs.String("http-static", "", "directory with a dashboard to serve at / on the status server")
	fs.Bool("continuous", false, "keep running cycles until interrupted")
	fs.Duration("interval", 2*time.Second, "pause between continuous cycles")
	fs.Bool("tray", false, "show the system tray menu")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Bool("log-pretty", true, "human-readable console logs")

	return fs
}

// Load parses args (without the program name) and merges them with the
// environment, the optional config file and the defaults. Flags win over
// environment variables, which win over the file.
func Load(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Usage returns the flag help text.
func Usage() string {
	return newFlagSet().FlagUsages()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.Detector.Model == "" {
		errs = append(errs, errors.New("detector.model is required"))
	}
	if c.Detector.Confidence <= 0 || c.Detector.Confidence > 1 {
		errs = append(errs, fmt.Errorf("detector.confidence must be in (0, 1], got %g", c.Detector.Confidence))
	}
	if c.Detector.NMS <= 0 || c.Detector.NMS > 1 {
		errs = append(errs, fmt.Errorf("detector.nms must be in (0, 1], got %g", c.Detector.NMS))
	}
	if c.Detector.InputSize <= 0 || c.Detector.InputSize%32 != 0 {
		errs = append(errs, fmt.Errorf("detector.input_size must be a positive multiple of 32, got %d", c.Detector.InputSize))
	}
	if strings.TrimSpace(c.Loop.TargetClass) == "" {
		errs = append(errs, errors.New("loop.target_class is required"))
	}
	if c.Loop.Budget <= 0 {
		errs = append(errs, fmt.Errorf("loop.budget must be positive, got %s", c.Loop.Budget))
	}
	if _, err := pipeline.ParseMatchMode(c.Loop.MatchMode); err != nil {
		errs = append(errs, fmt.Errorf("loop.match_mode: %w", err))
	}
	if c.Loop.MotionThreshold < 0 || c.Loop.MotionThreshold > 100 {
		errs = append(errs, fmt.Errorf("loop.motion_threshold must be in [0, 100], got %g", c.Loop.MotionThreshold))
	}
	if c.Serial.Device == "" && len(c.Serial.Signatures) == 0 {
		errs = append(errs, errors.New("serial.signatures must not be empty when serial.device is unset"))
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	if c.Serial.Settle < 0 {
		errs = append(errs, fmt.Errorf("serial.settle must not be negative, got %s", c.Serial.Settle))
	}
	if c.Serial.AckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("serial.ack_timeout must be positive, got %s", c.Serial.AckTimeout))
	}
	if c.HTTP.Static != "" {
		if info, err := os.Stat(c.HTTP.Static); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Errorf("http.static %q is not a directory", c.HTTP.Static))
		}
	}
	if c.Run.Continuous && c.Run.Interval < 0 {
		errs = append(errs, fmt.Errorf("run.interval must not be negative, got %s", c.Run.Interval))
	}

	return errors.Join(errs...)
}

// MatchPolicy builds the detection loop's match policy.
func (c *Config) MatchPolicy() pipeline.MatchPolicy {
	mode, err := pipeline.ParseMatchMode(c.Loop.MatchMode)
	if err != nil {
		mode = pipeline.MatchSubstring
	}
	return pipeline.MatchPolicy{Mode: mode, Accumulate: !c.Loop.StopOnFirst}
}
