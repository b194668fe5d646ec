// Package config assembles the immutable runtime configuration of the three
// binaries from an optional .env file and ROTOR_* environment variables.
// Values not set fall back to each package's defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/signalsfoundry/rotortrack/core"
	"github.com/signalsfoundry/rotortrack/internal/controller"
	"github.com/signalsfoundry/rotortrack/internal/observability"
	"github.com/signalsfoundry/rotortrack/internal/rotator"
	"github.com/signalsfoundry/rotortrack/internal/status"
	"github.com/signalsfoundry/rotortrack/internal/wire"
	"github.com/signalsfoundry/rotortrack/model"
	"go.uber.org/multierr"
)

// DefaultEnvFile is read by Load when no files are named. A missing default
// file is not an error.
const DefaultEnvFile = ".env"

// Tracker source kinds.
const (
	SourceSerial = "serial"
	SourceStdin  = "stdin"
	SourceFile   = "file"
)

// BrokerConfig configures the rotorlink broker process.
type BrokerConfig struct {
	Addr        string
	MetricsAddr string
	QueueSize   int
}

// LinkConfig configures a client's connection to the broker.
type LinkConfig struct {
	Target     string
	RetryDelay time.Duration
}

// TrackerConfig selects where the controller reads target lines from.
type TrackerConfig struct {
	Source   string
	Port     string
	BaudRate int
	File     string
	MaxAge   time.Duration
}

// Config is the full runtime configuration.
type Config struct {
	Broker     BrokerConfig
	Link       LinkConfig
	Controller controller.Config
	Rotator    rotator.Config
	Executor   core.ExecutorConfig
	Tracker    TrackerConfig
	Status     status.Config
	Tracing    observability.TracingConfig

	// ControllerMetricsAddr serves /metrics for the controller when the
	// status server is disabled.
	ControllerMetricsAddr string
	RotatorMetricsAddr    string
	InitialPosition       model.AngularPosition
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Broker: BrokerConfig{
			Addr:        ":7400",
			MetricsAddr: ":9400",
			QueueSize:   16,
		},
		Link: LinkConfig{
			Target:     "127.0.0.1:7400",
			RetryDelay: time.Second,
		},
		Controller: controller.DefaultConfig(),
		Rotator:    rotator.DefaultConfig(),
		Executor:   core.DefaultExecutorConfig(),
		Tracker: TrackerConfig{
			Source:   SourceStdin,
			BaudRate: 9600,
			MaxAge:   5 * time.Second,
		},
		Status:                status.DefaultConfig(),
		Tracing:               observability.DefaultTracingConfig(),
		ControllerMetricsAddr: ":9401",
		RotatorMetricsAddr:    ":9402",
	}
}

// Load reads the named .env files (or DefaultEnvFile when none are named),
// then applies ROTOR_* variables over the defaults. Variables already set in
// the environment take precedence over .env entries.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", DefaultEnvFile, err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a configuration from lookup. Every malformed variable is
// reported, not just the first.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	e := &env{lookup: lookup}

	cfg.Broker.Addr = e.str("ROTOR_BROKER_ADDR", cfg.Broker.Addr)
	cfg.Broker.MetricsAddr = e.str("ROTOR_BROKER_METRICS_ADDR", cfg.Broker.MetricsAddr)
	cfg.Broker.QueueSize = e.integer("ROTOR_BROKER_QUEUE_SIZE", cfg.Broker.QueueSize)

	cfg.Link.Target = e.str("ROTOR_LINK_TARGET", cfg.Link.Target)
	cfg.Link.RetryDelay = e.duration("ROTOR_LINK_RETRY_DELAY", cfg.Link.RetryDelay)

	topics := cfg.Controller.Topics
	topics.Command = e.str("ROTOR_TOPIC_COMMAND", topics.Command)
	topics.Report = e.str("ROTOR_TOPIC_REPORT", topics.Report)
	topics.Info = e.str("ROTOR_TOPIC_INFO", topics.Info)
	topics.ControllerSubscription = e.str("ROTOR_TOPIC_SUBSCRIPTION", topics.ControllerSubscription)
	cfg.Controller.Topics = topics
	cfg.Rotator.Topics = topics

	heartbeat := e.duration("ROTOR_HEARTBEAT_INTERVAL", cfg.Controller.HeartbeatInterval)
	cfg.Controller.HeartbeatInterval = heartbeat
	cfg.Rotator.HeartbeatInterval = heartbeat

	cfg.Controller.PollInterval = e.duration("ROTOR_POLL_INTERVAL", cfg.Controller.PollInterval)
	cfg.Controller.DeadBand = e.integer("ROTOR_DEAD_BAND", cfg.Controller.DeadBand)
	cfg.Controller.LivenessMargin = e.duration("ROTOR_LIVENESS_MARGIN", cfg.Controller.LivenessMargin)
	cfg.Controller.StaleReportGuard = e.duration("ROTOR_STALE_REPORT_GUARD", cfg.Controller.StaleReportGuard)

	cfg.Rotator.PollInterval = e.duration("ROTOR_ROTATOR_POLL_INTERVAL", cfg.Rotator.PollInterval)

	cfg.Executor.StepsPerRev = e.integer("ROTOR_STEPS_PER_REV", cfg.Executor.StepsPerRev)
	cfg.Executor.HalfPeriodUnit = e.duration("ROTOR_HALF_PERIOD_UNIT", cfg.Executor.HalfPeriodUnit)
	cfg.Executor.Profile.AccelCap = e.integer("ROTOR_ACCEL_CAP", cfg.Executor.Profile.AccelCap)
	cfg.Executor.Profile.RampStep = e.integer("ROTOR_RAMP_STEP", cfg.Executor.Profile.RampStep)
	cfg.Executor.Profile.MaxHalfPeriod = e.integer("ROTOR_MAX_HALF_PERIOD", cfg.Executor.Profile.MaxHalfPeriod)
	cfg.Executor.Profile.MinHalfPeriod = e.integer("ROTOR_MIN_HALF_PERIOD", cfg.Executor.Profile.MinHalfPeriod)

	if raw, ok := e.get("ROTOR_INITIAL_POSITION"); ok {
		pos, err := wire.DecodeAbsolute(raw)
		if err != nil {
			e.fail("ROTOR_INITIAL_POSITION", raw, err)
		} else {
			cfg.InitialPosition = pos
		}
	}

	cfg.Tracker.Source = strings.ToLower(e.str("ROTOR_TRACKER_SOURCE", cfg.Tracker.Source))
	cfg.Tracker.Port = e.str("ROTOR_TRACKER_PORT", cfg.Tracker.Port)
	cfg.Tracker.BaudRate = e.integer("ROTOR_TRACKER_BAUD", cfg.Tracker.BaudRate)
	cfg.Tracker.File = e.str("ROTOR_TRACKER_FILE", cfg.Tracker.File)
	cfg.Tracker.MaxAge = e.duration("ROTOR_TRACKER_MAX_AGE", cfg.Tracker.MaxAge)

	cfg.Status.Addr = e.str("ROTOR_STATUS_ADDR", cfg.Status.Addr)
	cfg.Status.PushInterval = e.duration("ROTOR_STATUS_PUSH_INTERVAL", cfg.Status.PushInterval)
	cfg.Tracing.Enabled = e.boolean("ROTOR_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = strings.ToLower(e.str("ROTOR_TRACING_EXPORTER", cfg.Tracing.Exporter))
	cfg.Tracing.ServiceName = e.str("ROTOR_TRACING_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.SampleRatio = e.float("ROTOR_TRACING_SAMPLE_RATIO", cfg.Tracing.SampleRatio)
	cfg.Tracing.Endpoint = e.str("ROTOR_OTLP_ENDPOINT", cfg.Tracing.Endpoint)

	cfg.ControllerMetricsAddr = e.str("ROTOR_CONTROLLER_METRICS_ADDR", cfg.ControllerMetricsAddr)
	cfg.RotatorMetricsAddr = e.str("ROTOR_ROTATOR_METRICS_ADDR", cfg.RotatorMetricsAddr)

	if e.err != nil {
		return Config{}, e.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section and reports all failures together.
func (c Config) Validate() error {
	var err error
	if c.Broker.QueueSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("broker queue size %d must be positive", c.Broker.QueueSize))
	}
	if c.Link.Target == "" {
		err = multierr.Append(err, errors.New("link target is required"))
	}
	if c.Link.RetryDelay <= 0 {
		err = multierr.Append(err, fmt.Errorf("link retry delay %s must be positive", c.Link.RetryDelay))
	}
	switch c.Tracker.Source {
	case SourceStdin:
	case SourceSerial:
		if c.Tracker.Port == "" {
			err = multierr.Append(err, errors.New("tracker serial source needs ROTOR_TRACKER_PORT"))
		}
	case SourceFile:
		if c.Tracker.File == "" {
			err = multierr.Append(err, errors.New("tracker file source needs ROTOR_TRACKER_FILE"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown tracker source %q", c.Tracker.Source))
	}
	return multierr.Combine(
		err,
		wrap("controller", c.Controller.Validate()),
		wrap("rotator", c.Rotator.Validate()),
		wrap("executor", c.Executor.Validate()),
		wrap("initial position", c.InitialPosition.Validate()),
		wrap("tracing", c.Tracing.Validate()),
	)
}

func wrap(section string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", section, err)
}

type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(key, raw string, err error) {
	e.err = multierr.Append(e.err, fmt.Errorf("%s=%q: %w", key, raw, err))
}

func (e *env) str(key, def string) string {
	if v, ok := e.get(key); ok {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) boolean(key string, def bool) bool {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *env) float(key string, def float64) float64 {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return f
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}
