// Package rotator runs the rotator side of the link: it takes motion
// commands from the channel, drives the executor and reports the resulting
// absolute position back to the controller.
package rotator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/rotortrack/internal/channel"
	"github.com/signalsfoundry/rotortrack/internal/logging"
	"github.com/signalsfoundry/rotortrack/internal/observability"
	"github.com/signalsfoundry/rotortrack/internal/wire"
	"github.com/signalsfoundry/rotortrack/model"
	"github.com/signalsfoundry/rotortrack/timectrl"
)

// ReadyMessage is announced on the info topic when the loop starts.
const ReadyMessage = "antenna ready"

// Config holds the rotator loop constants.
type Config struct {
	// PollInterval is how often the command mailbox is checked.
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Topics            channel.Topics
}

// DefaultConfig returns the deployed constants.
func DefaultConfig() Config {
	return Config{
		PollInterval:      50 * time.Millisecond,
		HeartbeatInterval: 10 * time.Second,
		Topics:            channel.DefaultTopics(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval %s must be positive", c.PollInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval %s must be positive", c.HeartbeatInterval)
	}
	return c.Topics.Validate()
}

// Executor is the motion executor as used by the loop. *core.Executor
// satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd model.MotionCommand) error
	Position() model.AngularPosition
	Halted() error
	Pulses(axis model.Axis) uint64
}

// MetricsRecorder receives rotator metrics. *observability.RotatorCollector
// satisfies it.
type MetricsRecorder interface {
	ObserveCommand(result string, d time.Duration)
	AddPulses(axis string, n uint64)
	IncReports(trigger string)
	SetPosition(azimuth, elevation int)
	SetHalted(halted bool)
}

var _ MetricsRecorder = (*observability.RotatorCollector)(nil)

type noopMetrics struct{}

func (noopMetrics) ObserveCommand(string, time.Duration) {}
func (noopMetrics) AddPulses(string, uint64)             {}
func (noopMetrics) IncReports(string)                    {}
func (noopMetrics) SetPosition(int, int)                 {}
func (noopMetrics) SetHalted(bool)                       {}

// Command results.
const (
	ResultExecuted  = "executed"
	ResultMalformed = "malformed"
	ResultFailed    = "failed"
)

// Option configures a Rotator.
type Option func(*Rotator)

// WithLogger sets the logger.
func WithLogger(log logging.Logger) Option {
	return func(r *Rotator) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock replaces the wall clock used for heartbeats.
func WithClock(clock timectrl.Clock) Option {
	return func(r *Rotator) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(r *Rotator) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Rotator is the rotator loop. Step must be called from a single goroutine.
type Rotator struct {
	cfg      Config
	ch       channel.Channel
	exec     Executor
	log      logging.Logger
	clock    timectrl.Clock
	metrics  MetricsRecorder
	reporter *Reporter

	commands channel.Mailbox

	subMu  sync.Mutex
	cancel func()
}

// New constructs a rotator loop around exec.
func New(cfg Config, ch channel.Channel, exec Executor, opts ...Option) (*Rotator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ch == nil || exec == nil {
		return nil, errors.New("channel and executor are required")
	}
	r := &Rotator{
		cfg:     cfg,
		ch:      ch,
		exec:    exec,
		log:     logging.Noop(),
		clock:   timectrl.RealClock{},
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logging.String("component", "rotator"))
	r.reporter = NewReporter(ch, cfg.Topics.Report, cfg.HeartbeatInterval, r.clock, r.log, r.metrics)
	return r, nil
}

// Start subscribes to the command topic. It is idempotent.
func (r *Rotator) Start() error {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.cancel != nil {
		return nil
	}
	cancel, err := r.ch.Subscribe(r.cfg.Topics.Command, r.commands.Handler())
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", r.cfg.Topics.Command, err)
	}
	r.cancel = cancel
	return nil
}

// Stop removes the subscription.
func (r *Rotator) Stop() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Announce publishes the ready message and an initial position report.
func (r *Rotator) Announce(ctx context.Context) {
	r.info(ctx, ReadyMessage)
	pos := r.exec.Position()
	r.metrics.SetPosition(pos.Azimuth, pos.Elevation)
	_ = r.reporter.Force(ctx, pos, TriggerStartup)
}

// Run subscribes, announces readiness and steps every PollInterval until
// ctx is done or the executor halts. A halt is returned as an error.
func (r *Rotator) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	defer r.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.log.Info(ctx, "rotator loop started",
		logging.String("position", r.exec.Position().String()),
		logging.Duration("heartbeat_interval", r.cfg.HeartbeatInterval),
	)
	r.Announce(ctx)

	var fatal error
	loop := timectrl.NewLoop(r.cfg.PollInterval)
	loop.AddListener(func(ctx context.Context, _ time.Time) {
		if err := r.Step(ctx); err != nil {
			fatal = err
			cancel()
		}
	})
	err := loop.Run(ctx)
	if fatal != nil {
		return fatal
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Step consumes at most one command, then publishes a heartbeat if one is
// due. It returns an error only when the executor has halted.
func (r *Rotator) Step(ctx context.Context) error {
	if m, ok := r.commands.Take(); ok {
		if err := r.handle(ctx, m.Payload); err != nil {
			return err
		}
	}
	r.reporter.Heartbeat(ctx, r.exec.Position())
	return nil
}

// Reporter returns the position reporter.
func (r *Rotator) Reporter() *Reporter { return r.reporter }

func (r *Rotator) handle(ctx context.Context, payload string) error {
	result := ResultExecuted
	cmd, err := wire.DecodeDelta(payload)
	if err != nil {
		// Proceed with the neutral command so the controller still gets a report.
		result = ResultMalformed
		r.log.Warn(ctx, "malformed command; executing neutral move", logging.String("payload", payload), logging.Err(err))
		r.info(ctx, fmt.Sprintf("malformed command %q: %v", payload, err))
	}

	before := [...]uint64{r.exec.Pulses(model.AxisAzimuth), r.exec.Pulses(model.AxisElevation)}
	started := r.clock.Now()
	spanCtx, span := observability.StartSpan(ctx, "rotator.execute", observability.CommandAttributes(payload, cmd)...)
	err = r.exec.Execute(spanCtx, cmd)
	observability.EndSpan(span, err)
	elapsed := r.clock.Now().Sub(started)

	r.metrics.AddPulses(model.AxisAzimuth.String(), r.exec.Pulses(model.AxisAzimuth)-before[0])
	r.metrics.AddPulses(model.AxisElevation.String(), r.exec.Pulses(model.AxisElevation)-before[1])

	if err != nil {
		r.metrics.ObserveCommand(ResultFailed, elapsed)
		if halt := r.exec.Halted(); halt != nil {
			r.metrics.SetHalted(true)
			r.log.Error(ctx, "executor halted", logging.String("payload", payload), logging.Err(halt))
			r.info(context.WithoutCancel(ctx), "halted: "+halt.Error())
			return fmt.Errorf("execute %s: %w", payload, err)
		}
		// Cancelled before the first pulse: nothing moved.
		r.log.Info(ctx, "command abandoned", logging.String("payload", payload), logging.Err(err))
		return nil
	}

	r.metrics.ObserveCommand(result, elapsed)
	pos := r.exec.Position()
	r.metrics.SetPosition(pos.Azimuth, pos.Elevation)
	r.log.Info(ctx, "command executed",
		logging.Command("command", cmd),
		logging.Position("position", pos),
		logging.Duration("elapsed", elapsed),
	)
	_ = r.reporter.Force(ctx, pos, TriggerMotion)
	return nil
}

func (r *Rotator) info(ctx context.Context, msg string) {
	if err := r.ch.Publish(ctx, r.cfg.Topics.Info, msg); err != nil {
		r.log.Warn(ctx, "info publish failed", logging.String("message", msg), logging.Err(err))
	}
}
