// Package controller implements the decision loop that keeps the rotator
// pointed at the tracked target.
//
// Each tick the loop polls the target source, consumes at most one position
// report, derives its State and, when tracking, sends a relative command if
// the pointing error exceeds the dead-band. At most one command is in flight:
// a successful send clears readiness and only a decoded report restores it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/rotortrack/internal/channel"
	"github.com/signalsfoundry/rotortrack/internal/logging"
	"github.com/signalsfoundry/rotortrack/internal/observability"
	"github.com/signalsfoundry/rotortrack/internal/tracker"
	"github.com/signalsfoundry/rotortrack/internal/wire"
	"github.com/signalsfoundry/rotortrack/model"
	"github.com/signalsfoundry/rotortrack/timectrl"
)

// Config holds the loop constants.
type Config struct {
	PollInterval time.Duration
	// DeadBand is the largest per-axis error, in degrees, left uncorrected.
	DeadBand int
	// HeartbeatInterval is the rotator's idle report period.
	HeartbeatInterval time.Duration
	// LivenessMargin is added to HeartbeatInterval before a fault is raised.
	LivenessMargin time.Duration
	// StaleReportGuard is how long after a send a report equal to the
	// pre-send position is treated as a pre-motion heartbeat.
	StaleReportGuard time.Duration
	Topics           channel.Topics
}

// DefaultConfig returns the deployed loop constants.
func DefaultConfig() Config {
	return Config{
		PollInterval:      200 * time.Millisecond,
		DeadBand:          3,
		HeartbeatInterval: 10 * time.Second,
		LivenessMargin:    5 * time.Second,
		StaleReportGuard:  2 * time.Second,
		Topics:            channel.DefaultTopics(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("poll interval %s must be positive", c.PollInterval)
	case c.DeadBand < 0:
		return fmt.Errorf("dead-band %d must not be negative", c.DeadBand)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("heartbeat interval %s must be positive", c.HeartbeatInterval)
	case c.LivenessMargin < 0:
		return fmt.Errorf("liveness margin %s must not be negative", c.LivenessMargin)
	case c.StaleReportGuard < 0:
		return fmt.Errorf("stale report guard %s must not be negative", c.StaleReportGuard)
	}
	return c.Topics.Validate()
}

// Target is the tracking source as seen by the loop.
type Target interface {
	Update(ctx context.Context) tracker.Snapshot
}

// MetricsRecorder receives loop metrics. *observability.ControllerCollector
// satisfies it.
type MetricsRecorder interface {
	ObserveTick(d time.Duration)
	IncCommandsSent()
	IncPublishFailures()
	IncReports(outcome string)
	IncInfoMessages()
	SetLoopState(state string, ready, available bool)
	SetFault(fault string, active bool)
}

var _ MetricsRecorder = (*observability.ControllerCollector)(nil)

type noopMetrics struct{}

func (noopMetrics) ObserveTick(time.Duration)       {}
func (noopMetrics) IncCommandsSent()                {}
func (noopMetrics) IncPublishFailures()             {}
func (noopMetrics) IncReports(string)               {}
func (noopMetrics) IncInfoMessages()                {}
func (noopMetrics) SetLoopState(string, bool, bool) {}
func (noopMetrics) SetFault(string, bool)           {}

// Report outcomes.
const (
	ReportAccepted  = "accepted"
	ReportMalformed = "malformed"
	ReportStale     = "stale"
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(log logging.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clock timectrl.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithMotionEstimate supplies the expected duration of a command on the
// rotator. The rotator sends no reports while moving, so the liveness window
// of an in-flight command is extended by its estimate.
func WithMotionEstimate(fn func(model.MotionCommand) time.Duration) Option {
	return func(c *Controller) {
		if fn != nil {
			c.estimate = fn
		}
	}
}

// Controller is the decision loop. Tick must be called from a single
// goroutine; Status may be called from anywhere.
type Controller struct {
	cfg      Config
	ch       channel.Channel
	target   Target
	log      logging.Logger
	clock    timectrl.Clock
	metrics  MetricsRecorder
	estimate func(model.MotionCommand) time.Duration

	reports channel.Mailbox
	infos   channel.Mailbox

	subMu  sync.Mutex
	cancel func()

	// Loop-owned state.
	ready        bool
	rotator      model.AngularPosition
	rotatorKnown bool
	inFlight     bool
	sentAt       time.Time
	sentFrom     model.AngularPosition
	sentMotion   time.Duration
	lastReportAt time.Time
	startedAt    time.Time
	faults       map[Fault]bool

	mu     sync.RWMutex
	status Status
}

// New constructs a controller. Call Start (or Run) to subscribe to reports.
func New(cfg Config, ch channel.Channel, target Target, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ch == nil || target == nil {
		return nil, errors.New("channel and target are required")
	}
	c := &Controller{
		cfg:      cfg,
		ch:       ch,
		target:   target,
		log:      logging.Noop(),
		clock:    timectrl.RealClock{},
		metrics:  noopMetrics{},
		estimate: func(model.MotionCommand) time.Duration { return 0 },
		faults:   make(map[Fault]bool, len(allFaults)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logging.String("component", "controller"))
	c.startedAt = c.clock.Now()
	c.status = Status{State: Idle.String(), StateText: Idle.Description(), Faults: []string{}}
	return c, nil
}

// Start subscribes to the rotator topics. It is idempotent.
func (c *Controller) Start() error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.cancel != nil {
		return nil
	}
	cancel, err := c.ch.Subscribe(c.cfg.Topics.ControllerSubscription, c.route)
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", c.cfg.Topics.ControllerSubscription, err)
	}
	c.cancel = cancel
	return nil
}

// Stop removes the subscription.
func (c *Controller) Stop() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// route runs on transport goroutines and only writes mailboxes.
func (c *Controller) route(m channel.Message) {
	switch m.Topic {
	case c.cfg.Topics.Report:
		c.reports.Put(m)
	case c.cfg.Topics.Info:
		c.infos.Put(m)
	}
}

// Run subscribes and ticks every PollInterval until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		return err
	}
	defer c.Stop()

	c.log.Info(ctx, "controller loop started",
		logging.Duration("poll_interval", c.cfg.PollInterval),
		logging.Int("dead_band", c.cfg.DeadBand),
	)
	loop := timectrl.NewLoop(c.cfg.PollInterval)
	loop.AddListener(func(ctx context.Context, _ time.Time) { c.Tick(ctx) })
	err := loop.Run(ctx)
	c.log.Info(context.Background(), "controller loop stopped", logging.Any("ticks", loop.Ticks()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Tick runs one poll cycle and returns the state it acted in.
func (c *Controller) Tick(ctx context.Context) State {
	began := time.Now()
	now := c.clock.Now()

	snap := c.target.Update(ctx)
	c.takeInfo(ctx, now)
	if m, ok := c.reports.Take(); ok {
		c.handleReport(ctx, m, now)
	}

	state := Classify(snap.Available, c.ready)
	if state == Tracking {
		cmd := c.rotator.DeltaTo(snap.Target)
		if cmd.Exceeds(c.cfg.DeadBand) {
			c.send(ctx, cmd, now)
		}
	}
	// Readiness may have changed by sending.
	state = Classify(snap.Available, c.ready)

	c.checkLiveness(ctx, now)
	c.metrics.SetLoopState(state.String(), c.ready, snap.Available)
	c.publishStatus(now, state, snap)
	c.metrics.ObserveTick(time.Since(began))
	return state
}

func (c *Controller) takeInfo(ctx context.Context, now time.Time) {
	m, ok := c.infos.Take()
	if !ok {
		return
	}
	c.log.Info(ctx, "rotator info", logging.String("message", m.Payload))
	c.metrics.IncInfoMessages()
	c.mu.Lock()
	c.status.LastInfo = m.Payload
	c.status.LastInfoAt = now
	c.status.Counters.InfoMessages++
	c.mu.Unlock()
}

func (c *Controller) handleReport(ctx context.Context, m channel.Message, now time.Time) {
	c.mu.Lock()
	c.status.LastRx = m.Payload
	c.status.LastRxAt = now
	c.mu.Unlock()

	pos, err := wire.DecodeAbsolute(m.Payload)
	if err != nil {
		c.log.Warn(ctx, "discarding malformed report", logging.String("payload", m.Payload), logging.Err(err))
		c.metrics.IncReports(ReportMalformed)
		c.bump(func(s *Counters) { s.ReportsMalformed++ })
		return
	}

	// A heartbeat emitted just before the command arrived carries the
	// pre-send position. Zero-delta commands are never sent, so a real
	// completion cannot equal it.
	if c.inFlight && !c.ready && pos == c.sentFrom && now.Sub(c.sentAt) < c.cfg.StaleReportGuard {
		c.log.Debug(ctx, "discarding stale report",
			logging.String("payload", m.Payload),
			logging.Duration("since_send", now.Sub(c.sentAt)),
		)
		c.metrics.IncReports(ReportStale)
		c.bump(func(s *Counters) { s.ReportsStale++ })
		return
	}

	c.rotator = pos
	c.rotatorKnown = true
	c.ready = true
	c.inFlight = false
	c.lastReportAt = now
	c.metrics.IncReports(ReportAccepted)
	c.bump(func(s *Counters) { s.ReportsAccepted++ })
	c.log.Debug(ctx, "rotator position", logging.Position("position", pos))
}

func (c *Controller) send(ctx context.Context, cmd model.MotionCommand, now time.Time) {
	payload := wire.EncodeDelta(cmd)
	ctx, span := observability.StartSpan(ctx, "controller.send_command", observability.CommandAttributes(payload, cmd)...)

	err := cmd.Validate()
	if err == nil {
		err = c.ch.Publish(ctx, c.cfg.Topics.Command, payload)
	}
	observability.EndSpan(span, err)
	if err != nil {
		c.log.Warn(ctx, "command publish failed; will retry", logging.String("payload", payload), logging.Err(err))
		c.metrics.IncPublishFailures()
		c.bump(func(s *Counters) { s.PublishFailures++ })
		return
	}

	c.ready = false
	c.inFlight = true
	c.sentAt = now
	c.sentFrom = c.rotator
	c.sentMotion = c.estimate(cmd)
	c.metrics.IncCommandsSent()
	c.mu.Lock()
	c.status.LastTx = payload
	c.status.LastTxAt = now
	c.status.Counters.CommandsSent++
	c.mu.Unlock()
	c.log.Info(ctx, "command sent",
		logging.String("payload", payload),
		logging.Position("from", c.rotator),
		logging.Command("command", cmd),
	)
}

func (c *Controller) checkLiveness(ctx context.Context, now time.Time) {
	window := c.cfg.HeartbeatInterval + c.cfg.LivenessMargin
	if c.inFlight {
		window += c.sentMotion
	}

	since := c.lastReportAt
	if since.IsZero() {
		since = c.startedAt
	}
	c.setFault(ctx, FaultReportsStale, now.Sub(since) > window)
	c.setFault(ctx, FaultCommandUnacknowledged, c.inFlight && !c.ready && now.Sub(c.sentAt) > window)
}

func (c *Controller) setFault(ctx context.Context, f Fault, active bool) {
	if c.faults[f] == active {
		return
	}
	c.faults[f] = active
	c.metrics.SetFault(string(f), active)
	if active {
		c.log.Warn(ctx, "liveness fault raised", logging.String("fault", string(f)))
	} else {
		c.log.Info(ctx, "liveness fault cleared", logging.String("fault", string(f)))
	}
}

func (c *Controller) bump(fn func(*Counters)) {
	c.mu.Lock()
	fn(&c.status.Counters)
	c.mu.Unlock()
}
