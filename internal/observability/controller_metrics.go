package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ControllerCollector exposes metrics for the controller decision loop.
type ControllerCollector struct {
	gatherer prometheus.Gatherer

	TickDuration    prometheus.Histogram
	CommandsSent    prometheus.Counter
	PublishFailures prometheus.Counter
	Reports         *prometheus.CounterVec
	InfoMessages    prometheus.Counter
	State           *prometheus.GaugeVec
	RotatorReady    prometheus.Gauge
	TargetAvailable prometheus.Gauge
	Faults          *prometheus.GaugeVec

	mu        sync.Mutex
	lastState string
}

// NewControllerCollector registers controller metrics against the provided registerer.
func NewControllerCollector(reg prometheus.Registerer) (*ControllerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	tick, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "controller_tick_duration_seconds",
		Help:    "Duration of a single controller poll cycle.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}), "controller_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	sent, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "controller_commands_sent_total",
		Help: "Motion commands successfully handed to the channel.",
	}), "controller_commands_sent_total")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "controller_publish_failures_total",
		Help: "Motion commands the channel refused; they are retried on a later tick.",
	}), "controller_publish_failures_total")
	if err != nil {
		return nil, err
	}

	reports, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controller_reports_total",
		Help: "Position reports received, labeled by outcome (accepted, malformed, stale).",
	}, []string{"outcome"}), "controller_reports_total")
	if err != nil {
		return nil, err
	}

	info, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "controller_info_messages_total",
		Help: "Informational messages received from the rotator.",
	}), "controller_info_messages_total")
	if err != nil {
		return nil, err
	}

	state, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "controller_state",
		Help: "1 for the current loop state, 0 otherwise.",
	}, []string{"state"}), "controller_state")
	if err != nil {
		return nil, err
	}

	ready, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controller_rotator_ready",
		Help: "1 when the controller may send the next command.",
	}), "controller_rotator_ready")
	if err != nil {
		return nil, err
	}

	available, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controller_target_available",
		Help: "1 while the tracking source yields a valid target.",
	}), "controller_target_available")
	if err != nil {
		return nil, err
	}

	faults, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "controller_liveness_fault",
		Help: "1 while the named liveness fault is active.",
	}, []string{"fault"}), "controller_liveness_fault")
	if err != nil {
		return nil, err
	}

	return &ControllerCollector{
		gatherer:        gathererFor(reg),
		TickDuration:    tick,
		CommandsSent:    sent,
		PublishFailures: failures,
		Reports:         reports,
		InfoMessages:    info,
		State:           state,
		RotatorReady:    ready,
		TargetAvailable: available,
		Faults:          faults,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ControllerCollector) Handler() http.Handler {
	if c == nil {
		return handlerFor(nil)
	}
	return handlerFor(c.gatherer)
}

// ObserveTick records the duration of one poll cycle.
func (c *ControllerCollector) ObserveTick(d time.Duration) {
	if c == nil || c.TickDuration == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
}

// IncCommandsSent increments the sent command counter.
func (c *ControllerCollector) IncCommandsSent() {
	if c == nil || c.CommandsSent == nil {
		return
	}
	c.CommandsSent.Inc()
}

// IncPublishFailures increments the publish failure counter.
func (c *ControllerCollector) IncPublishFailures() {
	if c == nil || c.PublishFailures == nil {
		return
	}
	c.PublishFailures.Inc()
}

// IncReports counts a received report by outcome.
func (c *ControllerCollector) IncReports(outcome string) {
	if c == nil || c.Reports == nil {
		return
	}
	c.Reports.WithLabelValues(outcome).Inc()
}

// IncInfoMessages counts a received info message.
func (c *ControllerCollector) IncInfoMessages() {
	if c == nil || c.InfoMessages == nil {
		return
	}
	c.InfoMessages.Inc()
}

// SetLoopState publishes the derived state and its two inputs.
func (c *ControllerCollector) SetLoopState(state string, ready, available bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != nil {
		if c.lastState != "" && c.lastState != state {
			c.State.WithLabelValues(c.lastState).Set(0)
		}
		c.State.WithLabelValues(state).Set(1)
		c.lastState = state
	}
	if c.RotatorReady != nil {
		c.RotatorReady.Set(boolGauge(ready))
	}
	if c.TargetAvailable != nil {
		c.TargetAvailable.Set(boolGauge(available))
	}
}

// SetFault raises or clears a liveness fault.
func (c *ControllerCollector) SetFault(fault string, active bool) {
	if c == nil || c.Faults == nil {
		return
	}
	c.Faults.WithLabelValues(fault).Set(boolGauge(active))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
