package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RotatorCollector exposes metrics for the motion executor and position reporter.
type RotatorCollector struct {
	gatherer prometheus.Gatherer

	Commands          *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	Pulses            *prometheus.CounterVec
	Reports           *prometheus.CounterVec
	Position          *prometheus.GaugeVec
	Halted            prometheus.Gauge
}

// NewRotatorCollector registers rotator metrics against the provided registerer.
func NewRotatorCollector(reg prometheus.Registerer) (*RotatorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rotator_commands_total",
		Help: "Commands taken from the channel, labeled by result (executed, malformed, failed).",
	}, []string{"result"}), "rotator_commands_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rotator_execution_duration_seconds",
		Help:    "Wall time spent driving a single command.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}), "rotator_execution_duration_seconds")
	if err != nil {
		return nil, err
	}

	pulses, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rotator_step_pulses_total",
		Help: "Step pulses emitted, labeled by axis.",
	}, []string{"axis"}), "rotator_step_pulses_total")
	if err != nil {
		return nil, err
	}

	reports, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rotator_reports_total",
		Help: "Position reports published, labeled by trigger (heartbeat, motion).",
	}, []string{"trigger"}), "rotator_reports_total")
	if err != nil {
		return nil, err
	}

	position, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rotator_position_degrees",
		Help: "Current absolute position, labeled by axis.",
	}, []string{"axis"}), "rotator_position_degrees")
	if err != nil {
		return nil, err
	}

	halted, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rotator_halted",
		Help: "1 after a fatal motion error.",
	}), "rotator_halted")
	if err != nil {
		return nil, err
	}

	return &RotatorCollector{
		gatherer:          gathererFor(reg),
		Commands:          commands,
		ExecutionDuration: duration,
		Pulses:            pulses,
		Reports:           reports,
		Position:          position,
		Halted:            halted,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RotatorCollector) Handler() http.Handler {
	if c == nil {
		return handlerFor(nil)
	}
	return handlerFor(c.gatherer)
}

// ObserveCommand records the outcome of one command and, when it ran, its duration.
func (c *RotatorCollector) ObserveCommand(result string, d time.Duration) {
	if c == nil {
		return
	}
	if c.Commands != nil {
		c.Commands.WithLabelValues(result).Inc()
	}
	if c.ExecutionDuration != nil && d > 0 {
		c.ExecutionDuration.Observe(d.Seconds())
	}
}

// AddPulses adds n pulses on axis.
func (c *RotatorCollector) AddPulses(axis string, n uint64) {
	if c == nil || c.Pulses == nil || n == 0 {
		return
	}
	c.Pulses.WithLabelValues(axis).Add(float64(n))
}

// IncReports counts a published report by trigger.
func (c *RotatorCollector) IncReports(trigger string) {
	if c == nil || c.Reports == nil {
		return
	}
	c.Reports.WithLabelValues(trigger).Inc()
}

// SetPosition updates the position gauges.
func (c *RotatorCollector) SetPosition(azimuth, elevation int) {
	if c == nil || c.Position == nil {
		return
	}
	c.Position.WithLabelValues("azimuth").Set(float64(azimuth))
	c.Position.WithLabelValues("elevation").Set(float64(elevation))
}

// SetHalted flags a fatal executor state.
func (c *RotatorCollector) SetHalted(halted bool) {
	if c == nil || c.Halted == nil {
		return
	}
	c.Halted.Set(boolGauge(halted))
}
