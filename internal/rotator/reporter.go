package rotator

import (
	"context"
	"time"

	"github.com/signalsfoundry/rotortrack/internal/channel"
	"github.com/signalsfoundry/rotortrack/internal/logging"
	"github.com/signalsfoundry/rotortrack/internal/observability"
	"github.com/signalsfoundry/rotortrack/internal/wire"
	"github.com/signalsfoundry/rotortrack/model"
	"github.com/signalsfoundry/rotortrack/timectrl"
	"go.opentelemetry.io/otel/attribute"
)

// Report triggers.
const (
	TriggerStartup   = "startup"
	TriggerMotion    = "motion"
	TriggerHeartbeat = "heartbeat"
)

// Reporter publishes the executor's absolute position on the report topic.
// A heartbeat goes out whenever Interval has elapsed since the last
// successful report; Force publishes regardless.
type Reporter struct {
	ch       channel.Channel
	topic    string
	interval time.Duration
	clock    timectrl.Clock
	log      logging.Logger
	metrics  MetricsRecorder

	last time.Time
	sent uint64
}

// NewReporter constructs a reporter. It is not safe for concurrent use; the
// rotator loop owns it.
func NewReporter(ch channel.Channel, topic string, interval time.Duration, clock timectrl.Clock, log logging.Logger, metrics MetricsRecorder) *Reporter {
	if clock == nil {
		clock = timectrl.RealClock{}
	}
	if log == nil {
		log = logging.Noop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Reporter{ch: ch, topic: topic, interval: interval, clock: clock, log: log, metrics: metrics}
}

// Heartbeat publishes pos if the interval has elapsed. It reports whether a
// report was published.
func (r *Reporter) Heartbeat(ctx context.Context, pos model.AngularPosition) bool {
	if !r.last.IsZero() && r.clock.Now().Sub(r.last) < r.interval {
		return false
	}
	return r.Force(ctx, pos, TriggerHeartbeat) == nil
}

// Force publishes pos immediately.
func (r *Reporter) Force(ctx context.Context, pos model.AngularPosition, trigger string) error {
	payload := wire.EncodeAbsolute(pos)
	ctx, span := observability.StartSpan(ctx, "rotator.report",
		append(observability.PositionAttributes(pos), attribute.String("rotortrack.trigger", trigger))...,
	)
	err := r.ch.Publish(ctx, r.topic, payload)
	observability.EndSpan(span, err)
	if err != nil {
		r.log.Warn(ctx, "position report failed", logging.String("payload", payload), logging.Err(err))
		return err
	}
	r.last = r.clock.Now()
	r.sent++
	r.metrics.IncReports(trigger)
	r.log.Debug(ctx, "position reported", logging.String("payload", payload), logging.String("trigger", trigger))
	return nil
}

// Sent returns the number of successful reports.
func (r *Reporter) Sent() uint64 { return r.sent }
