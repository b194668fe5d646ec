package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/rotortrack/internal/logging"
	"github.com/signalsfoundry/rotortrack/model"
	"github.com/signalsfoundry/rotortrack/timectrl"
)

// Source yields the most recent raw line from the tracking software.
type Source interface {
	Latest(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (string, error)

func (f SourceFunc) Latest(ctx context.Context) (string, error) { return f(ctx) }

// Snapshot is the tracker state after the last update.
type Snapshot struct {
	Available bool                  `json:"available"`
	Target    model.AngularPosition `json:"target"`
	Satellite string                `json:"satellite,omitempty"`
	Raw       string                `json:"raw"`
	Error     string                `json:"error,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Tracker polls a Source and keeps the last decoded target. Availability is
// cleared by any failure; the last good target is kept for display.
type Tracker struct {
	src   Source
	log   logging.Logger
	clock timectrl.Clock

	mu   sync.RWMutex
	snap Snapshot
}

// New constructs a tracker over src.
func New(src Source, log logging.Logger, clock timectrl.Clock) *Tracker {
	if log == nil {
		log = logging.Noop()
	}
	if clock == nil {
		clock = timectrl.RealClock{}
	}
	return &Tracker{src: src, log: log, clock: clock, snap: Snapshot{Raw: "not connected"}}
}

// Update polls the source once and returns the new snapshot.
func (t *Tracker) Update(ctx context.Context) Snapshot {
	raw, err := t.src.Latest(ctx)
	var reading Reading
	if err == nil {
		reading, err = ParseLine(raw)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	wasAvailable := t.snap.Available
	t.snap.UpdatedAt = t.clock.Now()
	if raw != "" {
		t.snap.Raw = raw
	}
	if err != nil {
		t.snap.Available = false
		t.snap.Error = err.Error()
		if wasAvailable {
			t.log.Info(ctx, "target lost", logging.String("raw", raw), logging.Err(err))
		} else if !errors.Is(err, ErrNoSatellite) && !errors.Is(err, ErrNoData) {
			t.log.Debug(ctx, "tracker line rejected", logging.String("raw", raw), logging.Err(err))
		}
		return t.snap
	}

	t.snap.Available = true
	t.snap.Error = ""
	t.snap.Target = reading.Position
	t.snap.Satellite = reading.Satellite
	if !wasAvailable {
		t.log.Info(ctx, "target acquired",
			logging.String("satellite", reading.Satellite),
			logging.Position("target", reading.Position),
		)
	}
	return t.snap
}

// Snapshot returns the state after the last Update.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}
