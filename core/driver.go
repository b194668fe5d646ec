package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/rotortrack/model"
	"github.com/signalsfoundry/rotortrack/timectrl"
)

// StepDriver emits step pulses for one axis at a time. Implementations block
// for the full pulse; there is no preemption once a pulse has started.
type StepDriver interface {
	// SetDirection latches the rotation direction for subsequent pulses.
	SetDirection(axis model.Axis, forward bool) error
	// Pulse drives the step line low for halfPeriod, then high for halfPeriod.
	Pulse(axis model.Axis, halfPeriod time.Duration) error
}

// Pin is a single digital output line.
type Pin interface {
	Set(high bool) error
}

// AxisPins groups the step and direction lines of one motor driver.
type AxisPins struct {
	Step Pin
	Dir  Pin
}

// PinStepper is a StepDriver for step/direction motor drivers (A4988 style).
type PinStepper struct {
	clock timectrl.Clock
	pins  map[model.Axis]AxisPins
}

// NewPinStepper wires azimuth and elevation pins to a clock used for the
// half-period delays. A nil clock uses the wall clock.
func NewPinStepper(clock timectrl.Clock, azimuth, elevation AxisPins) *PinStepper {
	if clock == nil {
		clock = timectrl.RealClock{}
	}
	return &PinStepper{
		clock: clock,
		pins: map[model.Axis]AxisPins{
			model.AxisAzimuth:   azimuth,
			model.AxisElevation: elevation,
		},
	}
}

func (s *PinStepper) SetDirection(axis model.Axis, forward bool) error {
	p, err := s.axis(axis)
	if err != nil {
		return err
	}
	if err := p.Dir.Set(forward); err != nil {
		return fmt.Errorf("%s direction: %w", axis, err)
	}
	return nil
}

func (s *PinStepper) Pulse(axis model.Axis, halfPeriod time.Duration) error {
	p, err := s.axis(axis)
	if err != nil {
		return err
	}
	if err := p.Step.Set(false); err != nil {
		return fmt.Errorf("%s step low: %w", axis, err)
	}
	s.clock.Sleep(halfPeriod)
	if err := p.Step.Set(true); err != nil {
		return fmt.Errorf("%s step high: %w", axis, err)
	}
	s.clock.Sleep(halfPeriod)
	return nil
}

func (s *PinStepper) axis(axis model.Axis) (AxisPins, error) {
	p, ok := s.pins[axis]
	if !ok || p.Step == nil || p.Dir == nil {
		return AxisPins{}, fmt.Errorf("no pins wired for %s axis", axis)
	}
	return p, nil
}

// MemoryPin records every level written to it. It stands in for hardware in
// simulation and tests.
type MemoryPin struct {
	mu      sync.Mutex
	level   bool
	rising  int
	history []bool
	keep    bool
}

// NewMemoryPin returns a pin that counts transitions. When keepHistory is set
// every written level is retained as well.
func NewMemoryPin(keepHistory bool) *MemoryPin {
	return &MemoryPin{keep: keepHistory}
}

func (p *MemoryPin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if high && !p.level {
		p.rising++
	}
	p.level = high
	if p.keep {
		p.history = append(p.history, high)
	}
	return nil
}

// Level returns the last written level.
func (p *MemoryPin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// RisingEdges returns how many low-to-high transitions were written.
func (p *MemoryPin) RisingEdges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rising
}

// History returns a copy of the written levels.
func (p *MemoryPin) History() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.history...)
}
