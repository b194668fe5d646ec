package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/rotortrack/model"
)

var (
	// ErrOutOfBounds reports a command that would leave the rotator's travel.
	// It is fatal: the executor halts.
	ErrOutOfBounds = errors.New("motion out of bounds")
	// ErrHalted is returned by every Execute after a fatal error.
	ErrHalted = errors.New("executor halted")
	// ErrDriver wraps a step driver failure mid-motion. The absolute position
	// is unknown afterwards, so the executor halts.
	ErrDriver = errors.New("step driver failure")
)

// ExecutorConfig holds the mechanical constants of the rotator.
type ExecutorConfig struct {
	// StepsPerRev is the number of driver steps per full output revolution.
	StepsPerRev int
	// HalfPeriodUnit scales profile half-periods to wall time.
	HalfPeriodUnit time.Duration
	Profile        ProfileConfig
}

// DefaultExecutorConfig returns the constants of the reference hardware.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		StepsPerRev:    3200,
		HalfPeriodUnit: time.Millisecond,
		Profile:        DefaultProfileConfig(),
	}
}

// Validate checks the configuration.
func (c ExecutorConfig) Validate() error {
	if c.StepsPerRev <= 0 {
		return fmt.Errorf("steps per revolution %d must be positive", c.StepsPerRev)
	}
	if c.HalfPeriodUnit <= 0 {
		return fmt.Errorf("half-period unit %s must be positive", c.HalfPeriodUnit)
	}
	return c.Profile.Validate()
}

// StepsFor converts an angular delta into a step count, rounding to the
// nearest step.
func (c ExecutorConfig) StepsFor(delta int) int {
	if delta < 0 {
		delta = -delta
	}
	return int(math.Round(float64(delta) * float64(c.StepsPerRev) / 360))
}

// MoveDuration is the time Execute spends pulsing for cmd: two half-periods
// per step, azimuth then elevation. Driver latency is not included.
func (c ExecutorConfig) MoveDuration(cmd model.MotionCommand) time.Duration {
	var units int
	for _, axis := range [...]model.Axis{model.AxisAzimuth, model.AxisElevation} {
		for _, hp := range NewProfile(c.Profile, c.StepsFor(cmd.Get(axis))).Seq() {
			units += 2 * hp
		}
	}
	return time.Duration(units) * c.HalfPeriodUnit
}

// Executor turns motion commands into step pulses and owns the rotator's
// authoritative absolute position. It re-validates every command regardless
// of what the controller already checked.
type Executor struct {
	cfg    ExecutorConfig
	driver StepDriver

	mu       sync.RWMutex
	position model.AngularPosition
	halted   error
	pulses   map[model.Axis]uint64
	moves    uint64
}

// NewExecutor returns an executor positioned at initial.
func NewExecutor(cfg ExecutorConfig, driver StepDriver, initial model.AngularPosition) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, errors.New("step driver is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial position: %w", err)
	}
	return &Executor{
		cfg:      cfg,
		driver:   driver,
		position: initial,
		pulses:   make(map[model.Axis]uint64, 2),
	}, nil
}

// Position returns the current absolute position.
func (e *Executor) Position() model.AngularPosition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.position
}

// Halted returns the fatal error that stopped the executor, or nil.
func (e *Executor) Halted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

// Pulses returns the number of pulses emitted on an axis since start.
func (e *Executor) Pulses(axis model.Axis) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pulses[axis]
}

// Moves returns the number of completed commands.
func (e *Executor) Moves() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.moves
}

// StepsFor converts an angular delta into a step count, rounding to the
// nearest step.
func (e *Executor) StepsFor(delta int) int { return e.cfg.StepsFor(delta) }

// Execute performs a relative move, azimuth first, then elevation. It blocks
// until every pulse has been emitted. The context is only consulted before
// the first pulse; once motion starts it runs to completion.
func (e *Executor) Execute(ctx context.Context, cmd model.MotionCommand) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted != nil {
		return fmt.Errorf("%w: %v", ErrHalted, e.halted)
	}

	target := e.position.Add(cmd)
	if err := target.Validate(); err != nil {
		return e.halt(fmt.Errorf("%w: %v + %v: %v", ErrOutOfBounds, e.position, cmd, err))
	}

	axes := [...]model.Axis{model.AxisAzimuth, model.AxisElevation}
	var profiles [len(axes)]Profile
	for i, axis := range axes {
		profiles[i] = NewProfile(e.cfg.Profile, e.StepsFor(cmd.Get(axis)))
		if err := profiles[i].Validate(); err != nil {
			return e.halt(fmt.Errorf("%s: %w", axis, err))
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	for i, axis := range axes {
		delta := cmd.Get(axis)
		if delta == 0 || profiles[i].TotalSteps() == 0 {
			continue
		}
		if err := e.drive(axis, delta > 0, profiles[i]); err != nil {
			return e.halt(fmt.Errorf("%w: %v", ErrDriver, err))
		}
		if axis == model.AxisAzimuth {
			e.position.Azimuth = target.Azimuth
		} else {
			e.position.Elevation = target.Elevation
		}
	}
	e.position = target
	e.moves++
	return nil
}

func (e *Executor) drive(axis model.Axis, forward bool, p Profile) error {
	if err := e.driver.SetDirection(axis, forward); err != nil {
		return err
	}
	for _, hp := range p.Seq() {
		if err := e.driver.Pulse(axis, time.Duration(hp)*e.cfg.HalfPeriodUnit); err != nil {
			return err
		}
		e.pulses[axis]++
	}
	return nil
}

// halt records err as fatal. Callers hold e.mu.
func (e *Executor) halt(err error) error {
	e.halted = err
	return err
}
