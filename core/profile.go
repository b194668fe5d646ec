package core

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

var (
	// ErrHalfPeriodOutOfBand reports a profile entry outside [MinHalfPeriod, MaxHalfPeriod].
	// Values are never clamped; the motion is refused instead.
	ErrHalfPeriodOutOfBand = errors.New("half-period out of band")
	// ErrInvalidProfileConfig reports inconsistent profile parameters.
	ErrInvalidProfileConfig = errors.New("invalid profile config")
)

// ProfileConfig parameterises the trapezoidal speed profile. Half-periods are
// expressed in units of the executor's HalfPeriodUnit.
type ProfileConfig struct {
	// AccelCap is the maximum number of steps spent accelerating (and decelerating).
	AccelCap int
	// RampStep is the number of steps between one-unit half-period changes.
	RampStep int
	// MaxHalfPeriod is the starting (slowest) half-period.
	MaxHalfPeriod int
	// MinHalfPeriod is the fastest half-period the driver tolerates.
	MinHalfPeriod int
}

// DefaultProfileConfig returns the ramp used by the rotator hardware.
func DefaultProfileConfig() ProfileConfig {
	return ProfileConfig{
		AccelCap:      180,
		RampStep:      10,
		MaxHalfPeriod: 20,
		MinHalfPeriod: 2,
	}
}

// Validate checks the parameters and that the fastest plateau, reached by
// moves of at least 2*AccelCap steps, stays within the band.
func (c ProfileConfig) Validate() error {
	switch {
	case c.RampStep <= 0:
		return fmt.Errorf("%w: ramp step %d must be positive", ErrInvalidProfileConfig, c.RampStep)
	case c.AccelCap < 0:
		return fmt.Errorf("%w: accel cap %d must not be negative", ErrInvalidProfileConfig, c.AccelCap)
	case c.MinHalfPeriod <= 0 || c.MinHalfPeriod > c.MaxHalfPeriod:
		return fmt.Errorf("%w: half-period band [%d,%d]", ErrInvalidProfileConfig, c.MinHalfPeriod, c.MaxHalfPeriod)
	}
	if plateau := c.MaxHalfPeriod - int(math.Round(float64(c.AccelCap)/float64(c.RampStep))); plateau < c.MinHalfPeriod {
		return fmt.Errorf("%w: accel cap %d with ramp step %d reaches half-period %d, below minimum %d",
			ErrInvalidProfileConfig, c.AccelCap, c.RampStep, plateau, c.MinHalfPeriod)
	}
	return nil
}

// Profile is the half-period schedule for a single move of TotalSteps steps.
// It is a pure function of its inputs and is never stored.
type Profile struct {
	cfg        ProfileConfig
	totalSteps int
	accelSteps int
}

// NewProfile derives the profile for a move of totalSteps steps.
//
// Moves of at least 2*AccelCap steps accelerate for AccelCap steps. Shorter
// moves accelerate for floor(total/(2*RampStep))*RampStep steps, so the
// acceleration and deceleration ramps never overlap.
func NewProfile(cfg ProfileConfig, totalSteps int) Profile {
	if totalSteps < 0 {
		totalSteps = 0
	}
	accel := cfg.AccelCap
	if totalSteps < 2*cfg.AccelCap {
		accel = (totalSteps / (2 * cfg.RampStep)) * cfg.RampStep
	}
	return Profile{cfg: cfg, totalSteps: totalSteps, accelSteps: accel}
}

// TotalSteps returns the number of pulses in the move.
func (p Profile) TotalSteps() int { return p.totalSteps }

// AccelSteps returns the length of each ramp.
func (p Profile) AccelSteps() int { return p.accelSteps }

// HalfPeriod returns the half-period for step i. It panics if i is outside
// [0, TotalSteps).
func (p Profile) HalfPeriod(i int) (int, error) {
	if i < 0 || i >= p.totalSteps {
		panic(fmt.Sprintf("core: profile index %d out of range [0,%d)", i, p.totalSteps))
	}
	v := p.raw(i)
	if v < p.cfg.MinHalfPeriod || v > p.cfg.MaxHalfPeriod {
		return 0, fmt.Errorf("%w: step %d of %d has half-period %d, band [%d,%d]",
			ErrHalfPeriodOutOfBand, i, p.totalSteps, v, p.cfg.MinHalfPeriod, p.cfg.MaxHalfPeriod)
	}
	return v, nil
}

// Validate checks every entry against the band. It must pass before the
// first pulse of a move is emitted.
func (p Profile) Validate() error {
	for i := 0; i < p.totalSteps; i++ {
		if _, err := p.HalfPeriod(i); err != nil {
			return err
		}
	}
	return nil
}

// Seq yields (index, half-period) pairs in order. Values are not band
// checked; call Validate first.
func (p Profile) Seq() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		for i := 0; i < p.totalSteps; i++ {
			if !yield(i, p.raw(i)) {
				return
			}
		}
	}
}

func (p Profile) raw(i int) int {
	slowest := p.cfg.MaxHalfPeriod
	ramp := p.cfg.RampStep
	switch {
	case i < p.accelSteps:
		return slowest - i/ramp
	case i >= p.totalSteps-p.accelSteps:
		return slowest - (p.totalSteps-1-i)/ramp
	default:
		return slowest - int(math.Round(float64(p.accelSteps)/float64(ramp)))
	}
}
