package model

import (
	"errors"
	"fmt"
)

// Absolute bounds of the rotator mechanics, in whole degrees.
const (
	AzimuthMin   = 0
	AzimuthMax   = 359
	ElevationMin = 0
	ElevationMax = 90
)

var (
	// ErrPositionOutOfRange reports an absolute position outside the rotator's travel.
	ErrPositionOutOfRange = errors.New("position out of range")
	// ErrDeltaOutOfRange reports a motion command whose deltas exceed the wire limits.
	ErrDeltaOutOfRange = errors.New("delta out of range")
)

// Axis identifies one of the two rotator axes.
type Axis int

const (
	AxisAzimuth Axis = iota
	AxisElevation
)

func (a Axis) String() string {
	switch a {
	case AxisAzimuth:
		return "azimuth"
	case AxisElevation:
		return "elevation"
	default:
		return "unknown"
	}
}

// Bounds returns the inclusive absolute travel limits of the axis.
func (a Axis) Bounds() (lo, hi int) {
	if a == AxisElevation {
		return ElevationMin, ElevationMax
	}
	return AzimuthMin, AzimuthMax
}

// AngularPosition is an absolute pointing direction in whole degrees.
type AngularPosition struct {
	Azimuth   int `json:"azimuth"`
	Elevation int `json:"elevation"`
}

// Validate checks both axes against the rotator's absolute travel.
func (p AngularPosition) Validate() error {
	if p.Azimuth < AzimuthMin || p.Azimuth > AzimuthMax {
		return fmt.Errorf("%w: azimuth %d not in [%d,%d]", ErrPositionOutOfRange, p.Azimuth, AzimuthMin, AzimuthMax)
	}
	if p.Elevation < ElevationMin || p.Elevation > ElevationMax {
		return fmt.Errorf("%w: elevation %d not in [%d,%d]", ErrPositionOutOfRange, p.Elevation, ElevationMin, ElevationMax)
	}
	return nil
}

// Get returns the value of a single axis.
func (p AngularPosition) Get(a Axis) int {
	if a == AxisElevation {
		return p.Elevation
	}
	return p.Azimuth
}

// Add applies a motion command. The result is not validated.
func (p AngularPosition) Add(c MotionCommand) AngularPosition {
	return AngularPosition{
		Azimuth:   p.Azimuth + c.DeltaAzimuth,
		Elevation: p.Elevation + c.DeltaElevation,
	}
}

// DeltaTo returns the command that moves p onto target.
func (p AngularPosition) DeltaTo(target AngularPosition) MotionCommand {
	return MotionCommand{
		DeltaAzimuth:   target.Azimuth - p.Azimuth,
		DeltaElevation: target.Elevation - p.Elevation,
	}
}

func (p AngularPosition) String() string {
	return fmt.Sprintf("(az=%d, el=%d)", p.Azimuth, p.Elevation)
}

// MotionCommand is a signed relative move. A command is created once by the
// controller and consumed once by the executor.
type MotionCommand struct {
	DeltaAzimuth   int `json:"delta_azimuth"`
	DeltaElevation int `json:"delta_elevation"`
}

// Validate checks the deltas against the limits the wire format can carry.
func (c MotionCommand) Validate() error {
	if c.DeltaAzimuth < -AzimuthMax || c.DeltaAzimuth > AzimuthMax {
		return fmt.Errorf("%w: azimuth delta %d", ErrDeltaOutOfRange, c.DeltaAzimuth)
	}
	if c.DeltaElevation < -ElevationMax || c.DeltaElevation > ElevationMax {
		return fmt.Errorf("%w: elevation delta %d", ErrDeltaOutOfRange, c.DeltaElevation)
	}
	return nil
}

// Get returns the delta of a single axis.
func (c MotionCommand) Get(a Axis) int {
	if a == AxisElevation {
		return c.DeltaElevation
	}
	return c.DeltaAzimuth
}

// IsZero reports whether the command moves neither axis.
func (c MotionCommand) IsZero() bool {
	return c.DeltaAzimuth == 0 && c.DeltaElevation == 0
}

// Exceeds reports whether either axis moves by more than threshold degrees.
func (c MotionCommand) Exceeds(threshold int) bool {
	return abs(c.DeltaAzimuth) > threshold || abs(c.DeltaElevation) > threshold
}

func (c MotionCommand) String() string {
	return fmt.Sprintf("(daz=%+d, del=%+d)", c.DeltaAzimuth, c.DeltaElevation)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
