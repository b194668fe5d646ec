// Package wire encodes motion commands and position reports as the bracketed
// ASCII strings exchanged between the controller and the rotator.
//
// Delta commands:   "[+005,-12]"  signed, 3 azimuth digits, 2 elevation digits.
// Position reports: "[286,13]"    unsigned, 3 azimuth digits, 2 elevation digits.
package wire

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/signalsfoundry/rotortrack/model"
)

var (
	// ErrMalformed reports a payload that does not match the expected layout.
	ErrMalformed = errors.New("malformed payload")
	// ErrOutOfRange reports a well-formed payload carrying values outside the axis limits.
	ErrOutOfRange = errors.New("value out of range")
)

const (
	deltaLen    = len("[+000,+00]")
	absoluteLen = len("[000,00]")
)

// EncodeDelta renders a motion command. Callers must pass a command that
// satisfies MotionCommand.Validate; wider values overflow the fixed width.
func EncodeDelta(c model.MotionCommand) string {
	return fmt.Sprintf("[%+04d,%+03d]", c.DeltaAzimuth, c.DeltaElevation)
}

// DecodeDelta parses a delta command. On any failure it returns the zero
// command together with an error wrapping ErrMalformed or ErrOutOfRange, so a
// caller that ignores the error still moves nothing.
func DecodeDelta(s string) (model.MotionCommand, error) {
	if len(s) != deltaLen || s[0] != '[' || s[5] != ',' || s[9] != ']' {
		return model.MotionCommand{}, fmt.Errorf("%w: delta %q", ErrMalformed, s)
	}
	az, ok := signedField(s[1:5])
	if !ok {
		return model.MotionCommand{}, fmt.Errorf("%w: delta azimuth %q", ErrMalformed, s[1:5])
	}
	el, ok := signedField(s[6:9])
	if !ok {
		return model.MotionCommand{}, fmt.Errorf("%w: delta elevation %q", ErrMalformed, s[6:9])
	}
	cmd := model.MotionCommand{DeltaAzimuth: az, DeltaElevation: el}
	if err := cmd.Validate(); err != nil {
		return model.MotionCommand{}, fmt.Errorf("%w: %v", ErrOutOfRange, err)
	}
	return cmd, nil
}

// EncodeAbsolute renders a position report.
func EncodeAbsolute(p model.AngularPosition) string {
	return fmt.Sprintf("[%03d,%02d]", p.Azimuth, p.Elevation)
}

// DecodeAbsolute parses a position report.
func DecodeAbsolute(s string) (model.AngularPosition, error) {
	if len(s) != absoluteLen || s[0] != '[' || s[4] != ',' || s[7] != ']' {
		return model.AngularPosition{}, fmt.Errorf("%w: position %q", ErrMalformed, s)
	}
	az, ok := digits(s[1:4])
	if !ok {
		return model.AngularPosition{}, fmt.Errorf("%w: position azimuth %q", ErrMalformed, s[1:4])
	}
	el, ok := digits(s[5:7])
	if !ok {
		return model.AngularPosition{}, fmt.Errorf("%w: position elevation %q", ErrMalformed, s[5:7])
	}
	pos := model.AngularPosition{Azimuth: az, Elevation: el}
	if err := pos.Validate(); err != nil {
		return model.AngularPosition{}, fmt.Errorf("%w: %v", ErrOutOfRange, err)
	}
	return pos, nil
}

// signedField parses an explicit sign followed by decimal digits.
func signedField(f string) (int, bool) {
	if f[0] != '+' && f[0] != '-' {
		return 0, false
	}
	v, ok := digits(f[1:])
	if !ok {
		return 0, false
	}
	if f[0] == '-' {
		v = -v
	}
	return v, true
}

// digits accepts only ASCII digits; strconv alone would also take signs.
func digits(f string) (int, bool) {
	for i := 0; i < len(f); i++ {
		if f[i] < '0' || f[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(f)
	if err != nil {
		return 0, false
	}
	return v, true
}
