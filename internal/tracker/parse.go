// Package tracker turns the tracking software's text output into a target
// position and an availability flag.
//
// A line looks like
//
//	SNAO-27 AZ286.6 EL13.9 UP145850654 UMFM DN436793042 DMFM MA115.7 RR1.3436095
//
// or starts with "** NO SATELLITE **" when nothing is selected.
package tracker

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/signalsfoundry/rotortrack/model"
)

// NoSatelliteSentinel prefixes lines emitted while no satellite is selected.
const NoSatelliteSentinel = "** NO SATELLITE **"

var (
	// ErrNoSatellite reports the sentinel line.
	ErrNoSatellite = errors.New("no satellite selected")
	// ErrMalformedLine reports a line without a decodable AZ/EL pair.
	ErrMalformedLine = errors.New("malformed tracker line")
	// ErrBelowHorizon reports a decoded elevation the rotator cannot reach.
	ErrBelowHorizon = errors.New("target outside elevation range")
)

// Reading is one decoded line.
type Reading struct {
	Satellite string
	Position  model.AngularPosition
}

// ParseLine extracts the AZ/EL pair. Angles are rounded half to even and an
// azimuth that rounds to 360 wraps to 0.
func ParseLine(line string) (Reading, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, NoSatelliteSentinel) {
		return Reading{}, ErrNoSatellite
	}

	fields := strings.Fields(line)
	for i, f := range fields {
		if !strings.HasPrefix(f, "AZ") {
			continue
		}
		if i+1 >= len(fields) || !strings.HasPrefix(fields[i+1], "EL") {
			return Reading{}, fmt.Errorf("%w: AZ not followed by EL in %q", ErrMalformedLine, line)
		}
		az, err := parseAngle(f[2:])
		if err != nil {
			return Reading{}, fmt.Errorf("%w: azimuth %q: %v", ErrMalformedLine, f, err)
		}
		el, err := parseAngle(fields[i+1][2:])
		if err != nil {
			return Reading{}, fmt.Errorf("%w: elevation %q: %v", ErrMalformedLine, fields[i+1], err)
		}

		if az == 360 {
			az = 0
		}
		if az < model.AzimuthMin || az > model.AzimuthMax {
			return Reading{}, fmt.Errorf("%w: azimuth %d", ErrMalformedLine, az)
		}
		if el < model.ElevationMin || el > model.ElevationMax {
			return Reading{}, fmt.Errorf("%w: elevation %d", ErrBelowHorizon, el)
		}

		var name string
		if i > 0 {
			name = strings.Join(fields[:i], " ")
		}
		return Reading{Satellite: name, Position: model.AngularPosition{Azimuth: az, Elevation: el}}, nil
	}
	return Reading{}, fmt.Errorf("%w: no AZ field in %q", ErrMalformedLine, line)
}

func parseAngle(s string) (int, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite")
	}
	return int(math.RoundToEven(v)), nil
}
