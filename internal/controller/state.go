package controller

// State is derived each tick from target availability and rotator readiness.
// It is never stored independently of its two inputs.
type State int

const (
	// Idle: no target and the rotator is busy or silent.
	Idle State = iota
	// WaitingForRotator: a target is known but the last command is unacknowledged.
	WaitingForRotator
	// WaitingForSatellite: the rotator is ready but there is no target.
	WaitingForSatellite
	// Tracking: a target is known and the rotator accepts the next command.
	Tracking
)

// Classify maps the two loop inputs onto a State.
func Classify(available, ready bool) State {
	switch {
	case available && ready:
		return Tracking
	case available:
		return WaitingForRotator
	case ready:
		return WaitingForSatellite
	default:
		return Idle
	}
}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingForRotator:
		return "waiting_for_rotator"
	case WaitingForSatellite:
		return "waiting_for_satellite"
	case Tracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// Description is the operator-facing text for the state.
func (s State) Description() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingForRotator:
		return "waiting for rotator"
	case WaitingForSatellite:
		return "waiting for satellite"
	case Tracking:
		return "tracking satellite"
	default:
		return "unknown"
	}
}

// Fault names a liveness condition the operator should see.
type Fault string

const (
	// FaultCommandUnacknowledged: a command was sent and no report has
	// restored readiness within the liveness window.
	FaultCommandUnacknowledged Fault = "command_unacknowledged"
	// FaultReportsStale: no position report, heartbeat or otherwise, within
	// the liveness window.
	FaultReportsStale Fault = "reports_stale"
)

var allFaults = [...]Fault{FaultCommandUnacknowledged, FaultReportsStale}
