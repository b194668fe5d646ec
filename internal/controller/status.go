package controller

import (
	"sort"
	"time"

	"github.com/signalsfoundry/rotortrack/internal/tracker"
	"github.com/signalsfoundry/rotortrack/model"
)

// Counters are cumulative loop counters.
type Counters struct {
	CommandsSent     uint64 `json:"commands_sent"`
	PublishFailures  uint64 `json:"publish_failures"`
	ReportsAccepted  uint64 `json:"reports_accepted"`
	ReportsMalformed uint64 `json:"reports_malformed"`
	ReportsStale     uint64 `json:"reports_stale"`
	InfoMessages     uint64 `json:"info_messages"`
}

// Status is the operator view of the loop after the last tick.
type Status struct {
	Time         time.Time             `json:"time"`
	State        string                `json:"state"`
	StateText    string                `json:"state_text"`
	Tracker      tracker.Snapshot      `json:"tracker"`
	Rotator      model.AngularPosition `json:"rotator"`
	RotatorKnown bool                  `json:"rotator_known"`
	Ready        bool                  `json:"ready"`
	LastTx       string                `json:"last_tx,omitempty"`
	LastTxAt     time.Time             `json:"last_tx_at,omitempty"`
	LastRx       string                `json:"last_rx,omitempty"`
	LastRxAt     time.Time             `json:"last_rx_at,omitempty"`
	LastInfo     string                `json:"last_info,omitempty"`
	LastInfoAt   time.Time             `json:"last_info_at,omitempty"`
	Faults       []string              `json:"faults"`
	Counters     Counters              `json:"counters"`
}

// Status returns a copy of the latest status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.status
	s.Faults = append([]string(nil), c.status.Faults...)
	return s
}

func (c *Controller) publishStatus(now time.Time, state State, snap tracker.Snapshot) {
	faults := make([]string, 0, len(allFaults))
	for _, f := range allFaults {
		if c.faults[f] {
			faults = append(faults, string(f))
		}
	}
	sort.Strings(faults)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Time = now
	c.status.State = state.String()
	c.status.StateText = state.Description()
	c.status.Tracker = snap
	c.status.Rotator = c.rotator
	c.status.RotatorKnown = c.rotatorKnown
	c.status.Ready = c.ready
	c.status.Faults = faults
}
