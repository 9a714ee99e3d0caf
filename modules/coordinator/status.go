package coordinator

import (
	"github.com/e7canasta/reelcore/modules/focusmonitor"
	"github.com/e7canasta/reelcore/modules/patternmemory"
	"github.com/e7canasta/reelcore/modules/statebus"
)

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	ActiveID     string                `json:"active_id"`
	VisibleIndex int                   `json:"visible_index"`
	HasVisible   bool                  `json:"has_visible"`
	SystemReady  bool                  `json:"system_ready"`
	Activity     focusmonitor.Activity `json:"activity"`

	Items           int      `json:"items"`
	AttachedHandles int      `json:"attached_handles"`
	InFlight        int      `json:"in_flight"`
	Retained        []string `json:"retained"`

	HandlesRequested uint64 `json:"handles_requested"`
	HandlesReleased  uint64 `json:"handles_released"`
	StaleCompletions uint64 `json:"stale_completions"`
	ActivationErrors uint64 `json:"activation_errors"`
	PrewarmErrors    uint64 `json:"prewarm_errors"`
	Violations       uint64 `json:"violations"`
	Events           uint64 `json:"events"`
	EventFaults      uint64 `json:"event_faults"`

	Bus          statebus.Stats         `json:"bus"`
	BusFaultRate float64                `json:"bus_fault_rate"`
	Pattern      patternmemory.Snapshot `json:"pattern"`
}

// Status returns the current snapshot. Safe from any goroutine.
func (c *Coordinator) Status() Status {
	idx, hasVisible := c.arb.VisibleIndex()
	arbStats := c.arb.Stats()

	st := Status{
		VisibleIndex:     idx,
		HasVisible:       hasVisible,
		SystemReady:      c.arb.SystemReady(),
		Activity:         c.mon.Activity(),
		Items:            c.reg.Len(),
		AttachedHandles:  c.reg.HandleCount(),
		InFlight:         arbStats.InFlight,
		Retained:         c.arb.Retained(),
		HandlesRequested: arbStats.Requests,
		HandlesReleased:  c.released.Load(),
		StaleCompletions: arbStats.StaleCompletions,
		ActivationErrors: arbStats.ActivationErrors,
		PrewarmErrors:    arbStats.PrewarmErrors,
		Violations:       c.violations.Load(),
		Events:           c.events.Load(),
		EventFaults:      c.eventFaults.Load(),
		Bus:              c.bus.Stats(),
		Pattern:          c.mem.Snapshot(),
	}
	st.BusFaultRate = statebus.FaultRate(st.Bus)
	if active, ok := c.reg.Active(); ok {
		st.ActiveID = active.ID
	}
	return st
}
