package statebus

import "github.com/e7canasta/reelcore/modules/statebus/internal/bus"

// Public API - Re-export internal types as stable contract

// Phase is the playback lifecycle phase of a feed item.
type Phase = bus.Phase

const (
	PhaseRegistered = bus.PhaseRegistered
	PhaseAttached   = bus.PhaseAttached
	PhaseActive     = bus.PhaseActive
	PhasePaused     = bus.PhasePaused
	PhaseDetached   = bus.PhaseDetached
	PhaseErrored    = bus.PhaseErrored
)

// ItemView is the per-item notification payload.
type ItemView = bus.ItemView

// GlobalEvent reports a change of the reduced system-ready flag.
type GlobalEvent = bus.GlobalEvent

// ItemListener receives item transitions.
type ItemListener = bus.ItemListener

// GlobalListener receives global activity events.
type GlobalListener = bus.GlobalListener

// Unsubscribe removes a listener; safe to call more than once and from inside a callback.
type Unsubscribe = bus.Unsubscribe

// Stats tracks delivery metrics.
type Stats = bus.Stats

// Bus fans out state notifications to synchronous listeners.
type Bus = bus.Bus

// Public API errors - Re-export internal errors as stable contract
var (
	ErrBusClosed   = bus.ErrBusClosed
	ErrNilListener = bus.ErrNilListener
	ErrEmptyID     = bus.ErrEmptyID
)
