package coordinator

import (
	"errors"

	"github.com/e7canasta/reelcore/modules/coordinator/internal/arbiter"
	"github.com/e7canasta/reelcore/modules/coordinator/internal/registry"
	"github.com/e7canasta/reelcore/modules/statebus"
)

// Public API - Re-export internal types as stable contract

// Handle is an opaque player resource created by a HandleFactory.
type Handle = registry.Handle

// Purpose tells the factory why a handle is wanted.
type Purpose = arbiter.Purpose

const (
	PurposeActivation = arbiter.PurposeActivation
	PurposePrewarm    = arbiter.PurposePrewarm
)

// Phase is the playback lifecycle phase of a feed item.
type Phase = statebus.Phase

const (
	PhaseRegistered = statebus.PhaseRegistered
	PhaseAttached   = statebus.PhaseAttached
	PhaseActive     = statebus.PhaseActive
	PhasePaused     = statebus.PhasePaused
	PhaseDetached   = statebus.PhaseDetached
	PhaseErrored    = statebus.PhaseErrored
)

// ItemView is what hosts observe for one item.
type ItemView = statebus.ItemView

// GlobalEvent reports a change of the reduced system-ready flag.
type GlobalEvent = statebus.GlobalEvent

// Release reasons reported to observers.
const (
	ReleaseRetention  = arbiter.ReasonRetention
	ReleaseStale      = arbiter.ReasonStale
	ReleaseError      = arbiter.ReasonError
	ReleaseUnregister = arbiter.ReasonUnregister
	ReleaseClose      = "close"
)

var (
	// ErrResource wraps every handle creation failure recorded on an item.
	ErrResource = arbiter.ErrResource

	// ErrInvariantViolation is returned when a caller tries to force an item
	// that is not the arbiter's target into Active.
	ErrInvariantViolation = errors.New("coordinator: item is not the activation target")

	ErrNoFactory   = errors.New("coordinator: handle factory is required")
	ErrInvalidItem = errors.New("coordinator: item id is required")
	ErrUnknownItem = registry.ErrUnknownItem
	ErrClosed      = errors.New("coordinator: closed")
)
