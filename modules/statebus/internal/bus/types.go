package bus

import (
	"errors"
	"fmt"
	"time"
)

// Internal errors - mapped to public errors in statebus package
var (
	ErrBusClosed   = errors.New("statebus: bus is closed")
	ErrNilListener = errors.New("statebus: nil listener provided")
	ErrEmptyID     = errors.New("statebus: empty item id")
)

// Phase is the playback lifecycle phase of a feed item.
type Phase int

const (
	PhaseRegistered Phase = iota
	PhaseAttached
	PhaseActive
	PhasePaused
	PhaseDetached
	PhaseErrored
)

var phaseNames = [...]string{
	PhaseRegistered: "registered",
	PhaseAttached:   "attached",
	PhaseActive:     "active",
	PhasePaused:     "paused",
	PhaseDetached:   "detached",
	PhaseErrored:    "errored",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// HoldsHandle reports whether an item in this phase owns a player handle.
func (p Phase) HoldsHandle() bool {
	return p == PhaseAttached || p == PhaseActive || p == PhasePaused
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("statebus: unknown phase %q", text)
}

// ItemView is what a per-item subscriber observes after every transition.
type ItemView struct {
	ID         string `json:"id" msgpack:"id"`
	Index      int    `json:"index" msgpack:"index"`
	Phase      Phase  `json:"phase" msgpack:"phase"`
	ShouldPlay bool   `json:"should_play" msgpack:"should_play"`

	// Seq increments by one per transition of this id.
	Seq uint64 `json:"seq" msgpack:"seq"`

	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// GlobalEvent reports a change of the reduced system-ready flag.
type GlobalEvent struct {
	ProcessActive bool      `json:"process_active" msgpack:"process_active"`
	HostFocused   bool      `json:"host_focused" msgpack:"host_focused"`
	SystemReady   bool      `json:"system_ready" msgpack:"system_ready"`
	At            time.Time `json:"at" msgpack:"at"`
	TraceID       string    `json:"trace_id" msgpack:"trace_id"`
}

// ItemListener receives item transitions.
type ItemListener func(ItemView)

// GlobalListener receives global activity changes.
type GlobalListener func(GlobalEvent)

// Unsubscribe removes a listener. Idempotent.
type Unsubscribe func()

// Stats tracks delivery metrics.
type Stats struct {
	Published         uint64
	GlobalPublished   uint64
	Delivered         uint64
	Faults            uint64
	ItemSubscribers   int
	GlobalSubscribers int
}

// Bus fans out item transitions and global events to listeners.
type Bus interface {
	Subscribe(id string, fn ItemListener) (Unsubscribe, error)
	SubscribeGlobal(fn GlobalListener) (Unsubscribe, error)
	Publish(view ItemView)
	PublishGlobal(ev GlobalEvent)
	Stats() Stats
	Close()
}
