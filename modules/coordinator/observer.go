package coordinator

import (
	"time"

	"github.com/e7canasta/reelcore/modules/prefetch"
)

// Transition is one published phase change.
type Transition struct {
	ID       string
	From, To Phase
	View     ItemView
}

// Observer receives coordinator events for metrics and outbound transport.
// Calls happen on the event loop; implementations must not block.
type Observer interface {
	ItemTransition(tr Transition)
	GlobalChanged(ev GlobalEvent)
	HandleRequested(purpose Purpose, depth prefetch.Depth)
	HandleCompleted(purpose Purpose, elapsed time.Duration, err error)
	HandleReleased(reason string)
	InvariantViolation(itemID string)
	Planned(hints int)
}

// NopObserver ignores everything. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) ItemTransition(Transition) {}
func (NopObserver) GlobalChanged(GlobalEvent) {}
func (NopObserver) HandleRequested(Purpose, prefetch.Depth) {}
func (NopObserver) HandleCompleted(Purpose, time.Duration, error) {}
func (NopObserver) HandleReleased(string) {}
func (NopObserver) InvariantViolation(string) {}
func (NopObserver) Planned(int) {}

type multiObserver []Observer

// Observers fans out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multiObserver) ItemTransition(tr Transition) {
	for _, o := range m {
		o.ItemTransition(tr)
	}
}

func (m multiObserver) GlobalChanged(ev GlobalEvent) {
	for _, o := range m {
		o.GlobalChanged(ev)
	}
}

func (m multiObserver) HandleRequested(p Purpose, d prefetch.Depth) {
	for _, o := range m {
		o.HandleRequested(p, d)
	}
}

func (m multiObserver) HandleCompleted(p Purpose, elapsed time.Duration, err error) {
	for _, o := range m {
		o.HandleCompleted(p, elapsed, err)
	}
}

func (m multiObserver) HandleReleased(reason string) {
	for _, o := range m {
		o.HandleReleased(reason)
	}
}

func (m multiObserver) InvariantViolation(id string) {
	for _, o := range m {
		o.InvariantViolation(id)
	}
}

func (m multiObserver) Planned(hints int) {
	for _, o := range m {
		o.Planned(hints)
	}
}
