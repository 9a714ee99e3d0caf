// Package arbiter decides which single feed item may play and which items
// should hold a player handle.
//
// The arbiter performs no I/O. Each call mutates the registry and returns
// Effects: transitions to publish, handle requests to send to the factory and
// detached handles to release. The caller runs those effects outside any lock.
package arbiter

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/reelcore/modules/coordinator/internal/registry"
	"github.com/e7canasta/reelcore/modules/prefetch"
	"github.com/e7canasta/reelcore/modules/statebus"
)

// ErrResource marks a failed handle creation.
var ErrResource = errors.New("arbiter: handle creation failed")

// Purpose tells the factory why a handle is wanted.
type Purpose int

const (
	PurposeActivation Purpose = iota
	PurposePrewarm
)

func (p Purpose) String() string {
	if p == PurposePrewarm {
		return "prewarm"
	}
	return "activation"
}

// Request asks the factory for a handle. Seq identifies the request in the
// completion.
type Request struct {
	ItemID  string
	Locator string
	Purpose Purpose
	Depth   prefetch.Depth
	Seq     uint64
}

// Release is a detached handle the caller must hand back to the factory.
type Release struct {
	ItemID string
	Handle registry.Handle
	Reason string
}

// Release reasons.
const (
	ReasonRetention  = "retention"
	ReasonStale      = "stale"
	ReasonError      = "error"
	ReasonUnregister = "unregister"
)

// Effects is the outcome of one arbiter step.
type Effects struct {
	Transitions []registry.Transition
	Requests    []Request
	Releases    []Release

	// Failures lists requests whose failure was swallowed or recorded.
	Failures []Failure

	// Attached is set when the step attached a handle. The caller publishes
	// the transitions first, then calls Settle with it.
	Attached string
}

// Failure describes one failed completion.
type Failure struct {
	ItemID  string
	Purpose Purpose
	Err     error
}

func (e *Effects) merge(o Effects) {
	e.Transitions = append(e.Transitions, o.Transitions...)
	e.Requests = append(e.Requests, o.Requests...)
	e.Releases = append(e.Releases, o.Releases...)
	e.Failures = append(e.Failures, o.Failures...)
}

// Empty reports whether the step changed nothing.
func (e Effects) Empty() bool {
	return len(e.Transitions) == 0 && len(e.Requests) == 0 && len(e.Releases) == 0 && len(e.Failures) == 0
}

// Stats counts arbiter outcomes.
type Stats struct {
	Requests         uint64
	StaleCompletions uint64
	ActivationErrors uint64
	PrewarmErrors    uint64
	InFlight         int
}

type pending struct {
	seq     uint64
	purpose Purpose
}

// Arbiter is safe for concurrent use, but callers are expected to drive it
// from one serialized loop so effects are applied in order.
type Arbiter struct {
	mu sync.Mutex

	reg    *registry.Registry
	logger *slog.Logger

	visibleIndex int
	hasVisible   bool
	systemReady  bool

	inflight map[string]pending
	retained map[string]struct{}
	noWarm   map[string]struct{} // pre-warm failed; skipped until Clear
	nextSeq  uint64

	// lastPaused is the item most recently demoted from Active. It keeps its
	// handle until another item is demoted.
	lastPaused string

	requests         atomic.Uint64
	staleCompletions atomic.Uint64
	activationErrors atomic.Uint64
	prewarmErrors    atomic.Uint64
}

// New creates an arbiter over reg.
func New(reg *registry.Registry, systemReady bool, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{
		reg:         reg,
		logger:      logger,
		systemReady: systemReady,
		inflight:    make(map[string]pending),
		retained:    make(map[string]struct{}),
		noWarm:      make(map[string]struct{}),
	}
}

// SetVisibleIndex records the feed position the user is looking at and
// re-evaluates.
func (a *Arbiter) SetVisibleIndex(index int) Effects {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.visibleIndex = index
	a.hasVisible = true
	return a.evaluateLocked()
}

// VisibleIndex returns the visible index, if one was set.
func (a *Arbiter) VisibleIndex() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visibleIndex, a.hasVisible
}

// SetSystemReady records the reduced global activity flag and re-evaluates.
func (a *Arbiter) SetSystemReady(ready bool) Effects {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.systemReady = ready
	return a.evaluateLocked()
}

// SystemReady returns the last recorded flag.
func (a *Arbiter) SystemReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.systemReady
}

// Evaluate recomputes the target. Redundant calls produce no effects.
func (a *Arbiter) Evaluate() Effects {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.evaluateLocked()
}

// Target returns the item that should be Active right now, if any.
func (a *Arbiter) Target() (registry.Item, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.targetLocked()
}

func (a *Arbiter) targetLocked() (registry.Item, bool) {
	if !a.systemReady || !a.hasVisible {
		return registry.Item{}, false
	}
	return a.reg.AtIndex(a.visibleIndex, func(it registry.Item) bool {
		return it.Phase != statebus.PhaseErrored
	})
}

func (a *Arbiter) evaluateLocked() Effects {
	var eff Effects

	target, hasTarget := a.targetLocked()

	if active, ok := a.reg.Active(); ok && (!hasTarget || active.ID != target.ID) {
		trs, err := a.reg.MarkPaused(active.ID)
		if err != nil {
			a.logger.Error("demote failed", "item_id", active.ID, "error", err)
		} else {
			a.lastPaused = active.ID
		}
		eff.Transitions = append(eff.Transitions, trs...)
	}

	if !hasTarget || target.Phase == statebus.PhaseActive {
		return eff
	}

	if target.Handle != nil {
		trs, err := a.reg.MarkActive(target.ID)
		if err != nil {
			a.logger.Error("promote failed", "item_id", target.ID, "phase", target.Phase, "error", err)
		}
		eff.Transitions = append(eff.Transitions, trs...)
		return eff
	}

	if req, ok := a.requestLocked(target, PurposeActivation, prefetch.DepthFull); ok {
		eff.Requests = append(eff.Requests, req)
	}
	return eff
}

// requestLocked issues a request unless one is already in flight for the item.
func (a *Arbiter) requestLocked(it registry.Item, purpose Purpose, depth prefetch.Depth) (Request, bool) {
	if _, busy := a.inflight[it.ID]; busy {
		return Request{}, false
	}

	a.nextSeq++
	a.inflight[it.ID] = pending{seq: a.nextSeq, purpose: purpose}
	a.requests.Add(1)

	return Request{
		ItemID:  it.ID,
		Locator: it.Locator,
		Purpose: purpose,
		Depth:   depth,
		Seq:     a.nextSeq,
	}, true
}

// Plan replaces the retained pre-warm set with hints and requests handles for
// hinted items that have none. Errored items and items whose pre-warm already
// failed are not pre-warmed.
func (a *Arbiter) Plan(hints []prefetch.Hint) Effects {
	a.mu.Lock()
	defer a.mu.Unlock()

	var eff Effects
	a.retained = make(map[string]struct{}, len(hints))
	for _, h := range hints {
		a.retained[h.ID] = struct{}{}

		it, ok := a.reg.Get(h.ID)
		if !ok || it.Handle != nil || it.Phase == statebus.PhaseErrored {
			continue
		}
		if _, failed := a.noWarm[h.ID]; failed {
			continue
		}
		if req, ok := a.requestLocked(it, PurposePrewarm, h.Depth); ok {
			eff.Requests = append(eff.Requests, req)
		}
	}
	return eff
}

// Retained returns the ids of the last plan.
func (a *Arbiter) Retained() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.retained))
	for id := range a.retained {
		out = append(out, id)
	}
	return out
}

// Sweep detaches handles held by items that are not at the visible index, not
// in the last plan and not the most recently paused item.
func (a *Arbiter) Sweep() Effects {
	a.mu.Lock()
	defer a.mu.Unlock()

	var eff Effects
	for _, it := range a.reg.Items() {
		if it.Handle == nil || a.keepLocked(it) {
			continue
		}
		h, trs := a.reg.DetachHandle(it.ID)
		eff.Transitions = append(eff.Transitions, trs...)
		if h != nil {
			eff.Releases = append(eff.Releases, Release{ItemID: it.ID, Handle: h, Reason: ReasonRetention})
		}
	}
	return eff
}

func (a *Arbiter) keepLocked(it registry.Item) bool {
	if a.hasVisible && it.Index == a.visibleIndex {
		return true
	}
	if it.ID == a.lastPaused {
		return true
	}
	_, ok := a.retained[it.ID]
	return ok
}

// HandleAttached applies a factory completion. A successful completion only
// attaches the handle and sets Effects.Attached; promotion or discard happens
// in Settle once the attach was delivered. Completions for forgotten requests
// only release the handle.
func (a *Arbiter) HandleAttached(id string, seq uint64, h registry.Handle, err error) Effects {
	a.mu.Lock()
	defer a.mu.Unlock()

	var eff Effects

	p, known := a.inflight[id]
	if !known || p.seq != seq {
		// The item was unregistered (or forgotten) while the request ran.
		if err == nil && h != nil {
			a.staleCompletions.Add(1)
			eff.Releases = append(eff.Releases, Release{ItemID: id, Handle: h, Reason: ReasonStale})
		}
		return eff
	}
	delete(a.inflight, id)

	it, exists := a.reg.Get(id)
	target, hasTarget := a.targetLocked()
	isTarget := exists && hasTarget && target.ID == id

	if err != nil || h == nil {
		if err == nil {
			err = errors.New("factory returned no handle")
		}
		eff.Failures = append(eff.Failures, Failure{ItemID: id, Purpose: p.purpose, Err: err})

		// Pre-warm failures never mark the item; a target that lost its
		// pre-warm gets an activation request from the evaluation below.
		if p.purpose == PurposePrewarm || !isTarget {
			if p.purpose == PurposePrewarm {
				a.prewarmErrors.Add(1)
				a.noWarm[id] = struct{}{}
			} else {
				a.activationErrors.Add(1)
			}
			a.logger.Warn("handle request failed, ignored",
				"item_id", id, "purpose", p.purpose.String(), "error", err)
			eff.merge(a.evaluateLocked())
			return eff
		}

		a.activationErrors.Add(1)
		a.logger.Error("handle request failed", "item_id", id, "purpose", p.purpose.String(), "error", err)
		released, trs := a.reg.MarkError(id, fmt.Errorf("%w: %w", ErrResource, err))
		eff.Transitions = append(eff.Transitions, trs...)
		if released != nil {
			eff.Releases = append(eff.Releases, Release{ItemID: id, Handle: released, Reason: ReasonError})
		}
		eff.merge(a.evaluateLocked())
		return eff
	}

	if !exists || it.Handle != nil || it.Phase == statebus.PhaseErrored {
		a.staleCompletions.Add(1)
		eff.Releases = append(eff.Releases, Release{ItemID: id, Handle: h, Reason: ReasonStale})
		return eff
	}

	trs, attachErr := a.reg.AttachHandle(id, h)
	if attachErr != nil {
		a.logger.Error("attach failed", "item_id", id, "handle_id", h.HandleID(), "error", attachErr)
		eff.Releases = append(eff.Releases, Release{ItemID: id, Handle: h, Reason: ReasonStale})
		return eff
	}
	eff.Transitions = append(eff.Transitions, trs...)
	eff.Attached = id
	return eff
}

// Settle finishes an attach reported by HandleAttached. A handle the item no
// longer needs is detached and released as stale; otherwise the target is
// re-evaluated, which promotes the item if it is the target.
func (a *Arbiter) Settle(id string) Effects {
	a.mu.Lock()
	defer a.mu.Unlock()

	it, ok := a.reg.Get(id)
	if !ok || it.Handle == nil || it.Phase != statebus.PhaseAttached {
		return a.evaluateLocked()
	}

	target, hasTarget := a.targetLocked()
	if (!hasTarget || target.ID != id) && !a.keepLocked(it) {
		var eff Effects
		a.staleCompletions.Add(1)
		a.logger.Debug("stale completion", "item_id", id, "handle_id", it.Handle.HandleID())
		detached, trs := a.reg.DetachHandle(id)
		eff.Transitions = append(eff.Transitions, trs...)
		if detached != nil {
			eff.Releases = append(eff.Releases, Release{ItemID: id, Handle: detached, Reason: ReasonStale})
		}
		return eff
	}

	return a.evaluateLocked()
}

// Forget drops bookkeeping for an unregistered item. A request still in flight
// becomes an orphan whose handle is released on completion.
func (a *Arbiter) Forget(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.inflight, id)
	delete(a.retained, id)
	delete(a.noWarm, id)
	if a.lastPaused == id {
		a.lastPaused = ""
	}
}

// Clear re-enables pre-warming of an item after an operator reset.
func (a *Arbiter) Clear(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.noWarm, id)
}

// Stats returns a snapshot of the counters.
func (a *Arbiter) Stats() Stats {
	a.mu.Lock()
	inflight := len(a.inflight)
	a.mu.Unlock()

	return Stats{
		Requests:         a.requests.Load(),
		StaleCompletions: a.staleCompletions.Load(),
		ActivationErrors: a.activationErrors.Load(),
		PrewarmErrors:    a.prewarmErrors.Load(),
		InFlight:         inflight,
	}
}
