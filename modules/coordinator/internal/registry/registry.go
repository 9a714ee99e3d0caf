// Package registry is the authoritative store of feed items, their playback
// phase and the player handle each one owns.
//
// It carries no policy. Every mutation checks the invariants it can see
// locally (one Active item, handle present iff the phase holds one) and
// returns the transitions it produced; publishing them is the caller's job
// and happens after the registry lock is released.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/e7canasta/reelcore/modules/statebus"
)

var (
	ErrUnknownItem       = errors.New("registry: unknown item")
	ErrEmptyID           = errors.New("registry: empty item id")
	ErrNilHandle         = errors.New("registry: nil handle")
	ErrHandleConflict    = errors.New("registry: a different handle is already attached")
	ErrInvalidTransition = errors.New("registry: invalid phase transition")
)

// Handle is an opaque player resource. Two handles are the same resource iff
// their ids are equal.
type Handle interface {
	HandleID() string
}

// Item is a copy of one registry entry.
type Item struct {
	ID       string
	Index    int
	Locator  string
	Category string
	Phase    statebus.Phase
	Handle   Handle

	// LastError is set only while Errored.
	LastError error

	// RegisteredSeq orders registrations; lower wins index ties.
	RegisteredSeq uint64

	// Seq counts transitions of this item.
	Seq uint64
}

// View converts the item to its subscriber payload.
func (it Item) View() statebus.ItemView {
	v := statebus.ItemView{
		ID:         it.ID,
		Index:      it.Index,
		Phase:      it.Phase,
		ShouldPlay: it.Phase == statebus.PhaseActive,
		Seq:        it.Seq,
	}
	if it.LastError != nil {
		v.Error = it.LastError.Error()
	}
	return v
}

// Transition is one phase change, with the item state right after it.
type Transition struct {
	ID       string
	From, To statebus.Phase
	State    Item
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	items   map[string]*Item
	active  string
	nextSeq uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{items: make(map[string]*Item)}
}

// Register adds an item or, for a known id, updates locator and category
// without touching index, phase or handle. Moving a known item goes through
// UpdateIndex. Reports whether it was new.
func (r *Registry) Register(id string, index int, locator, category string) (Item, bool, error) {
	if id == "" {
		return Item{}, false, ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if it, ok := r.items[id]; ok {
		it.Locator = locator
		it.Category = category
		return *it, false, nil
	}

	r.nextSeq++
	it := &Item{
		ID:            id,
		Index:         index,
		Locator:       locator,
		Category:      category,
		Phase:         statebus.PhaseRegistered,
		RegisteredSeq: r.nextSeq,
	}
	r.items[id] = it
	return *it, true, nil
}

// UpdateIndex moves an item within the feed ordering.
func (r *Registry) UpdateIndex(id string, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[id]
	if !ok {
		return ErrUnknownItem
	}
	it.Index = index
	return nil
}

// AttachHandle gives h to a Registered or Errored item. Attaching the handle
// the item already owns is a no-op; attaching a different one is rejected with
// ErrHandleConflict and leaves state untouched.
func (r *Registry) AttachHandle(id string, h Handle) ([]Transition, error) {
	if h == nil {
		return nil, ErrNilHandle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[id]
	if !ok {
		return nil, ErrUnknownItem
	}
	if it.Handle != nil {
		if it.Handle.HandleID() == h.HandleID() {
			return nil, nil
		}
		return nil, ErrHandleConflict
	}
	if it.Phase != statebus.PhaseRegistered && it.Phase != statebus.PhaseErrored {
		return nil, ErrInvalidTransition
	}

	it.Handle = h
	it.LastError = nil
	return []Transition{r.transition(it, statebus.PhaseAttached)}, nil
}

// DetachHandle takes the handle away and returns the item to Registered. The
// detached handle is returned for release. Unknown ids and items without a
// handle are no-ops.
func (r *Registry) DetachHandle(id string) (Handle, []Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[id]
	if !ok || it.Handle == nil {
		return nil, nil
	}

	h := it.Handle
	it.Handle = nil
	if r.active == id {
		r.active = ""
	}
	return h, []Transition{r.transition(it, statebus.PhaseRegistered)}
}

// MarkActive promotes id to Active, first demoting any other Active item to
// Paused, in one locked step.
func (r *Registry) MarkActive(id string) ([]Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[id]
	if !ok {
		return nil, ErrUnknownItem
	}
	if it.Phase == statebus.PhaseActive {
		return nil, nil
	}
	if it.Handle == nil || !it.Phase.HoldsHandle() {
		return nil, ErrInvalidTransition
	}

	var out []Transition
	if r.active != "" {
		if prev, ok := r.items[r.active]; ok && prev.Phase == statebus.PhaseActive {
			out = append(out, r.transition(prev, statebus.PhasePaused))
		}
	}
	out = append(out, r.transition(it, statebus.PhaseActive))
	r.active = id
	return out, nil
}

// MarkPaused demotes an Active item. Paused and Attached items are left as is.
func (r *Registry) MarkPaused(id string) ([]Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[id]
	if !ok {
		return nil, ErrUnknownItem
	}
	switch it.Phase {
	case statebus.PhaseActive:
		r.active = ""
		return []Transition{r.transition(it, statebus.PhasePaused)}, nil
	case statebus.PhasePaused, statebus.PhaseAttached:
		return nil, nil
	default:
		return nil, ErrInvalidTransition
	}
}

// MarkError moves an item to Errored. A held handle is detached and returned
// for release. Unknown ids are no-ops.
func (r *Registry) MarkError(id string, reason error) (Handle, []Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[id]
	if !ok {
		return nil, nil
	}

	h := it.Handle
	it.Handle = nil
	it.LastError = reason
	if r.active == id {
		r.active = ""
	}
	if it.Phase == statebus.PhaseErrored {
		return h, nil
	}
	return h, []Transition{r.transition(it, statebus.PhaseErrored)}
}

// Reset returns an Errored item to Registered so the arbiter reconsiders it.
// Items in any other phase are left as is.
func (r *Registry) Reset(id string) ([]Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[id]
	if !ok {
		return nil, ErrUnknownItem
	}
	if it.Phase != statebus.PhaseErrored {
		return nil, nil
	}
	it.LastError = nil
	return []Transition{r.transition(it, statebus.PhaseRegistered)}, nil
}

// Unregister removes an item. The final transition reports Detached; a held
// handle is returned for release. Unknown ids are no-ops.
func (r *Registry) Unregister(id string) (Handle, []Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[id]
	if !ok {
		return nil, nil
	}

	h := it.Handle
	it.Handle = nil
	if r.active == id {
		r.active = ""
	}
	tr := r.transition(it, statebus.PhaseDetached)
	delete(r.items, id)
	return h, []Transition{tr}
}

// Get returns a copy of the item.
func (r *Registry) Get(id string) (Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	it, ok := r.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Active returns the Active item, if any.
func (r *Registry) Active() (Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.active == "" {
		return Item{}, false
	}
	it, ok := r.items[r.active]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// AtIndex returns the earliest registered item at index whose phase passes
// keep (all phases if keep is nil).
func (r *Registry) AtIndex(index int, keep func(Item) bool) (Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Item
	for _, it := range r.items {
		if it.Index != index {
			continue
		}
		if keep != nil && !keep(*it) {
			continue
		}
		if best == nil || it.RegisteredSeq < best.RegisteredSeq {
			best = it
		}
	}
	if best == nil {
		return Item{}, false
	}
	return *best, true
}

// Items returns copies of all items ordered by index, then registration.
func (r *Registry) Items() []Item {
	r.mu.RLock()
	out := make([]Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, *it)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].RegisteredSeq < out[j].RegisteredSeq
	})
	return out
}

// Len returns the number of registered items.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// HandleCount returns how many items currently own a handle.
func (r *Registry) HandleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, it := range r.items {
		if it.Handle != nil {
			n++
		}
	}
	return n
}

// transition must be called with mu held.
func (r *Registry) transition(it *Item, to statebus.Phase) Transition {
	from := it.Phase
	it.Phase = to
	it.Seq++
	return Transition{ID: it.ID, From: from, To: to, State: *it}
}
