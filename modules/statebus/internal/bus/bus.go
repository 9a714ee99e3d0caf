package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

type itemSubscriber struct {
	id      string
	fn      ItemListener
	removed atomic.Bool
}

type globalSubscriber struct {
	fn      GlobalListener
	removed atomic.Bool
}

type bus struct {
	mu     sync.RWMutex
	items  map[string][]*itemSubscriber
	global []*globalSubscriber
	closed bool

	logger *slog.Logger

	published       uint64
	globalPublished uint64
	delivered       uint64
	faults          uint64
}

// New creates a new state bus. A nil logger uses slog.Default().
func New(logger *slog.Logger) Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &bus{
		items:  make(map[string][]*itemSubscriber),
		logger: logger,
	}
}

// Subscribe registers fn for transitions of item id.
func (b *bus) Subscribe(id string, fn ItemListener) (Unsubscribe, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if fn == nil {
		return nil, ErrNilListener
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &itemSubscriber{id: id, fn: fn}

	// Copy-on-write: publishers iterate over the slice they loaded.
	current := b.items[id]
	next := make([]*itemSubscriber, len(current), len(current)+1)
	copy(next, current)
	b.items[id] = append(next, sub)

	return func() { b.removeItem(sub) }, nil
}

// SubscribeGlobal registers fn for global activity events.
func (b *bus) SubscribeGlobal(fn GlobalListener) (Unsubscribe, error) {
	if fn == nil {
		return nil, ErrNilListener
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &globalSubscriber{fn: fn}
	next := make([]*globalSubscriber, len(b.global), len(b.global)+1)
	copy(next, b.global)
	b.global = append(next, sub)

	return func() { b.removeGlobal(sub) }, nil
}

func (b *bus) removeItem(sub *itemSubscriber) {
	if sub.removed.Swap(true) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.items[sub.id]
	next := make([]*itemSubscriber, 0, len(current))
	for _, s := range current {
		if s != sub {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(b.items, sub.id)
		return
	}
	b.items[sub.id] = next
}

func (b *bus) removeGlobal(sub *globalSubscriber) {
	if sub.removed.Swap(true) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]*globalSubscriber, 0, len(b.global))
	for _, s := range b.global {
		if s != sub {
			next = append(next, s)
		}
	}
	b.global = next
}

// Publish delivers view to the listeners of view.ID in subscription order.
// Listeners unsubscribed during the delivery are skipped.
func (b *bus) Publish(view ItemView) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	listeners := b.items[view.ID]
	b.mu.RUnlock()

	atomic.AddUint64(&b.published, 1)

	for _, sub := range listeners {
		if sub.removed.Load() {
			continue
		}
		b.deliver("item", view.ID, func() { sub.fn(view) })
	}
}

// PublishGlobal delivers ev to every global listener in subscription order.
func (b *bus) PublishGlobal(ev GlobalEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	listeners := b.global
	b.mu.RUnlock()

	atomic.AddUint64(&b.globalPublished, 1)

	for _, sub := range listeners {
		if sub.removed.Load() {
			continue
		}
		b.deliver("global", "", func() { sub.fn(ev) })
	}
}

// deliver runs one callback, isolating a panic to that callback.
func (b *bus) deliver(kind, id string, call func()) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&b.faults, 1)
			b.logger.Error("state listener panicked",
				"kind", kind,
				"item_id", id,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	call()
	atomic.AddUint64(&b.delivered, 1)
}

// Stats returns a snapshot of delivery counters.
func (b *bus) Stats() Stats {
	b.mu.RLock()
	itemSubs := 0
	for _, subs := range b.items {
		itemSubs += len(subs)
	}
	globalSubs := len(b.global)
	b.mu.RUnlock()

	return Stats{
		Published:         atomic.LoadUint64(&b.published),
		GlobalPublished:   atomic.LoadUint64(&b.globalPublished),
		Delivered:         atomic.LoadUint64(&b.delivered),
		Faults:            atomic.LoadUint64(&b.faults),
		ItemSubscribers:   itemSubs,
		GlobalSubscribers: globalSubs,
	}
}

// Close drops all listeners. Publish becomes a no-op; idempotent.
func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, subs := range b.items {
		for _, s := range subs {
			s.removed.Store(true)
		}
	}
	for _, s := range b.global {
		s.removed.Store(true)
	}
	b.items = nil
	b.global = nil
}
