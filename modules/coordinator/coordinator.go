package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/e7canasta/reelcore/modules/coordinator/internal/arbiter"
	"github.com/e7canasta/reelcore/modules/coordinator/internal/registry"
	"github.com/e7canasta/reelcore/modules/focusmonitor"
	"github.com/e7canasta/reelcore/modules/patternmemory"
	"github.com/e7canasta/reelcore/modules/prefetch"
	"github.com/e7canasta/reelcore/modules/statebus"
)

const tracerName = "github.com/e7canasta/reelcore/modules/coordinator"

// Config wires a Coordinator. Only Factory is required.
type Config struct {
	Factory HandleFactory

	// Bus is created when nil. The coordinator closes it on Close either way.
	Bus statebus.Bus

	Observer Observer
	Logger   *slog.Logger
	Tracer   trace.Tracer

	// Context is the parent of every CreateHandle context. Cancelled by Close.
	Context context.Context

	// Monitor configures debounce and the initial activity. Its OnChange is
	// owned by the coordinator and overwritten.
	Monitor  focusmonitor.Config
	Pattern  patternmemory.Config
	Prefetch prefetch.Config

	Now func() time.Time
}

// DefaultConfig returns a config with default monitor and prefetch settings.
func DefaultConfig(factory HandleFactory) Config {
	return Config{
		Factory:  factory,
		Monitor:  focusmonitor.DefaultConfig(),
		Prefetch: prefetch.DefaultConfig(),
	}
}

// ItemProps is what the host UI reports for one mounted feed item.
type ItemProps struct {
	ID       string `json:"id"`
	Index    int    `json:"index"`
	Locator  string `json:"locator"`
	Category string `json:"category"`

	// IsVisible and IsFeedFocused together move the visible index to Index.
	IsVisible     bool `json:"is_visible"`
	IsFeedFocused bool `json:"is_feed_focused"`
}

// Coordinator owns the registry, the arbiter and the planner, and serializes
// every mutation through one event loop.
type Coordinator struct {
	reg     *registry.Registry
	arb     *arbiter.Arbiter
	bus     statebus.Bus
	mon     *focusmonitor.Monitor
	mem     *patternmemory.Memory
	planner *prefetch.Planner

	factory  HandleFactory
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	qmu      sync.Mutex
	queue    []func()
	draining bool
	closed   bool

	closeOnce sync.Once

	released    atomic.Uint64
	violations  atomic.Uint64
	events      atomic.Uint64
	eventFaults atomic.Uint64
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Factory == nil {
		return nil, ErrNoFactory
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Bus == nil {
		cfg.Bus = statebus.New(cfg.Logger)
	}
	if cfg.Pattern.Now == nil {
		cfg.Pattern.Now = cfg.Now
	}
	if cfg.Monitor.Logger == nil {
		cfg.Monitor.Logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(cfg.Context)
	reg := registry.New()

	c := &Coordinator{
		reg:      reg,
		arb:      arbiter.New(reg, cfg.Monitor.Initial.SystemReady(), cfg.Logger),
		bus:      cfg.Bus,
		mem:      patternmemory.New(cfg.Pattern),
		planner:  prefetch.New(cfg.Prefetch),
		factory:  cfg.Factory,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
		now:      cfg.Now,
		ctx:      ctx,
		cancel:   cancel,
	}

	monCfg := cfg.Monitor
	monCfg.OnChange = func(ev statebus.GlobalEvent) {
		c.enqueue(func() { c.globalChanged(ev) }, false)
	}
	c.mon = focusmonitor.New(monCfg)

	return c, nil
}

// Mount registers or updates an item. A visible item of the focused feed
// becomes the visible index.
func (c *Coordinator) Mount(p ItemProps) error {
	if p.ID == "" {
		return ErrInvalidItem
	}
	if !c.enqueue(func() { c.mount(p) }, false) {
		return ErrClosed
	}
	return nil
}

func (c *Coordinator) mount(p ItemProps) {
	it, created, err := c.reg.Register(p.ID, p.Index, p.Locator, p.Category)
	if err != nil {
		c.logger.Error("register failed", "item_id", p.ID, "error", err)
		return
	}
	if created {
		c.logger.Debug("item mounted", "item_id", p.ID, "index", p.Index, "category", p.Category)
	} else if it.Index != p.Index {
		if err := c.reg.UpdateIndex(p.ID, p.Index); err != nil {
			c.logger.Error("reindex failed", "item_id", p.ID, "error", err)
			return
		}
		c.logger.Debug("item reindexed", "item_id", p.ID, "from", it.Index, "to", p.Index)
	}

	if p.IsVisible && p.IsFeedFocused {
		c.apply(c.arb.SetVisibleIndex(p.Index))
	} else {
		c.apply(c.arb.Evaluate())
	}
	c.replan()
}

// Unmount removes an item, releasing its handle. Unknown ids are ignored.
func (c *Coordinator) Unmount(id string) {
	c.enqueue(func() { c.unmount(id, ReleaseUnregister) }, false)
}

func (c *Coordinator) unmount(id, reason string) {
	h, trs := c.reg.Unregister(id)
	c.arb.Forget(id)
	c.publish(trs)
	if h != nil {
		c.release(id, h, reason)
	}
	if len(trs) > 0 {
		c.logger.Debug("item unmounted", "item_id", id)
	}
}

// SetVisibleIndex records the feed position on screen.
func (c *Coordinator) SetVisibleIndex(index int) {
	c.enqueue(func() {
		c.apply(c.arb.SetVisibleIndex(index))
		c.replan()
	}, false)
}

// RecordSample feeds the pattern memory and refreshes the pre-warm plan.
func (c *Coordinator) RecordSample(s patternmemory.Sample) {
	c.enqueue(func() {
		c.mem.RecordSample(s)
		c.replan()
	}, false)
}

// SetProcessActive forwards the foreground/background signal to the monitor.
func (c *Coordinator) SetProcessActive(active bool) {
	c.enqueue(func() { c.mon.SetProcessActive(active) }, false)
}

// SetHostFocused forwards the screen/tab focus signal to the monitor.
func (c *Coordinator) SetHostFocused(focused bool) {
	c.enqueue(func() { c.mon.SetHostFocused(focused) }, false)
}

func (c *Coordinator) globalChanged(ev statebus.GlobalEvent) {
	c.observer.GlobalChanged(ev)
	c.bus.PublishGlobal(ev)
	c.apply(c.arb.SetSystemReady(ev.SystemReady))
	c.replan()
}

// ResetItem returns an Errored item to Registered so it can be activated or
// pre-warmed again.
func (c *Coordinator) ResetItem(id string) error {
	if _, ok := c.reg.Get(id); !ok {
		return ErrUnknownItem
	}
	ok := c.enqueue(func() {
		trs, err := c.reg.Reset(id)
		if err != nil {
			c.logger.Warn("reset failed", "item_id", id, "error", err)
			return
		}
		c.arb.Clear(id)
		c.publish(trs)
		c.apply(c.arb.Evaluate())
		c.replan()
	}, false)
	if !ok {
		return ErrClosed
	}
	return nil
}

// ResetSession forgets the learned usage pattern.
func (c *Coordinator) ResetSession() {
	c.enqueue(func() {
		c.mem.Reset()
		c.logger.Info("session pattern reset")
		c.replan()
	}, false)
}

// ForceActive asks for id to play. Only the arbiter's current target may be
// active; any other id is rejected with ErrInvariantViolation and state is
// left untouched.
func (c *Coordinator) ForceActive(id string) error {
	if c.isClosed() {
		return ErrClosed
	}
	target, ok := c.arb.Target()
	if !ok || target.ID != id {
		c.violations.Add(1)
		c.observer.InvariantViolation(id)
		c.logger.Warn("rejected force active", "item_id", id, "target_id", target.ID)
		return ErrInvariantViolation
	}
	if !c.enqueue(func() { c.apply(c.arb.Evaluate()) }, false) {
		return ErrClosed
	}
	return nil
}

// Item returns the current view of id for the first render.
func (c *Coordinator) Item(id string) (ItemView, bool) {
	it, ok := c.reg.Get(id)
	if !ok {
		return ItemView{}, false
	}
	return it.View(), true
}

// Items returns every item view ordered by index.
func (c *Coordinator) Items() []ItemView {
	items := c.reg.Items()
	out := make([]ItemView, len(items))
	for i, it := range items {
		out[i] = it.View()
	}
	return out
}

// Subscribe registers fn for the transitions of id. No replay.
func (c *Coordinator) Subscribe(id string, fn statebus.ItemListener) (statebus.Unsubscribe, error) {
	return c.bus.Subscribe(id, fn)
}

// SubscribeGlobal registers fn for system-ready changes. No replay.
func (c *Coordinator) SubscribeGlobal(fn statebus.GlobalListener) (statebus.Unsubscribe, error) {
	return c.bus.SubscribeGlobal(fn)
}

// PatternSnapshot returns the pattern estimate used for planning.
func (c *Coordinator) PatternSnapshot() patternmemory.Snapshot {
	return c.mem.Snapshot()
}

// PatternState exports the pattern memory for persistence.
func (c *Coordinator) PatternState() patternmemory.State {
	return c.mem.State()
}

// RestorePattern replaces the pattern memory with st.
func (c *Coordinator) RestorePattern(st patternmemory.State) {
	c.enqueue(func() {
		c.mem.Restore(st)
		c.replan()
	}, false)
}

// SetPrefetchConfig changes planner bounds at runtime.
func (c *Coordinator) SetPrefetchConfig(cfg prefetch.Config) {
	c.planner.SetConfig(cfg)
	c.enqueue(c.replan, false)
}

// PrefetchConfig returns the effective planner bounds.
func (c *Coordinator) PrefetchConfig() prefetch.Config {
	return c.planner.Config()
}

// SetDebounceWindow changes the focus debounce window at runtime.
func (c *Coordinator) SetDebounceWindow(window time.Duration) {
	c.mon.SetWindow(window)
}

// Close unmounts every item, releasing all handles, and closes the bus.
// Completions that arrive later are released immediately. Idempotent.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.qmu.Lock()
		c.closed = true
		c.qmu.Unlock()

		c.mon.Close()
		c.enqueue(func() {
			for _, it := range c.reg.Items() {
				c.unmount(it.ID, ReleaseClose)
			}
			c.bus.Close()
			c.cancel()
			c.logger.Info("coordinator closed")
		}, true)
	})
}

// replan refreshes the pre-warm plan while the system is ready, then releases
// handles outside the retention set.
func (c *Coordinator) replan() {
	idx, hasVisible := c.arb.VisibleIndex()
	if hasVisible && c.arb.SystemReady() {
		items := c.reg.Items()
		feed := make([]prefetch.Entry, 0, len(items))
		for _, it := range items {
			if it.Phase == statebus.PhaseErrored {
				continue
			}
			feed = append(feed, prefetch.Entry{ID: it.ID, Index: it.Index, Category: it.Category})
		}

		hints := c.planner.Plan(idx, feed, c.mem.Snapshot())
		c.observer.Planned(len(hints))
		c.apply(c.arb.Plan(hints))
	}
	c.apply(c.arb.Sweep())
}

// apply publishes transitions, releases handles and sends requests, in that
// order.
func (c *Coordinator) apply(eff arbiter.Effects) {
	c.publish(eff.Transitions)
	for _, rel := range eff.Releases {
		c.release(rel.ItemID, rel.Handle, rel.Reason)
	}
	for _, req := range eff.Requests {
		c.request(req)
	}
}

func (c *Coordinator) publish(trs []registry.Transition) {
	for _, tr := range trs {
		view := tr.State.View()
		c.logger.Debug("item transition",
			"item_id", tr.ID,
			"from", tr.From.String(),
			"to", tr.To.String(),
			"seq", view.Seq,
		)
		c.bus.Publish(view)
		c.observer.ItemTransition(Transition{ID: tr.ID, From: tr.From, To: tr.To, View: view})
	}
}

func (c *Coordinator) release(itemID string, h Handle, reason string) {
	c.factory.ReleaseHandle(h)
	c.released.Add(1)
	c.observer.HandleReleased(reason)
	c.logger.Debug("handle released", "item_id", itemID, "handle_id", h.HandleID(), "reason", reason)
}

func (c *Coordinator) request(req arbiter.Request) {
	hr := HandleRequest{
		RequestID: uuid.NewString(),
		ItemID:    req.ItemID,
		Locator:   req.Locator,
		Purpose:   req.Purpose,
		Depth:     req.Depth,
	}

	ctx, span := c.tracer.Start(c.ctx, "coordinator.create_handle",
		trace.WithAttributes(
			attribute.String("item_id", hr.ItemID),
			attribute.String("req_id", hr.RequestID),
			attribute.String("purpose", hr.Purpose.String()),
			attribute.String("depth", hr.Depth.String()),
		),
	)

	c.observer.HandleRequested(req.Purpose, req.Depth)
	c.logger.Debug("handle requested",
		"item_id", hr.ItemID,
		"req_id", hr.RequestID,
		"purpose", hr.Purpose.String(),
		"depth", hr.Depth.String(),
	)

	started := c.now()
	var once sync.Once
	c.factory.CreateHandle(ctx, hr, func(h Handle, err error) {
		once.Do(func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()

			c.enqueue(func() {
				c.observer.HandleCompleted(req.Purpose, c.now().Sub(started), err)
				eff := c.arb.HandleAttached(req.ItemID, req.Seq, h, err)
				c.apply(eff)
				if eff.Attached != "" {
					c.apply(c.arb.Settle(eff.Attached))
				}
			}, true)
		})
	})
}
