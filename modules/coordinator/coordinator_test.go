package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"testing/quick"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/e7canasta/reelcore/modules/focusmonitor"
	"github.com/e7canasta/reelcore/modules/patternmemory"
	"github.com/e7canasta/reelcore/modules/prefetch"
	"github.com/e7canasta/reelcore/modules/statebus"
)

type fakeHandle string

func (h fakeHandle) HandleID() string { return string(h) }

// fakeFactory records requests. Inline factories complete inside CreateHandle;
// others park completions until completeAll.
type fakeFactory struct {
	mu       sync.Mutex
	inline   bool
	fail     map[string]bool
	next     int
	requests  []HandleRequest
	delivered map[string]bool // handle ids handed to the coordinator
	released  map[string]int  // handle id → releases
	pending   []func()
}

func newFakeFactory(inline bool) *fakeFactory {
	return &fakeFactory{
		inline:    inline,
		fail:      make(map[string]bool),
		delivered: make(map[string]bool),
		released:  make(map[string]int),
	}
}

func (f *fakeFactory) CreateHandle(_ context.Context, req HandleRequest, done func(Handle, error)) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fail := f.fail[req.ItemID]
	f.next++
	h := fakeHandle(fmt.Sprintf("h%d-%s", f.next, req.ItemID))
	complete := func() {
		if fail {
			done(nil, errors.New("factory failure"))
			return
		}
		f.mu.Lock()
		f.delivered[h.HandleID()] = true
		f.mu.Unlock()
		done(h, nil)
	}
	if !f.inline {
		f.pending = append(f.pending, complete)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	complete()
}

func (f *fakeFactory) ReleaseHandle(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[h.HandleID()]++
}

func (f *fakeFactory) completeAll() {
	for {
		f.mu.Lock()
		pending := f.pending
		f.pending = nil
		f.mu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, complete := range pending {
			complete()
		}
	}
}

// completeOne completes the i-th pending request (modulo the queue length).
func (f *fakeFactory) completeOne(i int) {
	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		return
	}
	i %= len(f.pending)
	complete := f.pending[i]
	f.pending = append(f.pending[:i], f.pending[i+1:]...)
	f.mu.Unlock()
	complete()
}

func (f *fakeFactory) requestsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.ItemID == id {
			n++
		}
	}
	return n
}

func (f *fakeFactory) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

// releaseProblems lists delivered handles not released exactly once and
// releases of handles that were never delivered.
func (f *fakeFactory) releaseProblems() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for id := range f.delivered {
		if n := f.released[id]; n != 1 {
			out = append(out, fmt.Sprintf("%s released %d times", id, n))
		}
	}
	for id := range f.released {
		if !f.delivered[id] {
			out = append(out, fmt.Sprintf("%s released but never delivered", id))
		}
	}
	return out
}

func newTestCoordinator(t *testing.T, factory HandleFactory, prefetchCap int) *Coordinator {
	t.Helper()
	c, err := New(Config{
		Factory:  factory,
		Monitor:  focusmonitor.Config{Initial: focusmonitor.Activity{ProcessActive: true, HostFocused: true}},
		Prefetch: prefetch.Config{Cap: prefetchCap},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

type phaseLog struct {
	mu  sync.Mutex
	log map[string][]Phase
}

func (l *phaseLog) watch(t *testing.T, c *Coordinator, ids ...string) {
	t.Helper()
	if l.log == nil {
		l.log = make(map[string][]Phase)
	}
	for _, id := range ids {
		id := id
		if _, err := c.Subscribe(id, func(v ItemView) {
			l.mu.Lock()
			l.log[id] = append(l.log[id], v.Phase)
			l.mu.Unlock()
		}); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}
}

func (l *phaseLog) get(id string) []Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Phase(nil), l.log[id]...)
}

func samePhases(a []Phase, b ...Phase) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewRequiresFactory(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoFactory) {
		t.Errorf("Expected ErrNoFactory, got %v", err)
	}
}

// TestScenarioPauseResume walks the three-item scenario: B activates, pauses
// when the process goes to background and resumes without a new handle.
func TestScenarioPauseResume(t *testing.T) {
	factory := newFakeFactory(true)
	c := newTestCoordinator(t, factory, 0)
	defer c.Close()

	var log phaseLog
	log.watch(t, c, "A", "B", "C")

	for i, id := range []string{"A", "B", "C"} {
		if err := c.Mount(ItemProps{ID: id, Index: i, Locator: "loc-" + id}); err != nil {
			t.Fatalf("Mount(%s) failed: %v", id, err)
		}
	}

	c.SetVisibleIndex(1)
	if got := log.get("B"); !samePhases(got, PhaseAttached, PhaseActive) {
		t.Fatalf("Expected B Registered→Attached→Active, got %v", got)
	}
	if len(log.get("A")) != 0 || len(log.get("C")) != 0 {
		t.Fatalf("Expected no transitions for A or C, got A=%v C=%v", log.get("A"), log.get("C"))
	}

	c.SetProcessActive(false)
	if got := log.get("B"); !samePhases(got, PhaseAttached, PhaseActive, PhasePaused) {
		t.Fatalf("Expected B paused, got %v", got)
	}
	if view, _ := c.Item("B"); view.ShouldPlay {
		t.Error("Paused item must not play")
	}
	if st := c.Status(); st.AttachedHandles != 1 || st.SystemReady {
		t.Fatalf("Expected handle kept while not ready, got %+v", st)
	}

	c.SetProcessActive(true)
	if got := log.get("B"); !samePhases(got, PhaseAttached, PhaseActive, PhasePaused, PhaseActive) {
		t.Fatalf("Expected B resumed, got %v", got)
	}
	if n := factory.requestsFor("B"); n != 1 {
		t.Errorf("Expected exactly 1 createHandle for B, got %d", n)
	}
	if view, _ := c.Item("B"); !view.ShouldPlay {
		t.Error("Expected B to play")
	}
}

func TestPrewarmAndRetention(t *testing.T) {
	factory := newFakeFactory(true)
	c := newTestCoordinator(t, factory, 1)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Mount(ItemProps{ID: fmt.Sprintf("i%d", i), Index: i})
	}

	c.SetVisibleIndex(2)
	if n := factory.requestsFor("i3"); n != 1 {
		t.Fatalf("Expected forward neighbour i3 pre-warmed, got %d requests", n)
	}
	if st := c.Status(); st.ActiveID != "i2" || st.AttachedHandles != 2 {
		t.Fatalf("Expected i2 active with i3 pre-warmed, got %+v", st)
	}

	// Moving on keeps the new visible item, the new neighbour and the item
	// just paused.
	c.SetVisibleIndex(3)
	st := c.Status()
	if st.ActiveID != "i3" {
		t.Fatalf("Expected i3 active, got %q", st.ActiveID)
	}
	if n := factory.requestsFor("i3"); n != 1 {
		t.Errorf("Expected pre-warmed handle reused, got %d requests for i3", n)
	}
	if st.AttachedHandles != 3 {
		t.Errorf("Expected 3 handles (i2 paused, i3 active, i4 pre-warmed), got %d", st.AttachedHandles)
	}
	if view, _ := c.Item("i2"); view.Phase != PhasePaused {
		t.Errorf("Expected i2 paused with its handle, got %v", view.Phase)
	}

	// Once another item is paused, i2 falls outside retention.
	c.SetVisibleIndex(4)
	if view, _ := c.Item("i2"); view.Phase != PhaseRegistered {
		t.Errorf("Expected i2 released back to Registered, got %v", view.Phase)
	}
	if view, _ := c.Item("i3"); view.Phase != PhasePaused {
		t.Errorf("Expected i3 paused, got %v", view.Phase)
	}
	if st := c.Status(); st.AttachedHandles != 2 {
		t.Errorf("Expected 2 handles (i3 paused, i4 active), got %d", st.AttachedHandles)
	}
}

func TestScrollAwayAndBackReusesHandle(t *testing.T) {
	for _, prefetchCap := range []int{0, 4} {
		t.Run(fmt.Sprintf("cap=%d", prefetchCap), func(t *testing.T) {
			factory := newFakeFactory(true)
			c := newTestCoordinator(t, factory, prefetchCap)
			defer c.Close()

			var log phaseLog
			log.watch(t, c, "B")

			for i, id := range []string{"A", "B", "C", "D", "E"} {
				c.Mount(ItemProps{ID: id, Index: i, Locator: "loc-" + id})
			}

			c.SetVisibleIndex(1)
			c.SetVisibleIndex(2)
			if got := log.get("B"); !samePhases(got, PhaseAttached, PhaseActive, PhasePaused) {
				t.Fatalf("Expected B paused with its handle after scrolling away, got %v", got)
			}

			c.SetVisibleIndex(1)
			if got := log.get("B"); !samePhases(got, PhaseAttached, PhaseActive, PhasePaused, PhaseActive) {
				t.Errorf("Expected B resumed, got %v", got)
			}
			if n := factory.requestsFor("B"); n != 1 {
				t.Errorf("Expected exactly 1 createHandle for B, got %d", n)
			}
		})
	}
}

// TestRegistryMatchesDeliveredPhase checks that every listener sees the
// registry at the phase being delivered: the next transition of an item is
// only accepted after the previous one was delivered.
func TestRegistryMatchesDeliveredPhase(t *testing.T) {
	for _, inline := range []bool{true, false} {
		t.Run(fmt.Sprintf("inline=%v", inline), func(t *testing.T) {
			factory := newFakeFactory(inline)
			c := newTestCoordinator(t, factory, 2)
			defer c.Close()

			var mu sync.Mutex
			var mismatches []string
			ids := []string{"A", "B", "C", "D"}
			for _, id := range ids {
				id := id
				c.Subscribe(id, func(v ItemView) {
					cur, ok := c.Item(id)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case v.Phase == PhaseDetached && ok:
						mismatches = append(mismatches, fmt.Sprintf("%s delivered detached while still registered", id))
					case v.Phase != PhaseDetached && (!ok || cur.Phase != v.Phase):
						mismatches = append(mismatches, fmt.Sprintf("%s delivered %v while registry at %v", id, v.Phase, cur.Phase))
					}
				})
			}

			for i, id := range ids {
				c.Mount(ItemProps{ID: id, Index: i})
			}
			for _, idx := range []int{0, 1, 2, 1, 3} {
				c.SetVisibleIndex(idx)
				factory.completeAll()
			}
			c.SetProcessActive(false)
			c.SetProcessActive(true)
			c.Unmount("B")

			mu.Lock()
			defer mu.Unlock()
			if len(mismatches) != 0 {
				t.Errorf("Registry ahead of delivery: %v", mismatches)
			}
		})
	}
}

func TestStaleCompletionIsDiscarded(t *testing.T) {
	factory := newFakeFactory(false)
	c := newTestCoordinator(t, factory, 0)
	defer c.Close()

	var log phaseLog
	log.watch(t, c, "A")

	c.Mount(ItemProps{ID: "A", Index: 0})
	c.Mount(ItemProps{ID: "B", Index: 1})
	c.Mount(ItemProps{ID: "C", Index: 2})

	c.SetVisibleIndex(0)
	c.SetVisibleIndex(1)
	c.SetVisibleIndex(2)
	factory.completeAll()

	if got := log.get("A"); !samePhases(got, PhaseAttached, PhaseRegistered) {
		t.Errorf("Expected A attach-then-detach, got %v", got)
	}

	st := c.Status()
	if st.ActiveID != "C" {
		t.Errorf("Expected C active, got %q", st.ActiveID)
	}
	if st.StaleCompletions != 2 {
		t.Errorf("Expected 2 stale completions, got %d", st.StaleCompletions)
	}
	if st.AttachedHandles != 1 {
		t.Errorf("Expected only C to hold a handle, got %d", st.AttachedHandles)
	}
}

func TestActivationFailureAndReset(t *testing.T) {
	factory := newFakeFactory(true)
	factory.fail["A"] = true
	c := newTestCoordinator(t, factory, 0)
	defer c.Close()

	c.Mount(ItemProps{ID: "A", Index: 0, IsVisible: true, IsFeedFocused: true})

	view, _ := c.Item("A")
	if view.Phase != PhaseErrored || view.Error == "" {
		t.Fatalf("Expected A errored with diagnostic, got %+v", view)
	}

	c.SetVisibleIndex(0)
	if n := factory.requestsFor("A"); n != 1 {
		t.Errorf("Expected no automatic retry, got %d requests", n)
	}

	factory.mu.Lock()
	factory.fail["A"] = false
	factory.mu.Unlock()

	if err := c.ResetItem("A"); err != nil {
		t.Fatalf("ResetItem failed: %v", err)
	}
	if view, _ := c.Item("A"); view.Phase != PhaseActive {
		t.Errorf("Expected A active after reset, got %v", view.Phase)
	}
	if err := c.ResetItem("ghost"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("Expected ErrUnknownItem, got %v", err)
	}
}

func TestForceActive(t *testing.T) {
	factory := newFakeFactory(true)
	c := newTestCoordinator(t, factory, 0)
	defer c.Close()

	c.Mount(ItemProps{ID: "A", Index: 0})
	c.Mount(ItemProps{ID: "B", Index: 1})
	c.SetVisibleIndex(0)

	if err := c.ForceActive("B"); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("Expected ErrInvariantViolation, got %v", err)
	}
	if view, _ := c.Item("B"); view.Phase != PhaseRegistered {
		t.Errorf("Rejected force must leave B untouched, got %v", view.Phase)
	}
	if err := c.ForceActive("A"); err != nil {
		t.Errorf("Expected forcing the target to succeed, got %v", err)
	}
	if st := c.Status(); st.Violations != 1 || st.ActiveID != "A" {
		t.Errorf("Unexpected status: %+v", st)
	}
}

func TestUnmountPublishesDetachedAndReleases(t *testing.T) {
	factory := newFakeFactory(true)
	c := newTestCoordinator(t, factory, 0)
	defer c.Close()

	var log phaseLog
	log.watch(t, c, "A")

	c.Mount(ItemProps{ID: "A", Index: 0, IsVisible: true, IsFeedFocused: true})
	c.Unmount("A")
	c.Unmount("A")

	if got := log.get("A"); !samePhases(got, PhaseAttached, PhaseActive, PhaseDetached) {
		t.Errorf("Expected final Detached, got %v", got)
	}
	if _, ok := c.Item("A"); ok {
		t.Error("Expected A removed")
	}
	if n := factory.deliveredCount(); n != 1 {
		t.Errorf("Expected 1 handle created, got %d", n)
	}
	if problems := factory.releaseProblems(); len(problems) != 0 {
		t.Errorf("Expected every handle released once: %v", problems)
	}
}

func TestUnmountWhileRequestInFlight(t *testing.T) {
	factory := newFakeFactory(false)
	c := newTestCoordinator(t, factory, 0)
	defer c.Close()

	c.Mount(ItemProps{ID: "A", Index: 0, IsVisible: true, IsFeedFocused: true})
	c.Unmount("A")
	factory.completeAll()

	if n := factory.deliveredCount(); n != 1 {
		t.Errorf("Expected 1 handle created, got %d", n)
	}
	if problems := factory.releaseProblems(); len(problems) != 0 {
		t.Errorf("Expected orphan handle released once: %v", problems)
	}
}

// TestReentrantCallsAreQueued verifies listeners may call back into the
// coordinator without deadlocking.
func TestReentrantCallsAreQueued(t *testing.T) {
	factory := newFakeFactory(true)
	c := newTestCoordinator(t, factory, 0)
	defer c.Close()

	c.Mount(ItemProps{ID: "A", Index: 0})
	c.Mount(ItemProps{ID: "B", Index: 1})

	var once sync.Once
	c.Subscribe("A", func(v ItemView) {
		if v.Phase == PhaseActive {
			once.Do(func() { c.SetVisibleIndex(1) })
		}
	})

	c.SetVisibleIndex(0)

	if st := c.Status(); st.ActiveID != "B" {
		t.Errorf("Expected B active after re-entrant move, got %q", st.ActiveID)
	}
	if view, _ := c.Item("A"); view.Phase != PhasePaused {
		t.Errorf("Expected A paused, got %v", view.Phase)
	}
}

func TestGlobalEventsAndNoReplay(t *testing.T) {
	factory := newFakeFactory(true)
	c := newTestCoordinator(t, factory, 0)
	defer c.Close()

	var events []GlobalEvent
	c.SubscribeGlobal(func(ev GlobalEvent) { events = append(events, ev) })

	c.SetHostFocused(false)
	c.SetProcessActive(false) // reduced value unchanged
	c.SetProcessActive(true)
	c.SetHostFocused(true)

	if len(events) != 2 || events[0].SystemReady || !events[1].SystemReady {
		t.Errorf("Expected not-ready then ready, got %+v", events)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	factory := newFakeFactory(false)
	c := newTestCoordinator(t, factory, 2)

	for i := 0; i < 4; i++ {
		c.Mount(ItemProps{ID: fmt.Sprintf("i%d", i), Index: i})
	}
	c.SetVisibleIndex(1)
	factory.completeOne(0)

	c.Close()
	c.Close()
	factory.completeAll()

	if factory.deliveredCount() == 0 {
		t.Fatal("Expected handles to be created")
	}
	if problems := factory.releaseProblems(); len(problems) != 0 {
		t.Errorf("Expected every handle released once: %v", problems)
	}
	if err := c.Mount(ItemProps{ID: "late", Index: 9}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestCommandsAfterCloseReturnErrClosed(t *testing.T) {
	factory := newFakeFactory(true)
	c := newTestCoordinator(t, factory, 0)

	c.Mount(ItemProps{ID: "A", Index: 0, IsVisible: true, IsFeedFocused: true})
	c.Close()

	if err := c.ForceActive("A"); !errors.Is(err, ErrClosed) {
		t.Errorf("ForceActive: expected ErrClosed, got %v", err)
	}
	if st := c.Status(); st.Violations != 0 {
		t.Errorf("Expected no violation counted after close, got %d", st.Violations)
	}
}

func TestResetItemAfterCloseReturnsErrClosed(t *testing.T) {
	factory := newFakeFactory(false)
	c := newTestCoordinator(t, factory, 0)
	c.Mount(ItemProps{ID: "A", Index: 0})

	// A parked drainer keeps A registered while Close is pending.
	blocked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.enqueue(func() {
			close(blocked)
			<-release
		}, false)
	}()
	<-blocked

	c.Close()
	if err := c.ResetItem("A"); !errors.Is(err, ErrClosed) {
		t.Errorf("ResetItem: expected ErrClosed, got %v", err)
	}
	close(release)
	<-done

	if _, ok := c.Item("A"); ok {
		t.Error("Expected A unmounted once the close event ran")
	}
}

func TestRemountMovesItem(t *testing.T) {
	factory := newFakeFactory(true)
	c := newTestCoordinator(t, factory, 0)
	defer c.Close()

	c.Mount(ItemProps{ID: "A", Index: 0})
	c.Mount(ItemProps{ID: "B", Index: 1})
	c.SetVisibleIndex(1)

	c.Mount(ItemProps{ID: "A", Index: 1})
	c.Mount(ItemProps{ID: "B", Index: 0})
	if st := c.Status(); st.ActiveID != "A" {
		t.Errorf("Expected A active after moving to the visible index, got %q", st.ActiveID)
	}
	if view, _ := c.Item("B"); view.Index != 0 || view.Phase != PhasePaused {
		t.Errorf("Expected B moved to 0 and paused, got %+v", view)
	}
}

func TestHandleRequestsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	factory := newFakeFactory(true)
	factory.fail["B"] = true
	c, err := New(Config{
		Factory: factory,
		Tracer:  provider.Tracer("test"),
		Monitor: focusmonitor.Config{Initial: focusmonitor.Activity{ProcessActive: true, HostFocused: true}},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	c.Mount(ItemProps{ID: "A", Index: 0, IsVisible: true, IsFeedFocused: true})
	c.Mount(ItemProps{ID: "B", Index: 1})
	c.SetVisibleIndex(1)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 ended spans, got %d", len(spans))
	}
	for _, s := range spans {
		if s.Name() != "coordinator.create_handle" {
			t.Errorf("Unexpected span name %q", s.Name())
		}
	}
	if spans[1].Status().Code.String() != "Error" {
		t.Errorf("Expected failed request span marked as error, got %v", spans[1].Status().Code)
	}
}

func TestRecordSampleFeedsPlanner(t *testing.T) {
	factory := newFakeFactory(true)
	c := newTestCoordinator(t, factory, 3)
	defer c.Close()

	for i := 0; i < 10; i++ {
		c.Mount(ItemProps{ID: fmt.Sprintf("i%d", i), Index: i, Category: "cat"})
	}
	c.SetVisibleIndex(5)

	for i := 0; i < 30; i++ {
		v := 6.0
		if i%2 == 0 {
			v = -2
		}
		c.RecordSample(patternmemory.Sample{Velocity: v, DwellSeconds: 3, Category: "cat"})
	}

	st := c.Status()
	if len(st.Retained) != 3 {
		t.Errorf("Expected wide window clipped to cap 3, got %v", st.Retained)
	}
	if st.Pattern.CategoryBias["cat"] <= 0 {
		t.Errorf("Expected affinity learned, got %+v", st.Pattern.CategoryBias)
	}

	c.ResetSession()
	if snap := c.PatternSnapshot(); snap.Samples != 0 {
		t.Errorf("Expected session reset to clear samples, got %d", snap.Samples)
	}
}

// TestExclusivityProperty drives random event interleavings and checks that no
// two items are ever Active together, as seen by listeners, and that every
// handle is released exactly once after Close.
func TestExclusivityProperty(t *testing.T) {
	property := func(seed int64, ops []uint8) bool {
		rng := rand.New(rand.NewSource(seed))
		factory := newFakeFactory(rng.Intn(2) == 0)
		c, err := New(Config{
			Factory:  factory,
			Monitor:  focusmonitor.Config{Initial: focusmonitor.Activity{ProcessActive: true, HostFocused: true}},
			Prefetch: prefetch.Config{Cap: rng.Intn(4)},
		})
		if err != nil {
			return false
		}

		const items = 6
		var mu sync.Mutex
		phase := make(map[string]Phase)
		violated := false
		for i := 0; i < items; i++ {
			id := fmt.Sprintf("i%d", i)
			c.Subscribe(id, func(v ItemView) {
				mu.Lock()
				defer mu.Unlock()
				phase[v.ID] = v.Phase
				active := 0
				for _, p := range phase {
					if p == PhaseActive {
						active++
					}
				}
				if active > 1 {
					violated = true
				}
			})
		}

		for _, op := range ops {
			id := fmt.Sprintf("i%d", rng.Intn(items))
			switch op % 9 {
			case 0, 1:
				c.Mount(ItemProps{ID: id, Index: rng.Intn(items), IsVisible: rng.Intn(3) == 0, IsFeedFocused: true})
			case 2:
				c.Unmount(id)
			case 3, 4:
				c.SetVisibleIndex(rng.Intn(items))
			case 5:
				c.SetProcessActive(rng.Intn(2) == 0)
			case 6:
				c.SetHostFocused(rng.Intn(2) == 0)
			case 7:
				factory.completeOne(rng.Intn(8))
			case 8:
				if rng.Intn(4) == 0 {
					factory.mu.Lock()
					factory.fail[id] = !factory.fail[id]
					factory.mu.Unlock()
				}
				c.ResetItem(id)
			}

			active := 0
			for _, v := range c.Items() {
				if v.Phase == PhaseActive {
					active++
				}
			}
			if active > 1 {
				return false
			}
		}

		c.Close()
		factory.completeAll()

		problems := factory.releaseProblems()
		mu.Lock()
		defer mu.Unlock()
		return !violated && len(problems) == 0
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}

func TestStatusReportsListenerFaultRate(t *testing.T) {
	factory := newFakeFactory(true)
	c := newTestCoordinator(t, factory, 0)
	defer c.Close()

	c.Subscribe("A", func(ItemView) { panic("listener bug") })
	c.Subscribe("A", func(ItemView) {})
	c.Mount(ItemProps{ID: "A", Index: 0, IsVisible: true, IsFeedFocused: true})

	st := c.Status()
	if st.Bus.Faults == 0 {
		t.Fatal("Expected listener faults counted")
	}
	if st.BusFaultRate != statebus.FaultRate(st.Bus) || st.BusFaultRate <= 0 || st.BusFaultRate >= 1 {
		t.Errorf("Unexpected fault rate %v for %+v", st.BusFaultRate, st.Bus)
	}
}
