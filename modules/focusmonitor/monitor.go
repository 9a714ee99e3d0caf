// Package focusmonitor reduces the host's process-foreground and screen-focus
// signals into one debounced system-ready flag.
//
// Raw inputs change as often as the host reports them. The monitor only emits a
// statebus.GlobalEvent when the reduced value (ProcessActive && HostFocused)
// differs from the last emitted one, after the inputs stayed quiet for Window.
// Rapid toggles inside the window collapse to the settled value, so the arbiter
// never thrashes play/pause during OS transition animations.
package focusmonitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/reelcore/modules/statebus"
)

// DefaultWindow is the debounce window used by DefaultConfig.
const DefaultWindow = 150 * time.Millisecond

// Activity is the pair of raw host signals.
type Activity struct {
	ProcessActive bool `json:"process_active" yaml:"process_active"`
	HostFocused   bool `json:"host_focused" yaml:"host_focused"`
}

// SystemReady is the reduced flag.
func (a Activity) SystemReady() bool {
	return a.ProcessActive && a.HostFocused
}

// Timer is the subset of *time.Timer the monitor uses.
type Timer interface {
	Stop() bool
}

// Config configures a Monitor.
type Config struct {
	// Window is the debounce window. Zero emits synchronously from the setter.
	Window time.Duration

	// Initial is the activity at start-up; it is the first settled value and is
	// never emitted.
	Initial Activity

	// OnChange receives every change of the settled system-ready value. It is
	// called without internal locks held, from the setter (Window == 0) or from
	// the debounce timer goroutine.
	OnChange func(statebus.GlobalEvent)

	Logger *slog.Logger

	// AfterFunc and Now default to time.AfterFunc and time.Now.
	AfterFunc func(time.Duration, func()) Timer
	Now       func() time.Time
}

// DefaultConfig starts with both signals up and the default window.
func DefaultConfig() Config {
	return Config{
		Window:  DefaultWindow,
		Initial: Activity{ProcessActive: true, HostFocused: true},
	}
}

// Monitor is the App/Focus monitor.
type Monitor struct {
	emitMu sync.Mutex // serializes settle+emit

	mu      sync.Mutex
	window  time.Duration
	raw     Activity
	settled Activity
	timer   Timer
	gen     uint64
	closed  bool
	emitted uint64

	onChange  func(statebus.GlobalEvent)
	logger    *slog.Logger
	afterFunc func(time.Duration, func()) Timer
	now       func() time.Time
}

// New creates a Monitor.
func New(cfg Config) *Monitor {
	if cfg.Window < 0 {
		cfg.Window = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Monitor{
		window:    cfg.Window,
		raw:       cfg.Initial,
		settled:   cfg.Initial,
		onChange:  cfg.OnChange,
		logger:    cfg.Logger,
		afterFunc: cfg.AfterFunc,
		now:       cfg.Now,
	}
}

// SetProcessActive records the foreground/background signal.
func (m *Monitor) SetProcessActive(active bool) {
	m.update(func(a *Activity) { a.ProcessActive = active })
}

// SetHostFocused records the screen/tab focus signal.
func (m *Monitor) SetHostFocused(focused bool) {
	m.update(func(a *Activity) { a.HostFocused = focused })
}

func (m *Monitor) update(apply func(*Activity)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	before := m.raw
	apply(&m.raw)
	if m.raw == before {
		m.mu.Unlock()
		return
	}

	if m.window == 0 {
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		m.gen++
		m.mu.Unlock()
		m.settle(0, false)
		return
	}

	// Restart the window on every raw change.
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.timer = m.afterFunc(m.window, func() { m.settle(gen, true) })
	m.mu.Unlock()
}

// settle promotes the raw activity to settled and emits if the reduced value
// changed. Timer callbacks from a superseded window are ignored.
func (m *Monitor) settle(gen uint64, fromTimer bool) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if m.closed || (fromTimer && gen != m.gen) {
		m.mu.Unlock()
		return
	}
	if fromTimer {
		m.timer = nil
	}

	previous := m.settled
	m.settled = m.raw
	if previous.SystemReady() == m.settled.SystemReady() {
		m.mu.Unlock()
		return
	}

	m.emitted++
	ev := statebus.GlobalEvent{
		ProcessActive: m.settled.ProcessActive,
		HostFocused:   m.settled.HostFocused,
		SystemReady:   m.settled.SystemReady(),
		At:            m.now(),
		TraceID:       uuid.NewString(),
	}
	onChange := m.onChange
	m.mu.Unlock()

	m.logger.Info("system ready changed",
		"system_ready", ev.SystemReady,
		"process_active", ev.ProcessActive,
		"host_focused", ev.HostFocused,
		"trace_id", ev.TraceID,
	)

	if onChange != nil {
		onChange(ev)
	}
}

// SystemReady returns the settled reduced flag.
func (m *Monitor) SystemReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled.SystemReady()
}

// Activity returns the settled signals.
func (m *Monitor) Activity() Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled
}

// Raw returns the latest, not yet debounced, signals.
func (m *Monitor) Raw() Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw
}

// Emitted returns how many events were emitted.
func (m *Monitor) Emitted() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emitted
}

// SetWindow changes the debounce window for subsequent raw changes.
func (m *Monitor) SetWindow(window time.Duration) {
	if window < 0 {
		window = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = window
}

// Close stops a pending debounce timer. Later changes are ignored. Idempotent.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
