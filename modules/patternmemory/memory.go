package patternmemory

import (
	"math"
	"sync"
	"time"
)

const (
	// VelocityCapacity is the number of scroll velocity samples retained.
	VelocityCapacity = 40

	// VolatilityWindow is how many of the newest velocity samples feed Volatility.
	VolatilityWindow = 20

	// DwellCapacity is the number of dwell samples retained per category.
	DwellCapacity = 20

	// AffinityIncrement is added to a category's affinity on every long dwell.
	AffinityIncrement = 0.05

	// AffinityCap is the maximum affinity of any category.
	AffinityCap = 1.0

	// DwellThreshold is the dwell (seconds) above which a sample counts as engagement.
	DwellThreshold = 2.5

	// AffinityFloor is the affinity below which a category is forgotten.
	AffinityFloor = 0.01

	// DefaultDecayInterval is the minimum time between two decay steps.
	DefaultDecayInterval = 60 * time.Second

	// DefaultDecayRate is the fraction of affinity removed by one decay step.
	DefaultDecayRate = 0.05

	decayFraction = 0.01
)

// Config tunes a Memory. Zero values use the defaults above.
type Config struct {
	DecayInterval time.Duration
	DecayRate     float64

	// Now is the clock used for decay gating (time.Now if nil).
	Now func() time.Time
}

// Sample is one observation from the feed: how fast the user scrolled and how long
// they stayed on an item of the given category. A zero DwellSeconds or an empty
// Category records the velocity only.
type Sample struct {
	Velocity     float64
	DwellSeconds float64
	Category     string
}

// Snapshot is the derived, read-only view consumed by the prefetch planner.
type Snapshot struct {
	// AvgVelocity is the mean of the retained velocity samples (signed: negative
	// means the user is scrolling backwards).
	AvgVelocity float64

	// Volatility is the population stddev of the newest VolatilityWindow samples.
	Volatility float64

	// CategoryBias maps category to affinity in [0, 1].
	CategoryBias map[string]float64

	// DwellByCategory maps category to mean retained dwell (seconds).
	DwellByCategory map[string]float64

	// Samples is the number of velocity samples behind AvgVelocity.
	Samples int
}

// State is the full persisted form of a Memory (see Memory.State / Memory.Restore).
type State struct {
	Velocities []float64            `msgpack:"velocities" json:"velocities"`
	Dwell      map[string][]float64 `msgpack:"dwell" json:"dwell"`
	Affinity   map[string]float64   `msgpack:"affinity" json:"affinity"`
	LastDecay  time.Time            `msgpack:"last_decay" json:"last_decay"`
}

// Memory is the bounded usage-pattern estimator.
type Memory struct {
	mu sync.Mutex

	decayInterval time.Duration
	decayRate     float64
	now           func() time.Time

	velocities *ring
	dwell      map[string]*ring
	affinity   map[string]float64
	lastDecay  time.Time
	decays     uint64
}

// New creates an empty Memory. The decay clock starts at construction time.
func New(cfg Config) *Memory {
	if cfg.DecayInterval <= 0 {
		cfg.DecayInterval = DefaultDecayInterval
	}
	if cfg.DecayRate <= 0 || cfg.DecayRate >= 1 {
		cfg.DecayRate = DefaultDecayRate
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Memory{
		decayInterval: cfg.DecayInterval,
		decayRate:     cfg.DecayRate,
		now:           cfg.Now,
	}
	m.resetLocked()
	return m
}

// RecordSample adds one observation. Non-finite values are ignored.
func (m *Memory) RecordSample(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.decayIfDueLocked()

	if isFinite(s.Velocity) {
		m.velocities.push(s.Velocity)
	}

	if s.Category == "" || !isFinite(s.DwellSeconds) || s.DwellSeconds <= 0 {
		return
	}

	r, ok := m.dwell[s.Category]
	if !ok {
		r = newRing(DwellCapacity)
		m.dwell[s.Category] = r
	}
	r.push(s.DwellSeconds)

	// Short dwells leave affinity untouched.
	if s.DwellSeconds > DwellThreshold {
		m.affinity[s.Category] = math.Min(AffinityCap, m.affinity[s.Category]+AffinityIncrement)
	}
}

// DecayIfDue applies one decay step if at least one interval elapsed since the last
// step. Reports whether a step was applied.
func (m *Memory) DecayIfDue() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decayIfDueLocked()
}

func (m *Memory) decayIfDueLocked() bool {
	now := m.now()
	if now.Sub(m.lastDecay) < m.decayInterval {
		return false
	}

	// Several elapsed intervals still count as one step.
	m.lastDecay = now
	m.decays++

	m.velocities.dropOldest(decayCount(m.velocities.len()))
	for category, r := range m.dwell {
		r.dropOldest(decayCount(r.len()))
		if r.len() == 0 {
			delete(m.dwell, category)
		}
	}

	for category, v := range m.affinity {
		v *= 1 - m.decayRate
		if v < AffinityFloor {
			delete(m.affinity, category)
			continue
		}
		m.affinity[category] = v
	}

	return true
}

// Snapshot returns the current estimate, decaying first if due.
func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.decayIfDueLocked()

	avg, _ := meanStdDev(m.velocities.values())
	_, volatility := meanStdDev(m.velocities.recent(VolatilityWindow))

	snap := Snapshot{
		AvgVelocity:     avg,
		Volatility:      volatility,
		CategoryBias:    make(map[string]float64, len(m.affinity)),
		DwellByCategory: make(map[string]float64, len(m.dwell)),
		Samples:         m.velocities.len(),
	}
	for category, v := range m.affinity {
		snap.CategoryBias[category] = v
	}
	for category, r := range m.dwell {
		mean, _ := meanStdDev(r.values())
		snap.DwellByCategory[category] = mean
	}

	return snap
}

// Decays returns how many decay steps have been applied since New or Reset.
func (m *Memory) Decays() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decays
}

// Reset forgets everything. Only explicit operator actions (session reset) call it.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Memory) resetLocked() {
	m.velocities = newRing(VelocityCapacity)
	m.dwell = make(map[string]*ring)
	m.affinity = make(map[string]float64)
	m.lastDecay = m.now()
	m.decays = 0
}

// State exports the memory for persistence.
func (m *Memory) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		Velocities: m.velocities.values(),
		Dwell:      make(map[string][]float64, len(m.dwell)),
		Affinity:   make(map[string]float64, len(m.affinity)),
		LastDecay:  m.lastDecay,
	}
	for category, r := range m.dwell {
		st.Dwell[category] = r.values()
	}
	for category, v := range m.affinity {
		st.Affinity[category] = v
	}
	return st
}

// Restore replaces the memory contents with st. Oversized rings keep their newest
// samples and affinities are clamped to [0, AffinityCap]; entries under the floor
// are dropped.
func (m *Memory) Restore(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetLocked()

	for _, v := range st.Velocities {
		if isFinite(v) {
			m.velocities.push(v)
		}
	}

	for category, samples := range st.Dwell {
		if category == "" {
			continue
		}
		r := newRing(DwellCapacity)
		for _, v := range samples {
			if isFinite(v) && v > 0 {
				r.push(v)
			}
		}
		if r.len() > 0 {
			m.dwell[category] = r
		}
	}

	for category, v := range st.Affinity {
		v = math.Min(AffinityCap, v)
		if category == "" || !isFinite(v) || v < AffinityFloor {
			continue
		}
		m.affinity[category] = v
	}

	if !st.LastDecay.IsZero() && !st.LastDecay.After(m.now()) {
		m.lastDecay = st.LastDecay
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
