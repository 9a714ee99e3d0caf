// Package prefetch chooses which neighbours of the visible feed item to
// pre-warm, based on the user's recent scroll behaviour.
//
// The planner only recommends. It never touches playback state; the
// coordinator turns hints into handle requests and swallows their failures.
//
// Window policy:
//
//	intensity = |AvgVelocity| * Volatility
//
//	intensity <  FullThreshold  → MinWidth items, DepthFull   (slow, high dwell)
//	intensity >= FullThreshold  → wider window,   DepthLight  (fast, erratic)
//
// The wide window grows by MinWidth for every FullThreshold of intensity and is
// always clipped to Cap. Category affinity reorders items inside the window but
// never adds items to it.
package prefetch

import (
	"math"
	"sort"
	"sync"

	"github.com/e7canasta/reelcore/modules/patternmemory"
)

// Defaults; MinWidth and FullThreshold also replace zero Config fields.
const (
	DefaultCap           = 4
	DefaultMinWidth      = 1
	DefaultFullThreshold = 0.5
)

// Depth is how much work a pre-warm should do.
type Depth int

const (
	// DepthLight asks the factory for a cheap handle (metadata, first segment).
	DepthLight Depth = iota
	// DepthFull asks for a fully prepared handle.
	DepthFull
)

func (d Depth) String() string {
	if d == DepthFull {
		return "full"
	}
	return "light"
}

// Entry is one feed item as the planner sees it.
type Entry struct {
	ID       string
	Index    int
	Category string
}

// Hint is one pre-warm recommendation.
type Hint struct {
	ID    string
	Index int
	Depth Depth
}

// Config bounds the planner.
type Config struct {
	// Cap is the maximum number of hints per plan. Cap <= 0 disables
	// prefetching.
	Cap int

	// MinWidth is the narrow window size and the growth step of the wide one.
	MinWidth int

	// FullThreshold is the intensity under which neighbours are fully pre-warmed.
	FullThreshold float64
}

func (c Config) withDefaults() Config {
	if c.MinWidth <= 0 {
		c.MinWidth = DefaultMinWidth
	}
	if c.FullThreshold <= 0 || math.IsNaN(c.FullThreshold) {
		c.FullThreshold = DefaultFullThreshold
	}
	return c
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{
		Cap:           DefaultCap,
		MinWidth:      DefaultMinWidth,
		FullThreshold: DefaultFullThreshold,
	}
}

// Planner produces bounded pre-warm plans. Safe for concurrent use.
type Planner struct {
	mu  sync.RWMutex
	cfg Config
}

// New creates a Planner.
func New(cfg Config) *Planner {
	return &Planner{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (p *Planner) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// SetConfig replaces the configuration (hot reload).
func (p *Planner) SetConfig(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg.withDefaults()
}

// Window returns the window width and depth for a snapshot, before clipping to
// the number of available neighbours.
func (p *Planner) Window(snap patternmemory.Snapshot) (int, Depth) {
	cfg := p.Config()
	return window(cfg, snap)
}

func window(cfg Config, snap patternmemory.Snapshot) (int, Depth) {
	if cfg.Cap <= 0 {
		return 0, DepthLight
	}

	intensity := math.Abs(snap.AvgVelocity) * snap.Volatility
	if math.IsNaN(intensity) || math.IsInf(intensity, 0) {
		intensity = 0
	}

	if intensity < cfg.FullThreshold {
		return min(cfg.MinWidth, cfg.Cap), DepthFull
	}

	steps := 1 + math.Floor(intensity/cfg.FullThreshold)
	width := float64(cfg.MinWidth) * steps
	if width > float64(cfg.Cap) {
		return cfg.Cap, DepthLight
	}
	return int(width), DepthLight
}

type candidate struct {
	entry    Entry
	distance int
	behind   bool
	order    int
	affinity float64
}

// Plan returns at most Cap hints for the neighbours of currentIndex. The item
// at currentIndex and items with an empty or duplicate id are skipped.
func (p *Planner) Plan(currentIndex int, feed []Entry, snap patternmemory.Snapshot) []Hint {
	cfg := p.Config()

	width, depth := window(cfg, snap)
	if width <= 0 || len(feed) == 0 {
		return nil
	}

	backwardFirst := snap.AvgVelocity < 0

	seen := make(map[string]struct{}, len(feed))
	candidates := make([]candidate, 0, len(feed))
	for i, e := range feed {
		if e.ID == "" || e.Index == currentIndex {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}

		d := e.Index - currentIndex
		candidates = append(candidates, candidate{
			entry:    e,
			distance: abs(d),
			behind:   d < 0,
			order:    i,
			affinity: snap.CategoryBias[e.Category],
		})
	}

	// Nearest first; on equal distance the scroll direction wins.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		if a.behind != b.behind {
			return a.behind == backwardFirst
		}
		return a.order < b.order
	})

	if len(candidates) > width {
		candidates = candidates[:width]
	}

	// Affinity reorders inside the window only.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].affinity > candidates[j].affinity
	})

	hints := make([]Hint, 0, len(candidates))
	for _, c := range candidates {
		hints = append(hints, Hint{ID: c.entry.ID, Index: c.entry.Index, Depth: depth})
	}
	return hints
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
