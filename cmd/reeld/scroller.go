package main

import (
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/e7canasta/reelcore/modules/coordinator"
	"github.com/e7canasta/reelcore/modules/patternmemory"
)

// MockScroller simulates a user scrolling a vertical feed.
//
// Each Step is one gesture: mostly a single swipe forward, sometimes a fling
// over several items, a swipe back, a linger on the same item, or a short
// trip away from the app that drops host focus for one step.
type MockScroller struct {
	items  int
	rng    *rand.Rand
	logger *slog.Logger

	mu        sync.Mutex
	index     int
	unfocused bool
	stats     ScrollerStats
}

// ScrollerStats counts gestures.
type ScrollerStats struct {
	Steps       uint64
	Flings      uint64
	Backs       uint64
	Lingers     uint64
	FocusLosses uint64
	Index       int
}

// NewMockScroller creates a scroller positioned on the first of items.
func NewMockScroller(items int, seed uint64, logger *slog.Logger) *MockScroller {
	return &MockScroller{
		items:  items,
		rng:    rand.New(rand.NewPCG(seed, seed+1)),
		logger: logger.With("component", "scroller"),
	}
}

// Step performs one gesture against coord.
func (s *MockScroller) Step(coord *coordinator.Coordinator) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Steps++

	// Coming back to the app
	if s.unfocused {
		s.unfocused = false
		coord.SetHostFocused(true)
		return
	}

	delta := 1
	switch r := s.rng.Float64(); {
	case r < 0.05:
		s.unfocused = true
		s.stats.FocusLosses++
		coord.SetHostFocused(false)
		return
	case r < 0.20:
		delta = 2 + s.rng.IntN(3)
		s.stats.Flings++
	case r < 0.32:
		delta = -1
		s.stats.Backs++
	case r < 0.40:
		delta = 0
		s.stats.Lingers++
	}

	from := s.index
	to := min(max(from+delta, 0), s.items-1)

	// Dwell on the item being left, in seconds
	dwell := 0.3 + s.rng.ExpFloat64()*1.5
	coord.RecordSample(patternmemory.Sample{
		Velocity:     float64(to - from),
		DwellSeconds: dwell,
		Category:     categories[from%len(categories)],
	})

	s.index = to
	s.stats.Index = to
	coord.SetVisibleIndex(to)

	s.logger.Debug("scrolled", "from", from, "to", to, "dwell_s", dwell)
}

// Stats returns a snapshot of the gesture counters.
func (s *MockScroller) Stats() ScrollerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
