package main

import (
	"sync"
	"time"

	"github.com/e7canasta/reelcore/modules/coordinator"
	"github.com/e7canasta/reelcore/modules/prefetch"
)

// PlaybackWatcher observes the coordinator and tracks how many items play at
// once, plus handle traffic.
type PlaybackWatcher struct {
	mu     sync.Mutex
	active map[string]bool
	stats  WatchStats
	total  time.Duration
}

// WatchStats holds what the watcher saw.
type WatchStats struct {
	Transitions  map[string]uint64
	Requested    map[string]uint64
	Completed    uint64
	Failed       uint64
	Released     map[string]uint64
	Violations   uint64
	GlobalEvents uint64
	MaxActive    int
	AvgCreate    time.Duration
}

// NewPlaybackWatcher creates an empty watcher.
func NewPlaybackWatcher() *PlaybackWatcher {
	return &PlaybackWatcher{
		active: make(map[string]bool),
		stats: WatchStats{
			Transitions: make(map[string]uint64),
			Requested:   make(map[string]uint64),
			Released:    make(map[string]uint64),
		},
	}
}

func (w *PlaybackWatcher) ItemTransition(tr coordinator.Transition) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stats.Transitions[tr.To.String()]++
	if tr.To == coordinator.PhaseActive {
		w.active[tr.ID] = true
	} else {
		delete(w.active, tr.ID)
	}
	w.stats.MaxActive = max(w.stats.MaxActive, len(w.active))
}

func (w *PlaybackWatcher) GlobalChanged(coordinator.GlobalEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.GlobalEvents++
}

func (w *PlaybackWatcher) HandleRequested(purpose coordinator.Purpose, depth prefetch.Depth) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Requested[purpose.String()+"/"+depth.String()]++
}

func (w *PlaybackWatcher) HandleCompleted(_ coordinator.Purpose, elapsed time.Duration, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.stats.Failed++
		return
	}
	w.stats.Completed++
	w.total += elapsed
}

func (w *PlaybackWatcher) HandleReleased(reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Released[reason]++
}

func (w *PlaybackWatcher) InvariantViolation(string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Violations++
}

func (w *PlaybackWatcher) Planned(int) {}

// Stats returns a deep copy of what was observed so far.
func (w *PlaybackWatcher) Stats() WatchStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := w.stats
	st.Transitions = copyCounts(w.stats.Transitions)
	st.Requested = copyCounts(w.stats.Requested)
	st.Released = copyCounts(w.stats.Released)
	if st.Completed > 0 {
		st.AvgCreate = w.total / time.Duration(st.Completed)
	}
	return st
}

func copyCounts(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ coordinator.Observer = (*PlaybackWatcher)(nil)
