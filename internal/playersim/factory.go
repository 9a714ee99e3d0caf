// Package playersim is an in-memory coordinator.HandleFactory with latency and
// failure injection. It backs the simulate command and service tests.
package playersim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/reelcore/modules/coordinator"
	"github.com/e7canasta/reelcore/modules/prefetch"
)

// ErrInjected is the failure returned for requests picked by FailRate.
var ErrInjected = errors.New("playersim: injected failure")

// Config configures a Factory.
type Config struct {
	// Latency is how long creation takes. Zero completes inline.
	Latency time.Duration

	// FailRate is the probability in [0, 1] that a request fails.
	FailRate float64

	// Seed makes failure injection reproducible.
	Seed uint64

	Logger *slog.Logger
}

// Handle is a simulated player.
type Handle struct {
	ID        string
	ItemID    string
	Locator   string
	Purpose   coordinator.Purpose
	Depth     prefetch.Depth
	CreatedAt time.Time
}

func (h *Handle) HandleID() string { return h.ID }

// Stats counts factory activity.
type Stats struct {
	Requested      uint64 `json:"requested"`
	Created        uint64 `json:"created"`
	Failed         uint64 `json:"failed"`
	Canceled       uint64 `json:"canceled"`
	Released       uint64 `json:"released"`
	DoubleReleases uint64 `json:"double_releases"`
	Live           int    `json:"live"`
}

// Factory implements coordinator.HandleFactory.
type Factory struct {
	latency  time.Duration
	failRate float64
	logger   *slog.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	live  map[string]*Handle
	stats Stats
	wg    sync.WaitGroup
}

// New creates a Factory.
func New(cfg Config) *Factory {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FailRate < 0 {
		cfg.FailRate = 0
	}
	if cfg.FailRate > 1 {
		cfg.FailRate = 1
	}
	return &Factory{
		latency:  cfg.Latency,
		failRate: cfg.FailRate,
		logger:   cfg.Logger.With("component", "playersim"),
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		live:     make(map[string]*Handle),
	}
}

// CreateHandle completes after Latency, or inline when Latency is zero. A
// canceled ctx completes with its error.
func (f *Factory) CreateHandle(ctx context.Context, req coordinator.HandleRequest, done func(coordinator.Handle, error)) {
	f.mu.Lock()
	f.stats.Requested++
	fail := f.failRate > 0 && f.rng.Float64() < f.failRate
	f.mu.Unlock()

	if f.latency <= 0 {
		f.complete(req, fail, done)
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		timer := time.NewTimer(f.latency)
		defer timer.Stop()

		select {
		case <-timer.C:
			f.complete(req, fail, done)
		case <-ctx.Done():
			f.mu.Lock()
			f.stats.Canceled++
			f.mu.Unlock()
			done(nil, ctx.Err())
		}
	}()
}

func (f *Factory) complete(req coordinator.HandleRequest, fail bool, done func(coordinator.Handle, error)) {
	if fail {
		f.mu.Lock()
		f.stats.Failed++
		f.mu.Unlock()
		f.logger.Debug("handle creation failed", "item_id", req.ItemID, "req_id", req.RequestID)
		done(nil, fmt.Errorf("%w: %s", ErrInjected, req.ItemID))
		return
	}

	h := &Handle{
		ID:        uuid.NewString(),
		ItemID:    req.ItemID,
		Locator:   req.Locator,
		Purpose:   req.Purpose,
		Depth:     req.Depth,
		CreatedAt: time.Now(),
	}

	f.mu.Lock()
	f.stats.Created++
	f.live[h.ID] = h
	f.mu.Unlock()

	f.logger.Debug("handle created",
		"item_id", req.ItemID,
		"handle_id", h.ID,
		"purpose", req.Purpose.String(),
		"depth", req.Depth.String(),
	)
	done(h, nil)
}

// ReleaseHandle frees a handle. Releasing an unknown or already released
// handle is counted and logged.
func (f *Factory) ReleaseHandle(h coordinator.Handle) {
	if h == nil {
		return
	}

	f.mu.Lock()
	_, ok := f.live[h.HandleID()]
	if ok {
		delete(f.live, h.HandleID())
		f.stats.Released++
	} else {
		f.stats.DoubleReleases++
	}
	f.mu.Unlock()

	if !ok {
		f.logger.Warn("release of unknown handle", "handle_id", h.HandleID())
	}
}

// Live returns the ids of items holding an unreleased handle, one entry per
// handle.
func (f *Factory) Live() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.live))
	for _, h := range f.live {
		out = append(out, h.ItemID)
	}
	return out
}

// Stats returns a snapshot of the counters.
func (f *Factory) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.stats
	st.Live = len(f.live)
	return st
}

// Wait blocks until every delayed completion has been delivered.
func (f *Factory) Wait() {
	f.wg.Wait()
}

var _ coordinator.HandleFactory = (*Factory)(nil)
