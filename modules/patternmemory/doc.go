// Package patternmemory keeps a bounded, time-decayed model of how the user scrolls.
//
// # Overview
//
// Memory records scroll samples (velocity, dwell time, category) into fixed-capacity
// rings and derives a Snapshot used by the prefetch planner:
//
//	mem := patternmemory.New(patternmemory.Config{})
//	mem.RecordSample(patternmemory.Sample{Velocity: 1.4, DwellSeconds: 3.1, Category: "cooking"})
//
//	snap := mem.Snapshot()
//	fmt.Printf("avg=%.2f volatility=%.2f bias=%v\n",
//	    snap.AvgVelocity, snap.Volatility, snap.CategoryBias)
//
// # Bounded State
//
//   - Velocity ring: 40 samples; volatility is the stddev of the newest 20
//   - Dwell rings: 20 samples per category
//   - Category affinity: +0.05 per dwell above 2.5s, capped at 1.0
//
// # Decay
//
// Decay is time-gated, not sample-gated. At most once per interval (60s by default),
// on the next RecordSample or Snapshot call, the oldest ~1% of every ring is dropped and
// every affinity is multiplied by (1 - DecayRate). Affinities below 0.01 are removed.
// No background goroutine is involved.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package patternmemory
