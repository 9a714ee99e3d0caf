package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/e7canasta/reelcore/internal/playersim"
	"github.com/e7canasta/reelcore/modules/coordinator"
)

func printBanner(out io.Writer, opts simOptions) {
	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║    reeld simulate - Feed Playback Coordination Demo          ║")
	fmt.Fprintf(out, "║                    Version %-30s ║\n", version)
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Items:           %d\n", opts.Items)
	fmt.Fprintf(out, "  Duration:        %v\n", opts.Duration)
	fmt.Fprintf(out, "  Create Latency:  %v\n", opts.Latency)
	fmt.Fprintf(out, "  Fail Rate:       %.1f%%\n", opts.FailRate*100)
	fmt.Fprintf(out, "  Gesture Every:   %v\n", opts.Step)
	fmt.Fprintf(out, "  Prefetch Cap:    %d\n", opts.PrefetchCap)
	fmt.Fprintf(out, "  Seed:            %d\n", opts.Seed)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Pipeline:")
	fmt.Fprintln(out, "  scroller → coordinator → playersim")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Press Ctrl+C to stop gracefully")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(out)
}

// printLiveStats prints current statistics from all components
func printLiveStats(
	out io.Writer,
	uptime time.Duration,
	status coordinator.Status,
	watch WatchStats,
	factory playersim.Stats,
	scroller ScrollerStats,
) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "╭─────────────────────────────────────────────────────────────────╮")
	fmt.Fprintf(out, "│ Coordinator Statistics (Uptime: %v)\n", uptime.Round(time.Second))
	fmt.Fprintln(out, "├─────────────────────────────────────────────────────────────────┤")

	// Scroller
	fmt.Fprintln(out, "│ Scroller:")
	fmt.Fprintf(out, "│   Gestures:           %6d (flings=%d backs=%d lingers=%d)\n",
		scroller.Steps, scroller.Flings, scroller.Backs, scroller.Lingers)
	fmt.Fprintf(out, "│   Focus Losses:       %6d\n", scroller.FocusLosses)
	fmt.Fprintf(out, "│   Visible Index:      %6d\n", scroller.Index)

	// Coordinator
	fmt.Fprintln(out, "│")
	fmt.Fprintln(out, "│ Coordinator:")
	fmt.Fprintf(out, "│   Active Item:        %6s\n", orNone(status.ActiveID))
	fmt.Fprintf(out, "│   System Ready:       %6v\n", status.SystemReady)
	fmt.Fprintf(out, "│   Attached Handles:   %6d\n", status.AttachedHandles)
	fmt.Fprintf(out, "│   In Flight:          %6d\n", status.InFlight)
	fmt.Fprintf(out, "│   Retained:           %6d\n", len(status.Retained))
	fmt.Fprintf(out, "│   Stale Completions:  %6d\n", status.StaleCompletions)
	fmt.Fprintf(out, "│   Max Concurrent:     %6d active\n", watch.MaxActive)
	fmt.Fprintf(out, "│   Listener Faults:    %6d (%.1f%%)\n", status.Bus.Faults, status.BusFaultRate*100)

	// Pattern
	fmt.Fprintln(out, "│")
	fmt.Fprintln(out, "│ Pattern:")
	fmt.Fprintf(out, "│   Avg Velocity:       %6.2f items/gesture\n", status.Pattern.AvgVelocity)
	fmt.Fprintf(out, "│   Volatility:         %6.2f\n", status.Pattern.Volatility)
	for _, category := range sortedKeys(status.Pattern.CategoryBias) {
		fmt.Fprintf(out, "│   Affinity %-10s %6.2f\n", category+":", status.Pattern.CategoryBias[category])
	}

	// Player
	fmt.Fprintln(out, "│")
	fmt.Fprintln(out, "│ Player:")
	fmt.Fprintf(out, "│   Created:            %6d (failed=%d canceled=%d)\n", factory.Created, factory.Failed, factory.Canceled)
	fmt.Fprintf(out, "│   Released:           %6d\n", factory.Released)
	fmt.Fprintf(out, "│   Live:               %6d\n", factory.Live)
	fmt.Fprintf(out, "│   Avg Create:         %6dms\n", watch.AvgCreate.Milliseconds())

	fmt.Fprintln(out, "╰─────────────────────────────────────────────────────────────────╯")
	fmt.Fprintln(out)
}

// printFinalStats prints final statistics at shutdown
func printFinalStats(out io.Writer, res simResult) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(out, "                     Final Statistics                         ")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")

	fmt.Fprintf(out, "  Elapsed:               %v\n", res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  Gestures:              %d\n", res.Steps)
	fmt.Fprintf(out, "  Global Events:         %d\n", res.Watch.GlobalEvents)
	fmt.Fprintf(out, "  Max Concurrent Active: %d\n", res.Watch.MaxActive)
	fmt.Fprintf(out, "  Rejected Forces:       %d\n", res.Watch.Violations)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Transitions:")
	for _, phase := range sortedKeys(res.Watch.Transitions) {
		fmt.Fprintf(out, "    %-15s: %d\n", phase, res.Watch.Transitions[phase])
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Handle Requests:")
	for _, kind := range sortedKeys(res.Watch.Requested) {
		fmt.Fprintf(out, "    %-15s: %d\n", kind, res.Watch.Requested[kind])
	}
	fmt.Fprintf(out, "    %-15s: %d\n", "failed", res.Watch.Failed)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Releases:")
	for _, reason := range sortedKeys(res.Watch.Released) {
		fmt.Fprintf(out, "    %-15s: %d\n", reason, res.Watch.Released[reason])
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Player Live After Close: %d\n", res.Factory.Live)
	fmt.Fprintf(out, "  Double Releases:         %d\n", res.Factory.DoubleReleases)

	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(out)
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
