package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/e7canasta/reelcore/internal/playersim"
	"github.com/e7canasta/reelcore/modules/coordinator"
	"github.com/e7canasta/reelcore/modules/focusmonitor"
	"github.com/e7canasta/reelcore/modules/prefetch"
)

// simOptions configures one simulated session.
type simOptions struct {
	Items         int
	Duration      time.Duration
	Latency       time.Duration
	FailRate      float64
	Step          time.Duration
	StatsInterval time.Duration
	PrefetchCap   int
	Seed          uint64
}

var simOpts simOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Scroll a simulated feed against an in-memory player",
	Long:  `The simulate command mounts a synthetic feed, scrolls through it with a simulated user and reports coordinator statistics. It exits non-zero if more than one item ever played at once or a handle leaked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel(),
		}))
		slog.SetDefault(logger)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		printBanner(os.Stdout, simOpts)

		res, err := runSimulation(ctx, simOpts, logger, os.Stdout)
		if err != nil {
			return err
		}
		return res.Check()
	},
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simOpts.Items, "items", 50, "Number of feed items to mount")
	f.DurationVar(&simOpts.Duration, "duration", 30*time.Second, "How long to scroll")
	f.DurationVar(&simOpts.Latency, "latency", 120*time.Millisecond, "Simulated handle creation latency")
	f.Float64Var(&simOpts.FailRate, "fail-rate", 0.05, "Probability in [0, 1] that a handle creation fails")
	f.DurationVar(&simOpts.Step, "step", 400*time.Millisecond, "Interval between scroll gestures")
	f.DurationVar(&simOpts.StatsInterval, "stats-interval", 5*time.Second, "Statistics reporting interval")
	f.IntVar(&simOpts.PrefetchCap, "prefetch-cap", prefetch.DefaultCap, "Maximum pre-warmed neighbours (0 disables)")
	f.Uint64Var(&simOpts.Seed, "seed", 1, "Seed for the scroller and failure injection")
}

func (o simOptions) validate() error {
	if o.Items <= 0 {
		return fmt.Errorf("--items must be > 0")
	}
	if o.Duration <= 0 {
		return fmt.Errorf("--duration must be > 0")
	}
	if o.Latency < 0 {
		return fmt.Errorf("--latency must be >= 0")
	}
	if o.FailRate < 0 || o.FailRate > 1 {
		return fmt.Errorf("--fail-rate must be in [0, 1]")
	}
	if o.Step <= 0 {
		return fmt.Errorf("--step must be > 0")
	}
	if o.PrefetchCap < 0 {
		return fmt.Errorf("--prefetch-cap must be >= 0")
	}
	return nil
}

// simResult is what a simulated session ends with.
type simResult struct {
	Watch   WatchStats
	Factory playersim.Stats
	Status  coordinator.Status
	Steps   uint64
	Elapsed time.Duration
}

// Check fails when the session broke exclusivity or leaked handles.
func (r simResult) Check() error {
	var errs []error
	if r.Watch.MaxActive > 1 {
		errs = append(errs, fmt.Errorf("%d items were active at once", r.Watch.MaxActive))
	}
	if r.Factory.Live != 0 {
		errs = append(errs, fmt.Errorf("%d handles leaked after close", r.Factory.Live))
	}
	if r.Factory.DoubleReleases != 0 {
		errs = append(errs, fmt.Errorf("%d handles released twice", r.Factory.DoubleReleases))
	}
	return errors.Join(errs...)
}

func runSimulation(ctx context.Context, opts simOptions, logger *slog.Logger, out io.Writer) (simResult, error) {
	if err := opts.validate(); err != nil {
		return simResult{}, err
	}

	// 1. Player and coordinator
	factory := playersim.New(playersim.Config{
		Latency:  opts.Latency,
		FailRate: opts.FailRate,
		Seed:     opts.Seed,
		Logger:   logger,
	})

	watcher := NewPlaybackWatcher()

	prefetchCfg := prefetch.DefaultConfig()
	prefetchCfg.Cap = opts.PrefetchCap

	coord, err := coordinator.New(coordinator.Config{
		Factory:  factory,
		Observer: watcher,
		Logger:   logger,
		Monitor:  focusmonitor.DefaultConfig(),
		Prefetch: prefetchCfg,
	})
	if err != nil {
		return simResult{}, fmt.Errorf("failed to create coordinator: %w", err)
	}

	// 2. Mount the feed
	for i := 0; i < opts.Items; i++ {
		if err := coord.Mount(feedItem(i)); err != nil {
			coord.Close()
			return simResult{}, fmt.Errorf("failed to mount item %d: %w", i, err)
		}
	}
	coord.SetVisibleIndex(0)
	logger.Info("feed mounted", "items", opts.Items)

	// 3. Scroll until the duration elapses or ctx is cancelled
	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	scroller := NewMockScroller(opts.Items, opts.Seed, logger)
	start := time.Now()

	stepTicker := time.NewTicker(opts.Step)
	defer stepTicker.Stop()

	var statsC <-chan time.Time
	if opts.StatsInterval > 0 {
		statsTicker := time.NewTicker(opts.StatsInterval)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-stepTicker.C:
			scroller.Step(coord)
		case <-statsC:
			printLiveStats(out, time.Since(start), coord.Status(), watcher.Stats(), factory.Stats(), scroller.Stats())
		}
	}

	// 4. Close releases every handle; wait for in-flight simulated creations
	coord.Close()
	factory.Wait()

	res := simResult{
		Watch:   watcher.Stats(),
		Factory: factory.Stats(),
		Status:  coord.Status(),
		Steps:   scroller.Stats().Steps,
		Elapsed: time.Since(start),
	}
	printFinalStats(out, res)

	return res, nil
}

var categories = []string{"music", "news", "sports", "cooking", "travel", "pets"}

func feedItem(i int) coordinator.ItemProps {
	id := fmt.Sprintf("item-%03d", i)
	return coordinator.ItemProps{
		ID:       id,
		Index:    i,
		Locator:  "sim://" + id,
		Category: categories[i%len(categories)],
	}
}
