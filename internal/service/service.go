package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/reelcore/internal/config"
	"github.com/e7canasta/reelcore/internal/control"
	"github.com/e7canasta/reelcore/internal/emitter"
	"github.com/e7canasta/reelcore/internal/health"
	"github.com/e7canasta/reelcore/internal/metrics"
	"github.com/e7canasta/reelcore/internal/playerproc"
	"github.com/e7canasta/reelcore/internal/playersim"
	"github.com/e7canasta/reelcore/internal/store"
	"github.com/e7canasta/reelcore/internal/telemetry"
	"github.com/e7canasta/reelcore/modules/coordinator"
	"github.com/e7canasta/reelcore/modules/focusmonitor"
)

const (
	statsInterval = 10 * time.Second
	saveInterval  = time.Minute
)

// Service is the reeld orchestrator
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	// Core components
	coord   *coordinator.Coordinator
	emitter *emitter.MQTTEmitter
	control *control.Handler
	metrics *metrics.Collector
	health  *health.Server
	store   *store.Store // nil when persistence is disabled

	// Exactly one of player / sim is set.
	player *playerproc.Factory
	sim    *playersim.Factory

	// Lifecycle management
	started           time.Time
	mu                sync.RWMutex
	wg                sync.WaitGroup
	isRunning         bool
	cancelCtx         context.CancelFunc // For MQTT shutdown command
	cancelEmitter     context.CancelFunc
	shutdownTelemetry func(context.Context) error
}

// New builds every component from cfg. Nothing is started until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(nil),
		emitter: emitter.NewMQTTEmitter(cfg, logger.With("component", "emitter")),
	}

	var factory coordinator.HandleFactory
	if cfg.Player.Command != "" {
		player, err := playerproc.New(playerproc.Config{
			Command:      cfg.Player.Command,
			Args:         cfg.Player.Args,
			WriteTimeout: time.Duration(cfg.Player.WriteTimeoutMS) * time.Millisecond,
			Reconnect: playerproc.ReconnectConfig{
				MaxRetries: cfg.Player.MaxRestarts,
			},
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create player factory: %w", err)
		}
		s.player = player
		factory = player
	} else {
		s.sim = playersim.New(playersim.Config{
			Latency:  time.Duration(cfg.Player.SimLatencyMS) * time.Millisecond,
			FailRate: cfg.Player.SimFailRate,
			Seed:     uint64(time.Now().UnixNano()),
			Logger:   logger,
		})
		factory = s.sim
		logger.Info("using simulated player (no player.command configured)")
	}

	initial := cfg.Engine.Initial()
	coord, err := coordinator.New(coordinator.Config{
		Factory:  factory,
		Observer: coordinator.Observers(s.metrics, s.emitter),
		Logger:   logger.With("component", "coordinator"),
		Monitor: focusmonitor.Config{
			Window:  cfg.Engine.DebounceWindow(),
			Initial: initial,
		},
		Pattern:  cfg.Pattern.Memory(),
		Prefetch: cfg.Engine.Prefetch(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	s.coord = coord
	s.metrics.SetSystemReady(initial.SystemReady())

	if !cfg.Store.Disabled {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			coord.Close()
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		s.store = st
	}

	s.health = health.New(cfg.Health.Port, health.CheckerFunc(s.HealthCheck), s.metrics.Handler(), logger)

	logger.Info("service configured",
		"instance_id", cfg.InstanceID,
		"player", s.playerKind(),
		"store_enabled", s.store != nil,
		"prefetch_cap", cfg.Engine.PrefetchCap,
		"debounce_ms", cfg.Engine.DebounceMS,
	)

	return s, nil
}

// Coordinator exposes the owned coordinator.
func (s *Service) Coordinator() *coordinator.Coordinator {
	return s.coord
}

// Run starts every component and blocks until ctx is cancelled or a shutdown
// command arrives.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The emitter outlives ctx so the releases published by Shutdown still
	// reach the broker.
	emitterCtx, cancelEmitter := context.WithCancel(context.Background())

	s.mu.Lock()
	s.cancelCtx = cancel
	s.cancelEmitter = cancelEmitter
	s.mu.Unlock()

	s.logger.Info("reel service starting", "instance_id", s.cfg.InstanceID)

	shutdownTelemetry, err := telemetry.Setup(ctx, s.cfg.Telemetry, s.cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	s.mu.Lock()
	s.shutdownTelemetry = shutdownTelemetry
	s.mu.Unlock()

	s.restorePattern(ctx)

	if s.player != nil {
		// Shutdown stops the helper after the coordinator released its handles.
		if err := s.player.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start player: %w", err)
		}
	}

	// Connect MQTT emitter
	if err := s.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.emitter.Run(emitterCtx)
	}()

	// Setup control plane handler
	handler := control.NewHandler(s.cfg, s.emitter.Client, s.callbacks(), s.logger.With("component", "control"))
	s.mu.Lock()
	s.control = handler
	s.mu.Unlock()

	if err := handler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}

	if err := s.health.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.report(ctx)
	}()

	s.logger.Info("reel service running",
		"player", s.playerKind(),
		"health_port", s.cfg.Health.Port,
	)

	// Wait for context cancellation
	<-ctx.Done()

	s.logger.Info("reel service run loop exiting")
	return nil
}

// Shutdown performs graceful shutdown of all components
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancelCtx
	cancelEmitter := s.cancelEmitter
	handler := s.control
	shutdownTelemetry := s.shutdownTelemetry
	s.mu.Unlock()

	s.logger.Info("shutting down reel service")

	if cancel != nil {
		cancel()
	}

	// Shutdown sequence (order is important!):
	// 1. Stop control plane, no more host events
	if handler != nil {
		if err := handler.Stop(); err != nil {
			s.logger.Error("failed to stop control handler", "error", err)
		}
	}

	// 2. Persist the usage pattern before the coordinator goes away
	if err := s.savePattern(ctx); err != nil {
		s.logger.Error("failed to save pattern", "error", err)
	}

	// 3. Close the coordinator; every attached handle goes back to the factory
	s.coord.Close()

	// 4. Stop the player
	if s.player != nil {
		if err := s.player.Stop(); err != nil {
			s.logger.Error("failed to stop player", "error", err)
		}
	}
	if s.sim != nil {
		s.sim.Wait()
	}

	// 5. Health server
	if err := s.health.Shutdown(ctx); err != nil {
		s.logger.Error("failed to stop health server", "error", err)
	}

	// 6. Drain the emitter and wait for goroutines
	if cancelEmitter != nil {
		cancelEmitter()
	}
	s.wg.Wait()

	// 7. Disconnect MQTT
	if err := s.emitter.Disconnect(); err != nil {
		s.logger.Error("failed to disconnect mqtt", "error", err)
	}

	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if shutdownTelemetry != nil {
		if err := shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	s.logger.Info("reel service shutdown complete", "uptime", uptime)

	return errors.Join(errs...)
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

// HealthCheck reports unhealthy when not running and degraded when the broker
// or the player helper is unreachable.
func (s *Service) HealthCheck() health.Status {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	coordStatus := s.coord.Status()
	st := health.Status{
		Status:          health.StatusHealthy,
		MQTTConnected:   s.emitter.Stats().Connected,
		PlayerConnected: s.playerConnected(),
		StoreEnabled:    s.store != nil,
		Coordinator:     &coordStatus,
	}
	if running {
		st.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	switch {
	case !running:
		st.Status = health.StatusUnhealthy
	case !st.MQTTConnected || !st.PlayerConnected:
		st.Status = health.StatusDegraded
	}
	return st
}

// report publishes health and logs stats periodically, and saves the pattern
// so a crash loses at most one interval.
func (s *Service) report(ctx context.Context) {
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()
	saveTicker := time.NewTicker(saveInterval)
	defer saveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-statsTicker.C:
			s.publishHealth()
		case <-saveTicker.C:
			if err := s.savePattern(ctx); err != nil {
				s.logger.Warn("periodic pattern save failed", "error", err)
			}
		}
	}
}

func (s *Service) publishHealth() {
	st := s.HealthCheck()
	payload, err := marshalHealth(st)
	if err != nil {
		s.logger.Error("failed to marshal health", "error", err)
		return
	}
	if err := s.emitter.PublishHealth(payload); err != nil {
		s.logger.Debug("health publish skipped", "error", err)
	}

	s.logger.Info("reel stats",
		"status", st.Status,
		"active_id", st.Coordinator.ActiveID,
		"items", st.Coordinator.Items,
		"attached_handles", st.Coordinator.AttachedHandles,
		"in_flight", st.Coordinator.InFlight,
		"system_ready", st.Coordinator.SystemReady,
	)
}

// restorePattern loads the persisted pattern, if any, into the coordinator.
func (s *Service) restorePattern(ctx context.Context) {
	if s.store == nil {
		return
	}
	st, savedAt, err := s.store.LoadPattern(ctx, s.cfg.Store.SessionKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.logger.Info("no stored pattern, starting fresh", "session_key", s.cfg.Store.SessionKey)
	case err != nil:
		s.logger.Warn("failed to load stored pattern, starting fresh", "error", err)
	default:
		s.coord.RestorePattern(st)
		s.logger.Info("pattern restored",
			"session_key", s.cfg.Store.SessionKey,
			"saved_at", savedAt,
			"samples", len(st.Velocities),
			"categories", len(st.Affinity),
		)
	}
}

func (s *Service) savePattern(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.SavePattern(ctx, s.cfg.Store.SessionKey, s.coord.PatternState())
}

func (s *Service) playerConnected() bool {
	if s.player != nil {
		return s.player.Connected()
	}
	return true
}

func (s *Service) playerKind() string {
	if s.player != nil {
		return "process"
	}
	return "simulated"
}
