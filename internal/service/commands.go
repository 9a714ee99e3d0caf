package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/e7canasta/reelcore/internal/control"
	"github.com/e7canasta/reelcore/internal/health"
	"github.com/e7canasta/reelcore/modules/patternmemory"
)

// callbacks maps control commands onto the coordinator.
func (s *Service) callbacks() control.CommandCallbacks {
	return control.CommandCallbacks{
		OnMountItem: s.coord.Mount,
		OnUnmountItem: func(id string) error {
			s.coord.Unmount(id)
			return nil
		},
		OnSetVisibleIndex: func(index int) error {
			s.coord.SetVisibleIndex(index)
			return nil
		},
		OnScrollSample: func(sample control.ScrollSample) error {
			s.coord.RecordSample(patternmemory.Sample{
				Velocity:     sample.Velocity,
				DwellSeconds: sample.DwellSeconds,
				Category:     sample.Category,
			})
			return nil
		},
		OnProcessState: func(active bool) error {
			s.coord.SetProcessActive(active)
			return nil
		},
		OnFocusState: func(focused bool) error {
			s.coord.SetHostFocused(focused)
			return nil
		},
		OnResetItem:    s.coord.ResetItem,
		OnResetSession: s.resetSession,
		OnForceActive:  s.coord.ForceActive,
		OnGetStatus:    s.getStatus,
		OnUpdateConfig: s.UpdateConfig,
		OnShutdown:     s.shutdownViaControl,
	}
}

// resetSession clears the coordinator and forgets the stored pattern.
func (s *Service) resetSession() error {
	s.coord.ResetSession()
	if s.store == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.DeletePattern(ctx, s.cfg.Store.SessionKey); err != nil {
		return fmt.Errorf("failed to delete stored pattern: %w", err)
	}
	return nil
}

// getStatus returns the current service status
func (s *Service) getStatus() map[string]interface{} {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	uptime := 0.0
	if running {
		uptime = time.Since(started).Seconds()
	}

	emitterStats := s.emitter.Stats()

	player := map[string]interface{}{"kind": s.playerKind()}
	if s.player != nil {
		player["stats"] = s.player.Stats()
	} else {
		player["stats"] = s.sim.Stats()
	}

	engine := s.engineConfig()

	return map[string]interface{}{
		"instance_id": s.cfg.InstanceID,
		"uptime_s":    uptime,
		"running":     running,
		"coordinator": s.coord.Status(),
		"player":      player,
		"emitter": map[string]interface{}{
			"connected": emitterStats.Connected,
			"published": emitterStats.Published,
			"errors":    emitterStats.Errors,
			"dropped":   emitterStats.Dropped,
			"queued":    emitterStats.Queued,
		},
		"store": map[string]interface{}{
			"enabled":     s.store != nil,
			"path":        s.cfg.Store.Path,
			"session_key": s.cfg.Store.SessionKey,
		},
		"config": map[string]interface{}{
			"engine": map[string]interface{}{
				"debounce_ms":        engine.DebounceMS,
				"prefetch_cap":       engine.PrefetchCap,
				"prefetch_min_width": engine.PrefetchMinWidth,
				"full_threshold":     engine.FullThreshold,
			},
			"mqtt": map[string]interface{}{
				"broker":        s.cfg.MQTT.Broker,
				"control_topic": s.cfg.MQTT.Topics.Control,
				"state_topic":   s.cfg.MQTT.Topics.State,
			},
		},
	}
}

// Status is the exported form of get_status.
func (s *Service) Status() map[string]interface{} {
	return s.getStatus()
}

// shutdownViaControl initiates graceful shutdown via MQTT control command
func (s *Service) shutdownViaControl() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return fmt.Errorf("service not running")
	}
	if s.cancelCtx == nil {
		return fmt.Errorf("shutdown not available (no cancel context)")
	}

	// Run returns and the caller runs the graceful shutdown sequence
	s.cancelCtx()
	return nil
}

func marshalHealth(st health.Status) ([]byte, error) {
	return json.Marshal(st)
}
