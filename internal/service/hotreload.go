package service

import (
	"encoding/json"
	"fmt"

	"github.com/e7canasta/reelcore/internal/config"
)

// UpdateConfig applies engine tuning without restarting. Only the "engine"
// section is reloadable:
//
//	{"engine": {"prefetch_cap": 6, "prefetch_min_width": 2, "full_threshold": 0.5, "debounce_ms": 200}}
//
// An update that changes nothing is an error.
func (s *Service) UpdateConfig(newConfig map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("applying config update", "changes", newConfig)

	engineCfg, ok := newConfig["engine"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("no reloadable section in update (only engine is supported)")
	}

	next := s.cfg.Engine
	if v, ok := number(engineCfg["prefetch_cap"]); ok {
		next.PrefetchCap = int(v)
	}
	if v, ok := number(engineCfg["prefetch_min_width"]); ok {
		next.PrefetchMinWidth = int(v)
	}
	if v, ok := number(engineCfg["full_threshold"]); ok {
		next.FullThreshold = v
	}
	if v, ok := number(engineCfg["debounce_ms"]); ok {
		next.DebounceMS = int(v)
	}

	if err := config.ValidateEngine(&next); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}

	old := s.cfg.Engine
	changes := []string{}

	if next.PrefetchCap != old.PrefetchCap {
		changes = append(changes, fmt.Sprintf("engine.prefetch_cap: %d → %d", old.PrefetchCap, next.PrefetchCap))
	}
	if next.PrefetchMinWidth != old.PrefetchMinWidth {
		changes = append(changes, fmt.Sprintf("engine.prefetch_min_width: %d → %d", old.PrefetchMinWidth, next.PrefetchMinWidth))
	}
	if next.FullThreshold != old.FullThreshold {
		changes = append(changes, fmt.Sprintf("engine.full_threshold: %.2f → %.2f", old.FullThreshold, next.FullThreshold))
	}
	if next.DebounceMS != old.DebounceMS {
		changes = append(changes, fmt.Sprintf("engine.debounce_ms: %d → %d", old.DebounceMS, next.DebounceMS))
	}

	if len(changes) == 0 {
		return fmt.Errorf("no valid config changes found")
	}

	s.cfg.Engine = next
	s.coord.SetPrefetchConfig(next.Prefetch())
	s.coord.SetDebounceWindow(next.DebounceWindow())

	s.logger.Info("config update applied", "changes_count", len(changes))

	for _, change := range changes {
		s.logger.Info("config changed", "change", change)
	}

	return nil
}

func (s *Service) engineConfig() config.EngineConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Engine
}

// number accepts JSON numbers as decoded by encoding/json as well as Go ints.
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
