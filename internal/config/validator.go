package config

import (
	"fmt"
	"regexp"

	"github.com/e7canasta/reelcore/modules/focusmonitor"
	"github.com/e7canasta/reelcore/modules/patternmemory"
	"github.com/e7canasta/reelcore/modules/prefetch"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

var defaultQoS = map[string]byte{
	"control": 1,
	"state":   1,
	"global":  1,
	"health":  0,
}

// Validate checks the configuration and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := ValidateEngine(&cfg.Engine); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	// Pattern memory
	if cfg.Pattern.DecayIntervalS < 0 {
		return fmt.Errorf("pattern.decay_interval_s must be >= 0")
	}
	if cfg.Pattern.DecayIntervalS == 0 {
		cfg.Pattern.DecayIntervalS = int(patternmemory.DefaultDecayInterval.Seconds())
	}
	if cfg.Pattern.DecayRate < 0 || cfg.Pattern.DecayRate >= 1 {
		return fmt.Errorf("pattern.decay_rate must be in [0, 1)")
	}
	if cfg.Pattern.DecayRate == 0 {
		cfg.Pattern.DecayRate = patternmemory.DefaultDecayRate
	}

	// MQTT broker
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = fmt.Sprintf("reeld-%s", cfg.InstanceID)
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("reel/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.State == "" {
		cfg.MQTT.Topics.State = fmt.Sprintf("reel/state/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("reel/health/%s", cfg.InstanceID)
	}

	// Set default QoS for every stream not configured
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = make(map[string]byte, len(defaultQoS))
	}
	for name, qos := range defaultQoS {
		if _, ok := cfg.MQTT.QoS[name]; !ok {
			cfg.MQTT.QoS[name] = qos
		}
	}
	for name, qos := range cfg.MQTT.QoS {
		if qos > 2 {
			return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2, got %d", name, qos)
		}
	}

	// Store
	if cfg.Store.Path == "" {
		cfg.Store.Path = "reel.db"
	}
	if cfg.Store.SessionKey == "" {
		cfg.Store.SessionKey = cfg.InstanceID
	}

	if cfg.Health.Port == "" {
		cfg.Health.Port = "8080"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "reeld"
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}

	// Player
	if cfg.Player.WriteTimeoutMS <= 0 {
		cfg.Player.WriteTimeoutMS = 2000
	}
	if cfg.Player.MaxRestarts < 0 {
		return fmt.Errorf("player.max_restarts must be >= 0")
	}
	if cfg.Player.MaxRestarts == 0 {
		cfg.Player.MaxRestarts = 5
	}
	if cfg.Player.SimFailRate < 0 || cfg.Player.SimFailRate > 1 {
		return fmt.Errorf("player.sim_fail_rate must be in [0, 1]")
	}

	return nil
}

// ValidateEngine checks engine tuning and fills defaults. Hot reload uses it
// on its own.
func ValidateEngine(e *EngineConfig) error {
	// Negative debounce publishes synchronously; negative cap disables prefetch.
	if e.DebounceMS == 0 {
		e.DebounceMS = int(focusmonitor.DefaultWindow.Milliseconds())
	}
	if e.PrefetchCap == 0 {
		e.PrefetchCap = prefetch.DefaultCap
	}
	if e.PrefetchMinWidth < 0 {
		return fmt.Errorf("prefetch_min_width must be >= 0")
	}
	if e.PrefetchMinWidth == 0 {
		e.PrefetchMinWidth = prefetch.DefaultMinWidth
	}
	if e.FullThreshold < 0 {
		return fmt.Errorf("full_threshold must be >= 0")
	}
	if e.FullThreshold == 0 {
		e.FullThreshold = prefetch.DefaultFullThreshold
	}
	return nil
}
