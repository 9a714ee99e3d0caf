package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/reelcore/modules/focusmonitor"
	"github.com/e7canasta/reelcore/modules/patternmemory"
	"github.com/e7canasta/reelcore/modules/prefetch"
)

// Config represents the complete reeld configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"        env:"REEL_INSTANCE_ID"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s" env:"REEL_SHUTDOWN_TIMEOUT_S"` // Graceful shutdown timeout in seconds (default: 5)
	Engine           EngineConfig    `yaml:"engine"`
	Pattern          PatternConfig   `yaml:"pattern"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	Store            StoreConfig     `yaml:"store"`
	Health           HealthConfig    `yaml:"health"`
	Telemetry        TelemetryConfig `yaml:"telemetry"`
	Player           PlayerConfig    `yaml:"player"`
}

// EngineConfig tunes the coordinator. Everything here is hot-reloadable
// except the initial activity.
type EngineConfig struct {
	DebounceMS       int     `yaml:"debounce_ms"        env:"REEL_ENGINE_DEBOUNCE_MS"`  // -1 publishes synchronously
	PrefetchCap      int     `yaml:"prefetch_cap"       env:"REEL_ENGINE_PREFETCH_CAP"` // -1 disables prefetch
	PrefetchMinWidth int     `yaml:"prefetch_min_width" env:"REEL_ENGINE_PREFETCH_MIN_WIDTH"`
	FullThreshold    float64 `yaml:"full_threshold"     env:"REEL_ENGINE_FULL_THRESHOLD"`

	// The host is assumed foreground and focused at start unless told otherwise.
	StartInactive  bool `yaml:"start_inactive"  env:"REEL_ENGINE_START_INACTIVE"`
	StartUnfocused bool `yaml:"start_unfocused" env:"REEL_ENGINE_START_UNFOCUSED"`
}

// PatternConfig contains pattern memory decay settings
type PatternConfig struct {
	DecayIntervalS int     `yaml:"decay_interval_s" env:"REEL_PATTERN_DECAY_INTERVAL_S"`
	DecayRate      float64 `yaml:"decay_rate"       env:"REEL_PATTERN_DECAY_RATE"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker   string          `yaml:"broker"    env:"REEL_MQTT_BROKER"`
	ClientID string          `yaml:"client_id" env:"REEL_MQTT_CLIENT_ID"`
	Topics   MQTTTopics      `yaml:"topics"`
	QoS      map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic roots
type MQTTTopics struct {
	Control string `yaml:"control" env:"REEL_MQTT_TOPIC_CONTROL"`
	State   string `yaml:"state"   env:"REEL_MQTT_TOPIC_STATE"`
	Health  string `yaml:"health"  env:"REEL_MQTT_TOPIC_HEALTH"`
}

// StoreConfig contains pattern persistence settings
type StoreConfig struct {
	Path       string `yaml:"path"        env:"REEL_STORE_PATH"`
	SessionKey string `yaml:"session_key" env:"REEL_STORE_SESSION_KEY"`
	Disabled   bool   `yaml:"disabled"    env:"REEL_STORE_DISABLED"`
}

// HealthConfig contains the HTTP health server settings
type HealthConfig struct {
	Port string `yaml:"port" env:"REEL_HEALTH_PORT"`
}

// TelemetryConfig contains OpenTelemetry export settings
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"      env:"REEL_TELEMETRY_ENABLED"`
	Endpoint    string `yaml:"endpoint"     env:"REEL_TELEMETRY_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"REEL_TELEMETRY_SERVICE_NAME"`
}

// PlayerConfig selects the handle factory: a helper process when Command is
// set, the in-memory simulator otherwise.
type PlayerConfig struct {
	Command        string   `yaml:"command"          env:"REEL_PLAYER_COMMAND"`
	Args           []string `yaml:"args"             env:"REEL_PLAYER_ARGS" envSeparator:" "`
	WriteTimeoutMS int      `yaml:"write_timeout_ms" env:"REEL_PLAYER_WRITE_TIMEOUT_MS"`
	MaxRestarts    int      `yaml:"max_restarts"     env:"REEL_PLAYER_MAX_RESTARTS"`

	SimLatencyMS int     `yaml:"sim_latency_ms" env:"REEL_PLAYER_SIM_LATENCY_MS"`
	SimFailRate  float64 `yaml:"sim_fail_rate"  env:"REEL_PLAYER_SIM_FAIL_RATE"`
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// DebounceWindow returns the focus debounce window (zero when disabled).
func (e EngineConfig) DebounceWindow() time.Duration {
	if e.DebounceMS < 0 {
		return 0
	}
	return time.Duration(e.DebounceMS) * time.Millisecond
}

// Prefetch returns the planner bounds (Cap 0 when disabled).
func (e EngineConfig) Prefetch() prefetch.Config {
	limit := e.PrefetchCap
	if limit < 0 {
		limit = 0
	}
	return prefetch.Config{Cap: limit, MinWidth: e.PrefetchMinWidth, FullThreshold: e.FullThreshold}
}

// Initial returns the activity assumed at start.
func (e EngineConfig) Initial() focusmonitor.Activity {
	return focusmonitor.Activity{ProcessActive: !e.StartInactive, HostFocused: !e.StartUnfocused}
}

// Memory returns the pattern memory settings.
func (p PatternConfig) Memory() patternmemory.Config {
	return patternmemory.Config{
		DecayInterval: time.Duration(p.DecayIntervalS) * time.Second,
		DecayRate:     p.DecayRate,
	}
}

// Load reads and parses a YAML configuration file, applies REEL_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ParseEnv overlays environment variables on target. Unset variables leave
// the existing values alone.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
