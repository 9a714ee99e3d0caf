package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/reelcore/modules/prefetch"
)

const minimalYAML = `
instance_id: feed-01
mqtt:
  broker: tcp://localhost:1883
`

func TestParseFillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 150*time.Millisecond, cfg.Engine.DebounceWindow())
	assert.Equal(t, prefetch.DefaultCap, cfg.Engine.PrefetchCap)
	assert.Equal(t, prefetch.DefaultMinWidth, cfg.Engine.PrefetchMinWidth)
	assert.Equal(t, 60, cfg.Pattern.DecayIntervalS)
	assert.InDelta(t, 0.05, cfg.Pattern.DecayRate, 1e-9)

	assert.Equal(t, "reeld-feed-01", cfg.MQTT.ClientID)
	assert.Equal(t, "reel/control/feed-01", cfg.MQTT.Topics.Control)
	assert.Equal(t, "reel/state/feed-01", cfg.MQTT.Topics.State)
	assert.Equal(t, "reel/health/feed-01", cfg.MQTT.Topics.Health)
	assert.Equal(t, byte(1), cfg.MQTT.QoS["control"])

	assert.Equal(t, "reel.db", cfg.Store.Path)
	assert.Equal(t, "feed-01", cfg.Store.SessionKey)
	assert.Equal(t, "8080", cfg.Health.Port)
	assert.Equal(t, "reeld", cfg.Telemetry.ServiceName)
	assert.Equal(t, 2000, cfg.Player.WriteTimeoutMS)
	assert.Equal(t, 5, cfg.Player.MaxRestarts)

	initial := cfg.Engine.Initial()
	assert.True(t, initial.SystemReady())
}

func TestParseReadsAllSections(t *testing.T) {
	data := []byte(`
instance_id: feed-02
shutdown_timeout_s: 9
engine:
  debounce_ms: -1
  prefetch_cap: -1
  prefetch_min_width: 2
  full_threshold: 1.5
  start_unfocused: true
pattern:
  decay_interval_s: 30
  decay_rate: 0.2
mqtt:
  broker: tcp://broker:1883
  topics:
    control: custom/control
  qos:
    control: 2
store:
  path: /var/lib/reel/state.db
health:
  port: "9090"
telemetry:
  enabled: true
  endpoint: http://otel:4318
player:
  command: /usr/bin/reel-player
  args: ["--gpu", "0"]
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 9*time.Second, cfg.ShutdownTimeout())
	assert.Zero(t, cfg.Engine.DebounceWindow())
	assert.Equal(t, 0, cfg.Engine.Prefetch().Cap)
	assert.Equal(t, 2, cfg.Engine.Prefetch().MinWidth)
	assert.InDelta(t, 1.5, cfg.Engine.Prefetch().FullThreshold, 1e-9)
	assert.False(t, cfg.Engine.Initial().SystemReady())

	mem := cfg.Pattern.Memory()
	assert.Equal(t, 30*time.Second, mem.DecayInterval)
	assert.InDelta(t, 0.2, mem.DecayRate, 1e-9)

	assert.Equal(t, "custom/control", cfg.MQTT.Topics.Control)
	assert.Equal(t, byte(2), cfg.MQTT.QoS["control"])
	assert.Equal(t, byte(1), cfg.MQTT.QoS["state"])
	assert.Equal(t, "/var/lib/reel/state.db", cfg.Store.Path)
	assert.Equal(t, "9090", cfg.Health.Port)
	assert.Equal(t, []string{"--gpu", "0"}, cfg.Player.Args)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("REEL_INSTANCE_ID", "from-env")
	t.Setenv("REEL_ENGINE_PREFETCH_CAP", "7")
	t.Setenv("REEL_MQTT_BROKER", "tcp://env-broker:1883")
	t.Setenv("REEL_PLAYER_ARGS", "--a --b")
	t.Setenv("REEL_STORE_DISABLED", "true")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.InstanceID)
	assert.Equal(t, 7, cfg.Engine.PrefetchCap)
	assert.Equal(t, "tcp://env-broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, []string{"--a", "--b"}, cfg.Player.Args)
	assert.True(t, cfg.Store.Disabled)
	assert.Equal(t, "reel/state/from-env", cfg.MQTT.Topics.State)
}

func TestEnvParseError(t *testing.T) {
	t.Setenv("REEL_ENGINE_PREFETCH_CAP", "many")

	_, err := Parse([]byte(minimalYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing instance", "mqtt: {broker: x}", "instance_id is required"},
		{"bad instance", "instance_id: Feed_01\nmqtt: {broker: x}", "instance_id must match"},
		{"missing broker", "instance_id: a", "mqtt.broker is required"},
		{"bad decay rate", "instance_id: a\nmqtt: {broker: x}\npattern: {decay_rate: 1.5}", "decay_rate"},
		{"bad qos", "instance_id: a\nmqtt: {broker: x, qos: {state: 3}}", "mqtt.qos.state"},
		{"telemetry without endpoint", "instance_id: a\nmqtt: {broker: x}\ntelemetry: {enabled: true}", "telemetry.endpoint"},
		{"bad fail rate", "instance_id: a\nmqtt: {broker: x}\nplayer: {sim_fail_rate: 2}", "sim_fail_rate"},
		{"bad threshold", "instance_id: a\nmqtt: {broker: x}\nengine: {full_threshold: -1}", "full_threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "feed-01", cfg.InstanceID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "reel.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "living-room-tv", cfg.InstanceID)
	assert.Equal(t, 4, cfg.Engine.Prefetch().Cap)
	assert.Empty(t, cfg.Player.Command)
	assert.False(t, cfg.Telemetry.Enabled)
}
