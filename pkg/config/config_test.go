package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsrlivetiming/pkg/endpoint"
	"bsrlivetiming/pkg/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, Validate(&cfg))
	assert.Equal(t, time.Second, cfg.BroadcastInterval())
	assert.Equal(t, 30*time.Second, cfg.ConnectionTimeout())
	assert.Equal(t, endpoint.DefaultConfig(), cfg.DefaultEndpoint())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
http:
  address: ":9090"
  broadcast_interval_ms: 500
endpoint:
  simulator_ip: 10.0.0.2
  udp_port: 9700
  udp_send_address: 10.0.0.2:12095
redis:
  enabled: true
  channel: timing
telegram:
  chat_ids: ["1", "2"]
  session_types: [race]
`)
	t.Setenv("BSR_HTTP_ADDRESS", ":7070")
	t.Setenv("BSR_REDIS_FANOUT_ONLY", "true")
	t.Setenv("BSR_TELEGRAM_CHAT_IDS", "3,4")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(&cfg))

	assert.Equal(t, ":7070", cfg.HTTP.Address)
	assert.Equal(t, 500*time.Millisecond, cfg.BroadcastInterval())
	assert.Equal(t, "timing", cfg.Redis.Channel)
	assert.True(t, cfg.Redis.FanoutOnly)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, []string{"3", "4"}, cfg.Telegram.ChatIDs)

	ep := cfg.DefaultEndpoint()
	assert.Equal(t, 9700, ep.UDPPort)
	assert.Equal(t, "10.0.0.2", ep.SimulatorIP)
	assert.Equal(t, 9600, ep.SimulatorPort)

	n := cfg.NotifiedSessions()
	assert.True(t, n[model.SessionRace])
	assert.False(t, n[model.SessionPractice])
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "http: [not, a, map]"))
	assert.Error(t, err)

	t.Setenv("BSR_HTTP_BROADCAST_INTERVAL_MS", "soon")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no http address", func(c *Config) { c.HTTP.Address = "" }},
		{"zero broadcast interval", func(c *Config) { c.HTTP.BroadcastIntervalMs = 0 }},
		{"negative timeout", func(c *Config) { c.Telemetry.ConnectionTimeoutMs = -1 }},
		{"position interval too large", func(c *Config) { c.Telemetry.RealtimePosIntervalMs = 70000 }},
		{"simulator port", func(c *Config) { c.Endpoint.SimulatorPort = 0 }},
		{"udp port", func(c *Config) { c.Endpoint.UDPPort = 65536 }},
		{"fanout without redis", func(c *Config) { c.Redis.FanoutOnly = true }},
		{"redis without address", func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" }},
		{"no sqlite path", func(c *Config) { c.Storage.SqlitePath = "" }},
		{"bad session type", func(c *Config) { c.Telegram.SessionTypes = []string{"Warmup"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, Validate(&cfg))
		})
	}
}

func TestParseSessionType(t *testing.T) {
	st, err := ParseSessionType("qualifying")
	require.NoError(t, err)
	assert.Equal(t, model.SessionQualifying, st)

	_, err = ParseSessionType("None")
	assert.Error(t, err)
}
