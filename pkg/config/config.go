// Package config loads the service configuration from an optional YAML file
// and environment overrides.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"bsrlivetiming/pkg/model"
	"bsrlivetiming/pkg/settings"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http" envPrefix:"HTTP_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Endpoint  EndpointConfig  `yaml:"endpoint" envPrefix:"ENDPOINT_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Telegram  TelegramConfig  `yaml:"telegram" envPrefix:"TELEGRAM_"`
}

type HTTPConfig struct {
	Address             string `yaml:"address" env:"ADDRESS"`
	BroadcastIntervalMs int    `yaml:"broadcast_interval_ms" env:"BROADCAST_INTERVAL_MS"`
	// AdminToken guards the configure and clear routes.
	// Empty leaves them open.
	AdminToken string `yaml:"admin_token" env:"ADMIN_TOKEN"`
}

type TelemetryConfig struct {
	ListenHost            string `yaml:"listen_host" env:"LISTEN_HOST"`
	ConnectionTimeoutMs   int    `yaml:"connection_timeout_ms" env:"CONNECTION_TIMEOUT_MS"`
	RealtimePosIntervalMs int    `yaml:"realtime_pos_interval_ms" env:"REALTIME_POS_INTERVAL_MS"`
}

// EndpointConfig is the endpoint applied at start when none was persisted.
type EndpointConfig struct {
	UDPPort          int    `yaml:"udp_port" env:"UDP_PORT"`
	SimulatorIP      string `yaml:"simulator_ip" env:"SIMULATOR_IP"`
	SimulatorPort    int    `yaml:"simulator_port" env:"SIMULATOR_PORT"`
	UDPListenAddress string `yaml:"udp_listen_address" env:"UDP_LISTEN_ADDRESS"`
	UDPSendAddress   string `yaml:"udp_send_address" env:"UDP_SEND_ADDRESS"`
}

type StorageConfig struct {
	SqlitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Address string `yaml:"address" env:"ADDRESS"`
	Channel string `yaml:"channel" env:"CHANNEL"`
	// FanoutOnly processes serve viewers from the channel and never ingest.
	FanoutOnly bool `yaml:"fanout_only" env:"FANOUT_ONLY"`
}

type TelegramConfig struct {
	Token        string   `yaml:"token" env:"TOKEN"`
	ChatIDs      []string `yaml:"chat_ids" env:"CHAT_IDS" envSeparator:","`
	SessionTypes []string `yaml:"session_types" env:"SESSION_TYPES" envSeparator:","`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Address:             ":8080",
			BroadcastIntervalMs: 1000,
		},
		Telemetry: TelemetryConfig{
			ListenHost:            "0.0.0.0",
			ConnectionTimeoutMs:   30000,
			RealtimePosIntervalMs: 1000,
		},
		Endpoint: EndpointConfig{
			UDPPort:          9600,
			SimulatorIP:      "127.0.0.1",
			SimulatorPort:    9600,
			UDPListenAddress: "127.0.0.1:11095",
			UDPSendAddress:   "127.0.0.1:12095",
		},
		Storage: StorageConfig{SqlitePath: settings.DbName},
		Redis:   RedisConfig{Address: "localhost:6379"},
		Telegram: TelegramConfig{
			SessionTypes: []string{
				string(model.SessionPractice),
				string(model.SessionQualifying),
				string(model.SessionRace),
			},
		},
	}
}

// Load reads path over the defaults and then applies BSR_* environment
// variables. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "reading config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing config %s", path)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseEnv overrides target with the BSR_ prefixed environment.
// Unset variables leave fields untouched.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: "BSR_"}); err != nil {
		return errors.Wrap(err, "parsing env")
	}
	return nil
}

// Validate does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg.HTTP.Address == "" {
		return errors.New("http.address is required")
	}
	if cfg.HTTP.BroadcastIntervalMs <= 0 {
		return errors.Errorf("http.broadcast_interval_ms must be positive, got %d", cfg.HTTP.BroadcastIntervalMs)
	}
	if cfg.Telemetry.ConnectionTimeoutMs <= 0 {
		return errors.Errorf("telemetry.connection_timeout_ms must be positive, got %d", cfg.Telemetry.ConnectionTimeoutMs)
	}
	if cfg.Telemetry.RealtimePosIntervalMs < 0 || cfg.Telemetry.RealtimePosIntervalMs > 0xFFFF {
		return errors.Errorf("telemetry.realtime_pos_interval_ms out of range: %d", cfg.Telemetry.RealtimePosIntervalMs)
	}
	if p := cfg.Endpoint.UDPPort; p < 1 || p > 65535 {
		return errors.Errorf("endpoint.udp_port out of range: %d", p)
	}
	if p := cfg.Endpoint.SimulatorPort; p < 1 || p > 65535 {
		return errors.Errorf("endpoint.simulator_port out of range: %d", p)
	}
	if cfg.Redis.FanoutOnly && !cfg.Redis.Enabled {
		return errors.New("redis.fanout_only needs redis.enabled")
	}
	if cfg.Redis.Enabled && cfg.Redis.Address == "" {
		return errors.New("redis.address is required when redis is enabled")
	}
	if cfg.Storage.SqlitePath == "" {
		return errors.New("storage.sqlite_path is required")
	}
	for _, st := range cfg.Telegram.SessionTypes {
		if _, err := ParseSessionType(st); err != nil {
			return errors.Wrap(err, "telegram.session_types")
		}
	}
	return nil
}

func ParseSessionType(s string) (model.SessionType, error) {
	for _, st := range []model.SessionType{model.SessionPractice, model.SessionQualifying, model.SessionRace} {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return model.SessionNone, errors.Errorf("unknown session type %q", s)
}

func (c Config) BroadcastInterval() time.Duration {
	return time.Duration(c.HTTP.BroadcastIntervalMs) * time.Millisecond
}

func (c Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.Telemetry.ConnectionTimeoutMs) * time.Millisecond
}

func (c Config) RealtimePosInterval() time.Duration {
	return time.Duration(c.Telemetry.RealtimePosIntervalMs) * time.Millisecond
}

// DefaultEndpoint is the config applied at start when nothing was persisted.
func (c Config) DefaultEndpoint() model.ServerEndpointConfig {
	return model.ServerEndpointConfig{
		UDPPort:          c.Endpoint.UDPPort,
		SimulatorIP:      c.Endpoint.SimulatorIP,
		SimulatorPort:    c.Endpoint.SimulatorPort,
		UDPListenAddress: c.Endpoint.UDPListenAddress,
		UDPSendAddress:   c.Endpoint.UDPSendAddress,
	}
}

// NotifiedSessions is the notification set seeded for configured chats.
func (c Config) NotifiedSessions() settings.Notifications {
	n := settings.AllDisabled()
	for _, s := range c.Telegram.SessionTypes {
		if st, err := ParseSessionType(s); err == nil {
			n[st] = true
		}
	}
	return n
}
