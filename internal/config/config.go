package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. GAMEFW_REDIS_ADDR.
const EnvPrefix = "GAMEFW_"

type LogConfig struct {
	Level string `json:"level" yaml:"level" env:"LEVEL"`
}

type RuntimeConfig struct {
	TickIntervalMs int `json:"tick_interval_ms" yaml:"tick_interval_ms" env:"TICK_INTERVAL_MS"`
	QueueSize      int `json:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE"`
}

type LoaderConfig struct {
	PhaseTimeoutSec int    `json:"phase_timeout_sec" yaml:"phase_timeout_sec" env:"PHASE_TIMEOUT_SEC"`
	SettleDelayMs   int    `json:"settle_delay_ms" yaml:"settle_delay_ms" env:"SETTLE_DELAY_MS"`
	WaitFor         string `json:"wait_for" yaml:"wait_for" env:"WAIT_FOR"`
	DoneChannel     string `json:"done_channel" yaml:"done_channel" env:"DONE_CHANNEL"`
}

type EventsConfig struct {
	CommandPrefix   string `json:"command_prefix" yaml:"command_prefix" env:"COMMAND_PREFIX"`
	PropagatePanics bool   `json:"propagate_panics" yaml:"propagate_panics" env:"PROPAGATE_PANICS"`
}

type BridgeConfig struct {
	ListenAddr           string  `json:"listen_addr" yaml:"listen_addr" env:"LISTEN_ADDR"`
	HeartbeatIntervalSec int     `json:"heartbeat_interval_sec" yaml:"heartbeat_interval_sec" env:"HEARTBEAT_INTERVAL_SEC"`
	HeartbeatTimeoutSec  int     `json:"heartbeat_timeout_sec" yaml:"heartbeat_timeout_sec" env:"HEARTBEAT_TIMEOUT_SEC"`
	StatsIntervalSec     int     `json:"stats_interval_sec" yaml:"stats_interval_sec" env:"STATS_INTERVAL_SEC"`
	RateLimit            float64 `json:"rate_limit" yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst                int     `json:"burst" yaml:"burst" env:"BURST"`
	UseJSON              bool    `json:"use_json" yaml:"use_json" env:"USE_JSON"`
}

type RedisConfig struct {
	Addr                   string `json:"addr" yaml:"addr" env:"ADDR"`
	Password               string `json:"password" yaml:"password" env:"PASSWORD"`
	DB                     int    `json:"db" yaml:"db" env:"DB"`
	PoolSize               int    `json:"pool_size" yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns           int    `json:"min_idle_conns" yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	HealthCheckIntervalSec int    `json:"health_check_interval_sec" yaml:"health_check_interval_sec" env:"HEALTH_CHECK_INTERVAL_SEC"`
}

type RelayConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Prefix         string `json:"prefix" yaml:"prefix" env:"PREFIX"`
	NodeID         string `json:"node_id" yaml:"node_id" env:"NODE_ID"`
	PresenceTTLSec int    `json:"presence_ttl_sec" yaml:"presence_ttl_sec" env:"PRESENCE_TTL_SEC"`
}

type ServerConfig struct {
	Log     LogConfig     `json:"log" yaml:"log" envPrefix:"LOG_"`
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime" envPrefix:"RUNTIME_"`
	Loader  LoaderConfig  `json:"loader" yaml:"loader" envPrefix:"LOADER_"`
	Events  EventsConfig  `json:"events" yaml:"events" envPrefix:"EVENTS_"`
	Bridge  BridgeConfig  `json:"bridge" yaml:"bridge" envPrefix:"BRIDGE_"`
	Redis   RedisConfig   `json:"redis" yaml:"redis" envPrefix:"REDIS_"`
	Relay   RelayConfig   `json:"relay" yaml:"relay" envPrefix:"RELAY_"`
}

type ClientConfig struct {
	Log                  LogConfig     `json:"log" yaml:"log" envPrefix:"LOG_"`
	Runtime              RuntimeConfig `json:"runtime" yaml:"runtime" envPrefix:"RUNTIME_"`
	Loader               LoaderConfig  `json:"loader" yaml:"loader" envPrefix:"LOADER_"`
	Events               EventsConfig  `json:"events" yaml:"events" envPrefix:"EVENTS_"`
	ServerURL            string        `json:"server_url" yaml:"server_url" env:"SERVER_URL"`
	HeartbeatIntervalSec int           `json:"heartbeat_interval_sec" yaml:"heartbeat_interval_sec" env:"HEARTBEAT_INTERVAL_SEC"`
	UseJSON              bool          `json:"use_json" yaml:"use_json" env:"USE_JSON"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Log:     LogConfig{Level: "info"},
		Runtime: RuntimeConfig{TickIntervalMs: 50, QueueSize: 1024},
		Loader:  LoaderConfig{PhaseTimeoutSec: 30},
		Events:  EventsConfig{CommandPrefix: "/"},
		Bridge: BridgeConfig{
			ListenAddr:           ":7788",
			HeartbeatIntervalSec: 10,
			HeartbeatTimeoutSec:  30,
			StatsIntervalSec:     60,
			RateLimit:            50,
			Burst:                100,
		},
		Redis: RedisConfig{
			Addr:                   "127.0.0.1:6379",
			PoolSize:               200,
			MinIdleConns:           20,
			HealthCheckIntervalSec: 10,
		},
		Relay: RelayConfig{Prefix: "gamefw:relay:", PresenceTTLSec: 30},
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Log:                  LogConfig{Level: "info"},
		Runtime:              RuntimeConfig{TickIntervalMs: 50, QueueSize: 1024},
		Loader:               LoaderConfig{PhaseTimeoutSec: 30},
		Events:               EventsConfig{CommandPrefix: "/"},
		ServerURL:            "ws://127.0.0.1:7788/ws",
		HeartbeatIntervalSec: 5,
	}
}

// Load reads path into out (YAML for .yaml/.yml, JSON otherwise) and then
// applies GAMEFW_* environment overrides. An empty path skips the file.
func Load(path string, out any) error {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, out)
		default:
			err = json.Unmarshal(data, out)
		}
		if err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(out, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
