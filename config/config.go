// Package config loads the settings module named in §6's "Server CLI
// surface": a `--settings` path or the ACTIONRPC_SETTINGS environment
// variable, resolved with viper so the same file can be YAML, JSON, or
// TOML without this package caring which.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

const settingsEnvVar = "ACTIONRPC_SETTINGS"

// RedisSettings configures the Redis Gateway backend.
type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TransportSettings mirrors the tunables in transport.Config.
type TransportSettings struct {
	QueueCapacity              int           `mapstructure:"queue_capacity"`
	QueueFullRetries           int           `mapstructure:"queue_full_retries"`
	ReceiveTimeout             time.Duration `mapstructure:"receive_timeout"`
	MaximumMessageSizeBytes    int           `mapstructure:"maximum_message_size_bytes"`
	LogMessagesLargerThanBytes int           `mapstructure:"log_messages_larger_than_bytes"`
	ChunkMessagesLargerThanBytes int         `mapstructure:"chunk_messages_larger_than_bytes"`
	ChunkWaitWindow            time.Duration `mapstructure:"chunk_wait_window"`
}

// HarakiriSettings configures the server's per-request watchdog and the
// supervisor's shutdown grace (§4.6).
type HarakiriSettings struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// Settings is the root settings document for one actionrpc server process.
type Settings struct {
	ServiceName string            `mapstructure:"service_name"`
	Redis       RedisSettings     `mapstructure:"redis"`
	Transport   TransportSettings `mapstructure:"transport"`
	Harakiri    HarakiriSettings  `mapstructure:"harakiri"`

	HeartbeatFile string   `mapstructure:"heartbeat_file"`
	FileWatcher   []string `mapstructure:"file_watcher_paths"`
}

// Load resolves the settings source from path (the --settings flag value)
// or, if empty, from ACTIONRPC_SETTINGS, and unmarshals it into Settings.
// An empty path and unset env var leaves the defaults plus any
// ACTIONRPC_-prefixed environment overrides. service_name has no usable
// default: Load returns an error when nothing sets it.
func Load(path string) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("ACTIONRPC")
	v.AutomaticEnv()

	v.SetDefault("service_name", "")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("transport.queue_capacity", 10000)
	v.SetDefault("transport.queue_full_retries", 5)
	v.SetDefault("transport.receive_timeout", 5*time.Second)
	v.SetDefault("harakiri.timeout", 0)
	v.SetDefault("harakiri.shutdown_grace", 10*time.Second)

	if path == "" {
		path = envSettingsPath()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if s.ServiceName == "" {
		return Settings{}, fmt.Errorf("config: service_name is required")
	}
	return s, nil
}

func envSettingsPath() string {
	return os.Getenv(settingsEnvVar)
}
