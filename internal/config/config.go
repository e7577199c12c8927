// Package config loads and validates feed service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Stream  StreamConfig  `mapstructure:"stream"`
	SSE     SSEConfig     `mapstructure:"sse"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StreamConfig governs the broadcast registry and session monitor.
type StreamConfig struct {
	HeartbeatSeconds    int `mapstructure:"heartbeat_seconds"`
	PollSeconds         int `mapstructure:"poll_seconds"`
	QueueTimeoutSeconds int `mapstructure:"queue_timeout_seconds"`
	QueueSize           int `mapstructure:"queue_size"`
}

// SSEConfig sets the response headers that keep proxies from buffering
// the stream.
type SSEConfig struct {
	CacheControl   string `mapstructure:"cache_control"`
	Connection     string `mapstructure:"connection"`
	AccelBuffering string `mapstructure:"accel_buffering"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("stream.heartbeat_seconds", 30)
	v.SetDefault("stream.poll_seconds", 2)
	v.SetDefault("stream.queue_timeout_seconds", 1)
	v.SetDefault("stream.queue_size", 64)
	v.SetDefault("sse.cache_control", "no-cache")
	v.SetDefault("sse.connection", "keep-alive")
	v.SetDefault("sse.accel_buffering", "no")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Stream.HeartbeatSeconds <= 0 {
		return fmt.Errorf("stream.heartbeat_seconds must be > 0")
	}
	if c.Stream.PollSeconds <= 0 {
		return fmt.Errorf("stream.poll_seconds must be > 0")
	}
	if c.Stream.QueueTimeoutSeconds <= 0 {
		return fmt.Errorf("stream.queue_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// HeartbeatInterval converts the heartbeat setting to a duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Stream.HeartbeatSeconds) * time.Second
}

// PollInterval converts the monitor poll setting to a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Stream.PollSeconds) * time.Second
}

// QueueTimeout converts the per-subscriber publish wait to a duration.
func (c Config) QueueTimeout() time.Duration {
	return time.Duration(c.Stream.QueueTimeoutSeconds) * time.Second
}
