// Package config loads the TOML configuration with defaults for everything
// except the bot credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath         = "config.toml"
	DefaultHTTPAddr           = ":8080"
	DefaultScrollback         = 50
	DefaultBackoffBaseSeconds = 1
	DefaultBackoffCapSeconds  = 60
	DefaultFetchSeconds       = 15
	DefaultLookupSeconds      = 10
	DefaultCommandSeconds     = 30
)

type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	Discord DiscordConfig `toml:"discord"`
	Engine  EngineConfig  `toml:"engine"`
	Sink    SinkConfig    `toml:"sink"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DiscordConfig struct {
	Token   string `toml:"token" validate:"required"`
	GuildID string `toml:"guild_id" validate:"required"`

	BackoffBaseSeconds int `toml:"backoff_base_seconds" validate:"gte=0"`
	BackoffCapSeconds  int `toml:"backoff_cap_seconds" validate:"gte=0"`
}

type EngineConfig struct {
	Scrollback            int `toml:"scrollback" validate:"gte=0,lte=100"`
	MaxKnown              int `toml:"max_known" validate:"gte=0"`
	FetchTimeoutSeconds   int `toml:"fetch_timeout_seconds" validate:"gte=0"`
	LookupTimeoutSeconds  int `toml:"lookup_timeout_seconds" validate:"gte=0"`
	CommandTimeoutSeconds int `toml:"command_timeout_seconds" validate:"gte=0"`
}

// SinkConfig points the fact stream at a downstream websocket consumer.
// An empty URL disables the websocket sink; facts still reach in-process
// consumers.
type SinkConfig struct {
	WebsocketURL string `toml:"websocket_url" validate:"omitempty,url"`
}

func (c DiscordConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

func (c DiscordConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds) * time.Second
}

func (c EngineConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c EngineConfig) LookupTimeout() time.Duration {
	return time.Duration(c.LookupTimeoutSeconds) * time.Second
}

func (c EngineConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Discord: DiscordConfig{
			BackoffBaseSeconds: DefaultBackoffBaseSeconds,
			BackoffCapSeconds:  DefaultBackoffCapSeconds,
		},
		Engine: EngineConfig{
			Scrollback:            DefaultScrollback,
			FetchTimeoutSeconds:   DefaultFetchSeconds,
			LookupTimeoutSeconds:  DefaultLookupSeconds,
			CommandTimeoutSeconds: DefaultCommandSeconds,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the loaded configuration; the token and guild are the only
// required settings.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
