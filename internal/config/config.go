// Package config loads the relay and client settings from a YAML file with
// SPACESYNC_* environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/protocol/quic"
	"github.com/zeusync/spacesync/internal/core/protocol/websocket"
	"github.com/zeusync/spacesync/internal/core/space"
	"github.com/zeusync/spacesync/internal/server"
)

const EnvPrefix = "SPACESYNC_"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Log    LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Server server.Config `yaml:"server" envPrefix:"SERVER_"`
	Client ClientConfig  `yaml:"client" envPrefix:"CLIENT_"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// ClientConfig drives clients built by the CLI and the SDK. Replication,
// election and scripting settings live in Space.
type ClientConfig struct {
	URL       string           `yaml:"url" env:"URL"`
	Transport string           `yaml:"transport" env:"TRANSPORT"`
	TickRate  time.Duration    `yaml:"tick_rate" env:"TICK_RATE"`
	Space     space.Config     `yaml:"space" envPrefix:"SPACE_"`
	WebSocket websocket.Config `yaml:"websocket" envPrefix:"WEBSOCKET_"`
	QUIC      quic.Config      `yaml:"quic" envPrefix:"QUIC_"`
}

const (
	TransportWebSocket = "websocket"
	TransportQUIC      = "quic"
)

func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info"}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:       "ws://127.0.0.1:8080/ws",
		Transport: TransportWebSocket,
		TickRate:  50 * time.Millisecond,
		Space:     space.DefaultConfig(),
		WebSocket: websocket.DefaultConfig(),
		QUIC:      quic.DefaultConfig(),
	}
}

func Default() *Config {
	return &Config{
		Log:    DefaultLogConfig(),
		Server: server.DefaultServerConfig(),
		Client: DefaultClientConfig(),
	}
}

// Load reads path (skipped when empty) over the defaults, then applies the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadYAML decodes r over the defaults without consulting the environment.
func LoadYAML(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(r); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from SPACESYNC_* variables. A nil environment
// means the process environment.
func (c *Config) ApplyEnv(environment map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: environment}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error", "fatal", "silent", "off":
	default:
		return invalid("log.level", "unknown level %q", c.Log.Level)
	}

	if c.Server.ListenAddr == "" {
		return invalid("server.listen_addr", "required")
	}
	if c.Server.Relay.MaxClients <= 0 {
		return invalid("server.relay.max_clients", "must be positive, got %d", c.Server.Relay.MaxClients)
	}
	if c.Server.Relay.OutboundBuffer <= 0 {
		return invalid("server.relay.outbound_buffer", "must be positive, got %d", c.Server.Relay.OutboundBuffer)
	}
	if c.Server.ClientTimeout < 0 {
		return invalid("server.client_timeout", "must not be negative")
	}
	if c.Server.RateLimit.FramesPerSecond < 0 {
		return invalid("server.rate_limit.frames_per_second", "must not be negative")
	}

	switch c.Client.Transport {
	case TransportWebSocket, TransportQUIC:
	default:
		return invalid("client.transport", "unknown transport %q", c.Client.Transport)
	}
	if c.Client.TickRate <= 0 {
		return invalid("client.tick_rate", "must be positive")
	}
	if c.Client.Space.Election.SettleTicks < 0 {
		return invalid("client.space.election.settle_ticks", "must not be negative")
	}
	if c.Client.Space.Replication.EntityPatchRate < 0 {
		return invalid("client.space.replication.entity_patch_rate", "must not be negative")
	}
	if c.Client.Space.Replication.FramesPerSecond < 0 {
		return invalid("client.space.replication.frames_per_second", "must not be negative")
	}
	return nil
}

// LogLevel is the configured level as a log.Level.
func (c *Config) LogLevel() log.Level {
	return log.ParseLevel(c.Log.Level)
}
