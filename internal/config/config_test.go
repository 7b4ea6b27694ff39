package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/spacesync/internal/core/observability/log"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, TransportWebSocket, cfg.Client.Transport)
	assert.Equal(t, 2, cfg.Client.Space.Election.SettleTicks)
	assert.Equal(t, log.LevelInfo, cfg.LogLevel())
}

func TestLoadYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := LoadYAML(strings.NewReader(`
log:
  level: debug
server:
  listen_addr: 0.0.0.0:9000
  allowed_spaces: [lobby, arena]
  relay:
    max_clients: 16
client:
  transport: quic
  space:
    updates_per_tick: 8
    election:
      settle_ticks: 4
`))
	require.NoError(t, err)

	assert.Equal(t, log.LevelDebug, cfg.LogLevel())
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"lobby", "arena"}, cfg.Server.AllowedSpaces)
	assert.Equal(t, 16, cfg.Server.Relay.MaxClients)
	assert.Equal(t, 1024, cfg.Server.Relay.OutboundBuffer)
	assert.Equal(t, TransportQUIC, cfg.Client.Transport)
	assert.Equal(t, 8, cfg.Client.Space.UpdatesPerTick)
	assert.Equal(t, 4, cfg.Client.Space.Election.SettleTicks)
	assert.True(t, cfg.Client.Space.Election.Enabled)
	assert.True(t, cfg.Client.Space.ScriptsEnabled)
}

func TestLoadYAMLRejectsUnknownKeys(t *testing.T) {
	_, err := LoadYAML(strings.NewReader("server:\n  listen: x\n"))
	assert.Error(t, err)
}

func TestLoadYAMLEmptyDocument(t *testing.T) {
	cfg, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(map[string]string{
		"SPACESYNC_LOG_LEVEL":                                  "warn",
		"SPACESYNC_SERVER_LISTEN_ADDR":                         "127.0.0.1:7000",
		"SPACESYNC_SERVER_ALLOWED_SPACES":                      "a,b",
		"SPACESYNC_SERVER_RELAY_MAX_CLIENTS":                   "3",
		"SPACESYNC_CLIENT_TICK_RATE":                           "20ms",
		"SPACESYNC_CLIENT_SPACE_ELECTION_ENABLED":              "false",
		"SPACESYNC_CLIENT_SPACE_REPLICATION_ENTITY_PATCH_RATE": "0s",
	}))

	assert.Equal(t, log.LevelWarn, cfg.LogLevel())
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"a", "b"}, cfg.Server.AllowedSpaces)
	assert.Equal(t, 3, cfg.Server.Relay.MaxClients)
	assert.Equal(t, 20*time.Millisecond, cfg.Client.TickRate)
	assert.False(t, cfg.Client.Space.Election.Enabled)
	assert.Zero(t, cfg.Client.Space.Replication.EntityPatchRate)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spacesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  quic_addr: 127.0.0.1:4433\n"), 0o600))

	t.Setenv("SPACESYNC_SERVER_SHUTDOWN_TIMEOUT", "3s")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4433", cfg.Server.QUICAddr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"log level":   func(c *Config) { c.Log.Level = "loud" },
		"listen addr": func(c *Config) { c.Server.ListenAddr = "" },
		"max clients": func(c *Config) { c.Server.Relay.MaxClients = 0 },
		"transport":   func(c *Config) { c.Client.Transport = "carrier-pigeon" },
		"tick rate":   func(c *Config) { c.Client.TickRate = 0 },
		"settle":      func(c *Config) { c.Client.Space.Election.SettleTicks = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
