package space

import (
	"time"

	"github.com/zeusync/spacesync/internal/core/election"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/observability/metrics"
	"github.com/zeusync/spacesync/internal/core/replication"
)

// Config tunes one space connection.
type Config struct {
	// UpdatesPerTick is the replication budget of a single Tick. Zero or less
	// sends everything pending.
	UpdatesPerTick int                `yaml:"updates_per_tick" env:"UPDATES_PER_TICK"`
	ScriptsEnabled bool               `yaml:"scripts_enabled" env:"SCRIPTS_ENABLED"`
	Replication    replication.Config `yaml:"replication" envPrefix:"REPLICATION_"`
	Election       election.Config    `yaml:"election" envPrefix:"ELECTION_"`
}

func DefaultConfig() Config {
	return Config{
		UpdatesPerTick: 32,
		ScriptsEnabled: true,
		Replication:    replication.DefaultConfig(),
		Election:       election.DefaultConfig(),
	}
}

type Option func(*Connection)

func WithLogger(logger log.Log) Option {
	return func(c *Connection) { c.logger = logger }
}

// WithClock replaces time.Now for tick deltas and replication throttling.
func WithClock(now func() time.Time) Option {
	return func(c *Connection) { c.now = now }
}

func WithConfig(config Config) Option {
	return func(c *Connection) { c.config = config }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Connection) { c.metrics = m }
}
