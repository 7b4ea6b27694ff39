package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spacesync"

// Config configures the collector.
type Config struct {
	Namespace   string
	ConstLabels prometheus.Labels
	Registry    prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(ns string) Option {
	return func(c *Config) { c.Namespace = ns }
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

func WithRegistry(r prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = r }
}

// Collector groups every metric exported by the relay and the client runtime.
type Collector struct {
	// relay
	ConnectedClients prometheus.Gauge
	ActiveSpaces     prometheus.Gauge
	FramesRelayed    *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	HandleDuration   prometheus.Histogram
	RateLimited      prometheus.Counter

	// client
	UpdatesSent     *prometheus.CounterVec
	UpdatesDeferred prometheus.Counter
	QueueDepth      prometheus.Gauge
	TickDuration    prometheus.Histogram
	Elections       prometheus.Counter
	ScriptErrors    prometheus.Counter
}

// New registers the collector on the configured registry, the default
// Prometheus registerer unless overridden.
func New(opts ...Option) *Collector {
	cfg := Config{Namespace: namespace, Registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&cfg)
	}
	f := promauto.With(cfg.Registry)

	counter := func(subsystem, name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: cfg.ConstLabels,
		})
	}
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: subsystem, Name: name, Help: help, ConstLabels: cfg.ConstLabels,
		})
	}

	return &Collector{
		ConnectedClients: gauge("relay", "connected_clients", "Clients currently joined to a space"),
		ActiveSpaces:     gauge("relay", "active_spaces", "Spaces with at least one member"),
		FramesRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: "relay", Name: "frames_relayed_total",
			Help: "Frames routed by the relay", ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: "relay", Name: "frames_dropped_total",
			Help: "Frames the relay refused to route", ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),
		HandleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: "relay", Name: "handle_duration_seconds",
			Help: "Time spent routing one frame", ConstLabels: cfg.ConstLabels,
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
		RateLimited: counter("relay", "rate_limited_total", "Frames received above the per-client rate"),

		UpdatesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: "client", Name: "updates_sent_total",
			Help: "Entity updates sent by the replication queue", ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),
		UpdatesDeferred: counter("client", "updates_deferred_total", "Entity updates held back by throttling"),
		QueueDepth:      gauge("client", "queue_depth", "Entities waiting in the replication queue"),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: "client", Name: "tick_duration_seconds",
			Help: "Duration of one connection tick", ConstLabels: cfg.ConstLabels,
			Buckets: prometheus.DefBuckets,
		}),
		Elections:    counter("client", "elections_total", "Leader elections completed"),
		ScriptErrors: counter("client", "script_errors_total", "Script callbacks that raised an error"),
	}
}

// NewIsolated builds a collector on a private registry. Used by tests and by
// clients that do not export metrics.
func NewIsolated() *Collector {
	return New(WithRegistry(prometheus.NewRegistry()))
}
