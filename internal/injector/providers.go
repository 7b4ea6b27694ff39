package injector

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zeusync/spacesync/internal/config"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/observability/metrics"
	"github.com/zeusync/spacesync/internal/server"
)

// App is what the CLI commands run on.
type App struct {
	Config   *config.Config
	Logger   log.Log
	Metrics  *metrics.Collector
	Registry *prometheus.Registry
}

var ProviderSet = wire.NewSet(
	config.Load,
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg *config.Config) log.Log {
	return log.New(cfg.LogLevel())
}

func ProvideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func ProvideMetrics(reg *prometheus.Registry) *metrics.Collector {
	return metrics.New(metrics.WithRegistry(reg))
}

// NewServer builds the relay server from an App.
func NewServer(app *App) *server.Server {
	return server.NewServer(app.Config.Server,
		server.WithLogger(app.Logger),
		server.WithMetrics(app.Metrics, app.Registry),
	)
}
