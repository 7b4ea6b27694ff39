package middlewares

import (
	"context"

	"github.com/zeusync/spacesync/internal/core/observability/metrics"
	"github.com/zeusync/spacesync/internal/core/protocol"
)

// MetricsMiddleware counts connected clients and routed frames.
type MetricsMiddleware struct {
	metrics *metrics.Collector
}

func NewMetricsMiddleware(m *metrics.Collector) *MetricsMiddleware {
	return &MetricsMiddleware{metrics: m}
}

func (m *MetricsMiddleware) Name() string {
	return "metrics"
}

// Priority returns the middleware priority
func (m *MetricsMiddleware) Priority() uint16 {
	return 100 // runs last
}

func (m *MetricsMiddleware) OnConnect(context.Context, protocol.PeerInfo) error {
	m.metrics.ConnectedClients.Inc()
	return nil
}

func (m *MetricsMiddleware) BeforeHandle(_ context.Context, _ protocol.PeerInfo, f *protocol.Frame) error {
	m.metrics.FramesRelayed.WithLabelValues(f.Type.String()).Inc()
	return nil
}

func (m *MetricsMiddleware) OnDisconnect(context.Context, protocol.PeerInfo, string) {
	m.metrics.ConnectedClients.Dec()
}
