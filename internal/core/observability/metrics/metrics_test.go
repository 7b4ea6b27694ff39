package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(WithRegistry(reg), WithNamespace("test"))

	c.FramesRelayed.WithLabelValues("entity_update").Add(3)
	c.ConnectedClients.Set(2)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[f.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[f.GetName()] += m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, values["test_relay_frames_relayed_total"])
	assert.Equal(t, 2.0, values["test_relay_connected_clients"])
}

func TestIsolatedCollectorsDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewIsolated()
		NewIsolated()
	})
}
