package middlewares

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/observability/metrics"
	"github.com/zeusync/spacesync/internal/core/protocol"
)

func peer() protocol.PeerInfo {
	return protocol.PeerInfo{ClientID: 7, SpaceID: "lobby", ConnectedAt: time.Now()}
}

func TestRateLimitEnforced(t *testing.T) {
	ctx := context.Background()
	m := NewRateLimitMiddleware(RateLimitConfig{FramesPerSecond: 0.001, Burst: 2, Enforce: true}, log.NewNop(), metrics.NewIsolated())
	require.NoError(t, m.OnConnect(ctx, peer()))

	f := protocol.NewNetworkEvent("ping", nil, 0)
	assert.NoError(t, m.BeforeHandle(ctx, peer(), f))
	assert.NoError(t, m.BeforeHandle(ctx, peer(), f))
	assert.ErrorIs(t, m.BeforeHandle(ctx, peer(), f), ErrRateLimited)
	assert.NoError(t, m.BeforeHandle(ctx, peer(), protocol.NewLeave()))

	// entity frames are committed by the sender, so they always pass
	assert.NoError(t, m.BeforeHandle(ctx, peer(), protocol.NewEntityDestroy(models.DurableID(7, 1))))
}

type recorder struct {
	warned [][]log.Field
}

func (r *recorder) Log(log.Level, string, ...log.Field) {}
func (r *recorder) Debug(string, ...log.Field)          {}
func (r *recorder) Info(string, ...log.Field)           {}
func (r *recorder) Warn(_ string, fields ...log.Field)  { r.warned = append(r.warned, fields) }
func (r *recorder) Error(string, ...log.Field)          {}
func (r *recorder) Fatal(string, ...log.Field)          {}
func (r *recorder) With(...log.Field) log.Log           { return r }
func (r *recorder) WithContext(context.Context) log.Log { return r }
func (r *recorder) SetLevel(log.Level)                  {}
func (r *recorder) GetLevel() log.Level                 { return log.LevelDebug }

func TestRateLimitLogsFullClientID(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m := NewRateLimitMiddleware(RateLimitConfig{FramesPerSecond: 0.001, Burst: 1}, rec, metrics.NewIsolated())

	big := peer()
	big.ClientID = models.ClientID(1<<40 + 3)
	f := protocol.NewNetworkEvent("ping", nil, 0)
	require.NoError(t, m.BeforeHandle(ctx, big, f))
	require.NoError(t, m.BeforeHandle(ctx, big, f))

	require.Len(t, rec.warned, 1)
	var found bool
	for _, field := range rec.warned[0] {
		if field.Key == "client_id" {
			found = true
			assert.Equal(t, uint64(1<<40+3), field.Value)
		}
	}
	assert.True(t, found)
}

func TestRateLimitObserveOnly(t *testing.T) {
	ctx := context.Background()
	m := NewRateLimitMiddleware(RateLimitConfig{FramesPerSecond: 0.001, Burst: 1}, log.NewNop(), metrics.NewIsolated())

	f := protocol.NewClientJoined(7)
	for range 3 {
		assert.NoError(t, m.BeforeHandle(ctx, peer(), f))
	}
}

func TestAccessMiddleware(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, NewAccessMiddleware(nil).OnConnect(ctx, peer()))
	assert.NoError(t, NewAccessMiddleware([]string{"lobby"}).OnConnect(ctx, peer()))
	assert.ErrorIs(t, NewAccessMiddleware([]string{"arena"}).OnConnect(ctx, peer()), ErrSpaceNotAllowed)
}

func TestChainOrdersByPriority(t *testing.T) {
	chain := protocol.NewChain(
		NewMetricsMiddleware(metrics.NewIsolated()),
		NewLoggingMiddleware(log.NewNop()),
		nil,
		NewAccessMiddleware(nil),
	)
	require.Len(t, chain, 3)
	assert.Equal(t, "logging", chain[0].Name())
	assert.Equal(t, "access", chain[1].Name())
	assert.Equal(t, "metrics", chain[2].Name())
}
