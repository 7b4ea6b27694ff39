package quic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/protocol"
)

func TestGenerateSelfSignedTLS(t *testing.T) {
	cfg, err := GenerateSelfSignedTLS()
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, []string{NextProto}, cfg.NextProtos)
}

func TestTransportHandshakeOverQUIC(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", nil, DefaultConfig(), log.NewNop())
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		defer conn.Close("done")
		join, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		_ = conn.Send(protocol.NewWelcome(protocol.Welcome{
			ClientID: 2, SpaceID: join.Join.SpaceID, Members: []models.ClientID{2},
		}))
		_, _ = conn.Receive(ctx)
	}()

	cfg := DefaultConfig()
	cfg.InsecureSkipVerify = true
	tr := NewTransport(ln.Addr().String(), cfg, log.NewNop())

	welcome, err := tr.Connect(ctx, protocol.Join{SpaceID: "arena"})
	require.NoError(t, err)
	assert.Equal(t, models.ClientID(2), welcome.ClientID)
	assert.Equal(t, "arena", welcome.SpaceID)

	assert.NoError(t, tr.Disconnect(ctx))
}
