package middlewares

import (
	"context"
	"time"

	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/protocol"
)

// LoggingMiddleware logs the relay's connection lifecycle.
type LoggingMiddleware struct {
	logger log.Log
}

func NewLoggingMiddleware(logger log.Log) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger.With(log.String("middleware", "logging"))}
}

func (m *LoggingMiddleware) Name() string {
	return "logging"
}

// Priority returns the middleware priority
func (m *LoggingMiddleware) Priority() uint16 {
	return 1000
}

func (m *LoggingMiddleware) OnConnect(_ context.Context, peer protocol.PeerInfo) error {
	m.logger.Info("Client joined",
		log.Uint64("client_id", uint64(peer.ClientID)),
		log.String("space_id", peer.SpaceID),
		log.String("user_id", peer.UserID),
		log.String("remote_addr", peer.RemoteAddress),
		log.String("transport", peer.Transport),
	)
	return nil
}

func (m *LoggingMiddleware) BeforeHandle(_ context.Context, peer protocol.PeerInfo, f *protocol.Frame) error {
	m.logger.Debug("Relaying frame",
		log.Uint64("client_id", uint64(peer.ClientID)),
		log.String("space_id", peer.SpaceID),
		log.String("message_type", f.Type.String()),
	)
	return nil
}

func (m *LoggingMiddleware) OnDisconnect(_ context.Context, peer protocol.PeerInfo, reason string) {
	m.logger.Info("Client left",
		log.Uint64("client_id", uint64(peer.ClientID)),
		log.String("space_id", peer.SpaceID),
		log.String("reason", reason),
		log.Duration("duration", time.Since(peer.ConnectedAt)),
	)
}
