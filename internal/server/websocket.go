package server

import (
	"context"
	"net/http"

	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/protocol/websocket"
)

// handleWebSocket upgrades the request and hands the link to the relay. The
// first frame on the link must be a Join.
func (s *Server) handleWebSocket(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Upgrade(w, r, s.config.WebSocket)
		if err != nil {
			s.logger.Warn("WebSocket upgrade failed",
				log.String("remote_addr", r.RemoteAddr),
				log.Error(err),
			)
			return
		}
		s.serve(ctx, conn)
	}
}
