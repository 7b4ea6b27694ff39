package quic

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/protocol"
)

// Listener accepts relay clients over QUIC.
type Listener struct {
	listener *quic.Listener
	config   Config
	closed   int32 // atomic bool
	logger   log.Log
}

// Listen starts a QUIC listener on addr. A nil tlsConfig gets a generated
// self-signed certificate.
func Listen(addr string, tlsConfig *tls.Config, config Config, logger log.Log) (*Listener, error) {
	if tlsConfig == nil {
		var err error
		if tlsConfig, err = GenerateSelfSignedTLS(); err != nil {
			return nil, err
		}
	}
	ln, err := quic.ListenAddr(addr, tlsConfig, config.quicConfig())
	if err != nil {
		return nil, err
	}

	l := &Listener{
		listener: ln,
		config:   config,
		logger:   logger.With(log.String("listener_addr", ln.Addr().String())),
	}
	l.logger.Info("QUIC listener created")
	return l, nil
}

// Accept waits for a client and its frame stream.
func (l *Listener) Accept(ctx context.Context) (protocol.Conn, error) {
	if atomic.LoadInt32(&l.closed) == 1 {
		return nil, protocol.ErrConnectionClosed
	}

	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, err
	}

	l.logger.Debug("QUIC connection accepted",
		log.String("remote_addr", conn.RemoteAddr().String()))
	return newConnection(conn, stream, l.config), nil
}

func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *Listener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil // Already closed
	}
	l.logger.Info("Closing QUIC listener")
	return l.listener.Close()
}
