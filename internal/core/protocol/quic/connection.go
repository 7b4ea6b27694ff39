package quic

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/protocol"
)

var _ protocol.Conn = (*Connection)(nil)

// Connection wraps one QUIC connection and the stream carrying its frames.
type Connection struct {
	conn   *quic.Conn
	stream *quic.Stream
	config Config
	codec  *protocol.JSONCodec
	closed int32

	writeMu sync.Mutex
}

func newConnection(conn *quic.Conn, stream *quic.Stream, config Config) *Connection {
	codec := protocol.NewJSONCodec()
	if config.MaxMessageSize > 0 {
		codec.MaxFrameSize = config.MaxMessageSize
	}
	return &Connection{conn: conn, stream: stream, config: config, codec: codec}
}

func (c *Connection) Send(f *protocol.Frame) error {
	if c.IsClosed() {
		return protocol.ErrConnectionClosed
	}
	data, err := c.codec.Encode(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.config.WriteTimeout > 0 {
		_ = c.stream.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return protocol.WriteFrame(c.stream, data)
}

func (c *Connection) Receive(ctx context.Context) (*protocol.Frame, error) {
	if c.IsClosed() {
		return nil, protocol.ErrConnectionClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.stream.SetReadDeadline(deadline)
		defer func() { _ = c.stream.SetReadDeadline(time.Time{}) }()
	}

	data, err := protocol.ReadFrame(c.stream, c.codec.MaxFrameSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) || c.IsClosed() {
			return nil, protocol.ErrConnectionClosed
		}
		return nil, err
	}
	return c.codec.Decode(data)
}

func (c *Connection) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Connection) Close(reason string) error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.stream.Close()
	c.writeMu.Unlock()
	return c.conn.CloseWithError(0, reason)
}

func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Connection) Transport() string {
	return transportName
}

// Dialer returns a protocol.Dialer opening a QUIC connection to addr.
func Dialer(addr string, config Config) protocol.Dialer {
	return func(ctx context.Context) (protocol.Conn, error) {
		conn, err := quic.DialAddr(ctx, addr, config.ClientTLS(), config.quicConfig())
		if err != nil {
			return nil, err
		}
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			_ = conn.CloseWithError(0, "stream open failed")
			return nil, err
		}
		return newConnection(conn, stream, config), nil
	}
}

// NewTransport builds a client Transport speaking QUIC.
func NewTransport(addr string, config Config, logger log.Log) *protocol.StreamTransport {
	return protocol.NewStreamTransport(Dialer(addr, config), logger, protocol.DefaultHandshakeTimeout)
}
