package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/protocol"
)

const transportName = "websocket"

// Config holds WebSocket link settings.
type Config struct {
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ReadBufferSize  int           `yaml:"read_buffer_size" env:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" env:"WRITE_BUFFER_SIZE"`
	MaxMessageSize  int64         `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:    5 * time.Second,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  protocol.DefaultMaxFrameSize,
	}
}

var _ protocol.Conn = (*Connection)(nil)

// Connection carries frames as WebSocket text messages.
type Connection struct {
	conn   *websocket.Conn
	config Config
	codec  protocol.Codec
	closed int32

	// Write mutex to ensure thread-safe writes
	writeMu sync.Mutex

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
}

func NewConnection(conn *websocket.Conn, config Config) *Connection {
	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}
	codec := protocol.NewJSONCodec()
	if config.MaxMessageSize > 0 {
		codec.MaxFrameSize = int(config.MaxMessageSize)
	}
	return &Connection{conn: conn, config: config, codec: codec}
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
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err = c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	c.messagesSent.Add(1)
	return nil
}

// Receive blocks for the next frame. A deadline on ctx becomes the read
// deadline; cancellation without a deadline is observed only by Close.
func (c *Connection) Receive(ctx context.Context) (*protocol.Frame, error) {
	if c.IsClosed() {
		return nil, protocol.ErrConnectionClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	}

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.IsClosed() {
			return nil, protocol.ErrConnectionClosed
		}
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: websocket message type %d", protocol.ErrInvalidFrame, messageType)
	}
	c.messagesReceived.Add(1)
	return c.codec.Decode(data)
}

func (c *Connection) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// Close sends a close control frame carrying reason and closes the socket.
func (c *Connection) Close(reason string) error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Connection) Transport() string {
	return transportName
}

func (c *Connection) MessagesSent() uint64     { return c.messagesSent.Load() }
func (c *Connection) MessagesReceived() uint64 { return c.messagesReceived.Load() }

// Upgrade turns an HTTP request into a server-side Connection.
func Upgrade(w http.ResponseWriter, r *http.Request, config Config) (*Connection, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConnection(conn, config), nil
}

// Dialer returns a protocol.Dialer connecting to a relay's WebSocket
// endpoint, e.g. ws://127.0.0.1:8080/ws.
func Dialer(url string, config Config) protocol.Dialer {
	return func(ctx context.Context) (protocol.Conn, error) {
		d := websocket.Dialer{
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			HandshakeTimeout: protocol.DefaultHandshakeTimeout,
		}
		conn, _, err := d.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return NewConnection(conn, config), nil
	}
}

// NewTransport builds a client Transport speaking WebSocket.
func NewTransport(url string, config Config, logger log.Log) *protocol.StreamTransport {
	return protocol.NewStreamTransport(Dialer(url, config), logger, protocol.DefaultHandshakeTimeout)
}
