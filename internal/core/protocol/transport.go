package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
)

// Transport is the client side of a space connection.
type Transport interface {
	// Connect joins a space and blocks until the relay welcomes the client.
	Connect(ctx context.Context, join Join) (*Welcome, error)
	Disconnect(ctx context.Context) error
	Send(f *Frame) error
	// Drain returns the frames received since the previous call.
	Drain() []*Frame
	Connected() bool
}

// DefaultHandshakeTimeout bounds the wait for a Welcome.
const DefaultHandshakeTimeout = 10 * time.Second

// Dialer opens a fresh Conn to the relay.
type Dialer func(ctx context.Context) (Conn, error)

// StreamTransport implements Transport over any Conn produced by a Dialer.
type StreamTransport struct {
	dial             Dialer
	logger           log.Log
	handshakeTimeout time.Duration

	state    atomic.Int32
	mu       sync.Mutex
	conn     Conn
	clientID models.ClientID
	inbox    Inbox
	done     chan struct{}
}

var _ Transport = (*StreamTransport)(nil)

func NewStreamTransport(dial Dialer, logger log.Log, handshakeTimeout time.Duration) *StreamTransport {
	if logger == nil {
		logger = log.Provide()
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &StreamTransport{
		dial:             dial,
		logger:           logger.With(log.String("component", "transport")),
		handshakeTimeout: handshakeTimeout,
	}
}

func (t *StreamTransport) State() ConnectionState {
	return ConnectionState(t.state.Load())
}

func (t *StreamTransport) Connected() bool {
	return t.State() == ConnectionStateConnected
}

func (t *StreamTransport) ClientID() models.ClientID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientID
}

func (t *StreamTransport) Connect(ctx context.Context, join Join) (*Welcome, error) {
	if !t.state.CompareAndSwap(int32(ConnectionStateDisconnected), int32(ConnectionStateConnecting)) {
		return nil, ErrAlreadyConnected
	}

	welcome, conn, err := t.handshake(ctx, join)
	if err != nil {
		t.state.Store(int32(ConnectionStateDisconnected))
		return nil, err
	}

	t.mu.Lock()
	t.conn = conn
	t.clientID = welcome.ClientID
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	t.state.Store(int32(ConnectionStateConnected))
	go t.readLoop(conn, done)

	t.logger.Info("Joined space",
		log.String("space_id", welcome.SpaceID),
		log.Uint64("client_id", uint64(welcome.ClientID)),
		log.String("transport", conn.Transport()),
		log.Int("members", len(welcome.Members)),
	)
	return welcome, nil
}

func (t *StreamTransport) handshake(ctx context.Context, join Join) (*Welcome, Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	defer cancel()

	conn, err := t.dial(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial: %w", ErrHandshake, err)
	}

	fail := func(err error) (*Welcome, Conn, error) {
		_ = conn.Close("handshake failed")
		return nil, nil, err
	}

	if err = conn.Send(NewJoin(join.SpaceID, join.UserID)); err != nil {
		return fail(fmt.Errorf("%w: %w", ErrHandshake, err))
	}

	f, err := conn.Receive(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fail(ErrHandshakeTimeout)
		}
		return fail(fmt.Errorf("%w: %w", ErrHandshake, err))
	}
	if f.Type != MessageTypeWelcome || f.Welcome == nil {
		return fail(fmt.Errorf("%w: %s during handshake", ErrUnexpectedMessage, f.Type))
	}
	return f.Welcome, conn, nil
}

func (t *StreamTransport) readLoop(conn Conn, done chan struct{}) {
	defer close(done)
	for {
		f, err := conn.Receive(context.Background())
		if err != nil {
			if t.state.CompareAndSwap(int32(ConnectionStateConnected), int32(ConnectionStateDisconnected)) {
				t.logger.Warn("Connection lost", log.Error(err))
			}
			return
		}
		t.inbox.Push(f)
	}
}

func (t *StreamTransport) Send(f *Frame) error {
	if !t.Connected() {
		return ErrNotConnected
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	return conn.Send(f)
}

func (t *StreamTransport) Drain() []*Frame {
	return t.inbox.Drain()
}

// Disconnect sends Leave, closes the link and waits for the reader to stop
// or for ctx to expire.
func (t *StreamTransport) Disconnect(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(ConnectionStateConnected), int32(ConnectionStateDisconnecting)) {
		return ErrNotConnected
	}
	defer t.state.Store(int32(ConnectionStateDisconnected))

	t.mu.Lock()
	conn, done := t.conn, t.done
	t.mu.Unlock()

	var errs []error
	if err := conn.Send(NewLeave()); err != nil {
		errs = append(errs, err)
	}
	if err := conn.Close("leave"); err != nil {
		errs = append(errs, err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
