package server

import (
	"context"
	"sync"
	"time"

	"github.com/zeusync/spacesync/internal/core/protocol"
)

var (
	_ protocol.Transport = (*LoopbackTransport)(nil)
	_ Peer               = (*LoopbackTransport)(nil)
)

// LoopbackTransport connects a client to a Relay in the same process. Frames
// are routed synchronously but still pass through the codec in both
// directions, so clients never share memory with each other or the relay.
type LoopbackTransport struct {
	relay *Relay
	codec protocol.Codec

	mu      sync.Mutex
	session *Session
	welcome *protocol.Welcome
	inbox   protocol.Inbox
}

func NewLoopbackTransport(relay *Relay) *LoopbackTransport {
	return &LoopbackTransport{relay: relay, codec: protocol.NewJSONCodec()}
}

func (l *LoopbackTransport) Connect(ctx context.Context, join protocol.Join) (*protocol.Welcome, error) {
	if l.Connected() {
		return nil, protocol.ErrAlreadyConnected
	}
	sess, err := l.relay.Join(ctx, join, l, protocol.PeerInfo{
		RemoteAddress: "loopback",
		Transport:     "loopback",
		ConnectedAt:   time.Now(),
	})
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.session = sess
	welcome := l.welcome
	l.welcome = nil
	if welcome == nil {
		return nil, protocol.ErrHandshake
	}
	return welcome, nil
}

func (l *LoopbackTransport) Disconnect(ctx context.Context) error {
	sess := l.detach()
	if sess == nil {
		return protocol.ErrNotConnected
	}
	sess.Leave(ctx, "leave")
	return nil
}

// Drop severs the link without a goodbye, the way a crashed client or a
// network failure would.
func (l *LoopbackTransport) Drop() {
	if sess := l.detach(); sess != nil {
		sess.Leave(context.Background(), "connection lost")
	}
}

func (l *LoopbackTransport) detach() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	sess := l.session
	l.session = nil
	return sess
}

func (l *LoopbackTransport) Send(f *protocol.Frame) error {
	l.mu.Lock()
	sess := l.session
	l.mu.Unlock()
	if sess == nil {
		return protocol.ErrNotConnected
	}
	cp, err := l.roundTrip(f)
	if err != nil {
		return err
	}
	return sess.Handle(context.Background(), cp)
}

func (l *LoopbackTransport) Drain() []*protocol.Frame { return l.inbox.Drain() }

func (l *LoopbackTransport) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session != nil
}

// Deliver implements Peer.
func (l *LoopbackTransport) Deliver(f *protocol.Frame) error {
	cp, err := l.roundTrip(f)
	if err != nil {
		return err
	}
	if cp.Type == protocol.MessageTypeWelcome {
		l.mu.Lock()
		l.welcome = cp.Welcome
		l.mu.Unlock()
		return nil
	}
	l.inbox.Push(cp)
	return nil
}

// Close implements Peer. The relay closes idle peers through it.
func (l *LoopbackTransport) Close(string) error {
	l.detach()
	return nil
}

func (l *LoopbackTransport) roundTrip(f *protocol.Frame) (*protocol.Frame, error) {
	data, err := l.codec.Encode(f)
	if err != nil {
		return nil, err
	}
	return l.codec.Decode(data)
}
