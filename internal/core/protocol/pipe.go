package protocol

import (
	"context"
	"sync"
)

// Pipe returns two connected in-memory Conns. Frames pass through the JSON
// codec so both ends observe exactly what a network peer would.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})
	codec := NewJSONCodec()

	a := &pipeConn{codec: codec, in: ba, out: ab, closed: aClosed, peerClosed: bClosed, addr: "pipe:a"}
	b := &pipeConn{codec: codec, in: ab, out: ba, closed: bClosed, peerClosed: aClosed, addr: "pipe:b"}
	return a, b
}

type pipeConn struct {
	codec      Codec
	in         <-chan []byte
	out        chan<- []byte
	closed     chan struct{}
	peerClosed <-chan struct{}
	once       sync.Once
	addr       string
}

func (p *pipeConn) Send(f *Frame) error {
	data, err := p.codec.Encode(f)
	if err != nil {
		return err
	}
	select {
	case <-p.closed:
		return ErrConnectionClosed
	case <-p.peerClosed:
		return ErrConnectionClosed
	case p.out <- data:
		return nil
	}
}

func (p *pipeConn) Receive(ctx context.Context) (*Frame, error) {
	// buffered frames win over a close from the other side
	select {
	case data := <-p.in:
		return p.codec.Decode(data)
	default:
	}
	select {
	case data := <-p.in:
		return p.codec.Decode(data)
	case <-p.closed:
		return nil, ErrConnectionClosed
	case <-p.peerClosed:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Close(string) error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) RemoteAddr() string { return p.addr }
func (p *pipeConn) Transport() string  { return "pipe" }
