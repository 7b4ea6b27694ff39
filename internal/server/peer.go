package server

import (
	"sync"

	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/observability/metrics"
	"github.com/zeusync/spacesync/internal/core/protocol"
)

// connPeer queues outbound frames for a network link and writes them from
// its own goroutine so a slow client never stalls a space. A client that
// falls a full buffer behind is disconnected.
type connPeer struct {
	conn    protocol.Conn
	out     chan *protocol.Frame
	done    chan struct{}
	once    sync.Once
	logger  log.Log
	metrics *metrics.Collector
}

func newConnPeer(conn protocol.Conn, buffer int, logger log.Log, m *metrics.Collector) *connPeer {
	if buffer <= 0 {
		buffer = 1
	}
	return &connPeer{
		conn:    conn,
		out:     make(chan *protocol.Frame, buffer),
		done:    make(chan struct{}),
		logger:  logger.With(log.String("remote_addr", conn.RemoteAddr())),
		metrics: m,
	}
}

func (p *connPeer) run() {
	for {
		select {
		case <-p.done:
			return
		case f := <-p.out:
			if err := p.conn.Send(f); err != nil {
				p.logger.Debug("Write failed", log.Error(err))
				_ = p.Close("write failed")
				return
			}
		}
	}
}

func (p *connPeer) Deliver(f *protocol.Frame) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.out <- f:
		return nil
	default:
		p.metrics.FramesDropped.WithLabelValues("backpressure").Inc()
		_ = p.Close("outbound buffer full")
		return ErrPeerOverflow
	}
}

func (p *connPeer) Close(reason string) error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.conn.Close(reason)
	})
	return err
}
