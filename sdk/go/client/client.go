// Package client is the public entry point for applications: it dials a
// relay over WebSocket or QUIC and drives a space connection at a fixed
// tick rate.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/spacesync/internal/config"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/observability/metrics"
	"github.com/zeusync/spacesync/internal/core/protocol"
	"github.com/zeusync/spacesync/internal/core/protocol/quic"
	"github.com/zeusync/spacesync/internal/core/protocol/websocket"
	"github.com/zeusync/spacesync/internal/core/space"
)

type Config = config.ClientConfig

func DefaultConfig() Config { return config.DefaultClientConfig() }

// Client owns a space connection. The connection is not safe for concurrent
// use: while Run is active, touch it only from Do callbacks or the tick hook.
type Client struct {
	conn   *space.Connection
	config Config
	logger log.Log

	transport protocol.Transport
	metrics   *metrics.Collector
	onTick    func(*space.Connection, space.TickStats)

	tasks   chan func(*space.Connection)
	running atomic.Bool
	closed  atomic.Bool
	mu      sync.Mutex
}

type Option func(*Client)

func WithLogger(logger log.Log) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTransport replaces the dialed transport, e.g. with a loopback one.
func WithTransport(t protocol.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// OnTick runs after every tick driven by Run, on the tick goroutine.
func OnTick(fn func(*space.Connection, space.TickStats)) Option {
	return func(c *Client) { c.onTick = fn }
}

func New(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{config: cfg, tasks: make(chan func(*space.Connection), 64)}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.Provide()
	}
	if c.metrics == nil {
		c.metrics = metrics.NewIsolated()
	}
	if c.transport == nil {
		t, err := newTransport(cfg, c.logger)
		if err != nil {
			return nil, err
		}
		c.transport = t
	}
	if c.config.TickRate <= 0 {
		c.config.TickRate = config.DefaultClientConfig().TickRate
	}

	c.conn = space.New(c.transport,
		space.WithLogger(c.logger),
		space.WithConfig(cfg.Space),
		space.WithMetrics(c.metrics),
	)
	return c, nil
}

func newTransport(cfg Config, logger log.Log) (protocol.Transport, error) {
	switch cfg.Transport {
	case config.TransportWebSocket, "":
		return websocket.NewTransport(cfg.URL, cfg.WebSocket, logger), nil
	case config.TransportQUIC:
		return quic.NewTransport(cfg.URL, cfg.QUIC, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}

// Dial builds a client and joins spaceID.
func Dial(ctx context.Context, cfg Config, spaceID, userID string, opts ...Option) (*Client, error) {
	c, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx, spaceID, userID); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Connect(ctx context.Context, spaceID, userID string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.Connect(ctx, spaceID, userID); err != nil {
		return err
	}
	c.logger.Info("Joined space",
		log.String("space_id", spaceID),
		log.Uint64("client_id", uint64(c.conn.ClientID())),
	)
	return nil
}

// Connection exposes the underlying space connection.
func (c *Client) Connection() *space.Connection { return c.conn }

// Do schedules fn on the tick goroutine. Without an active Run, fn runs
// immediately.
func (c *Client) Do(ctx context.Context, fn func(*space.Connection)) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.running.Load() {
		c.mu.Lock()
		defer c.mu.Unlock()
		fn(c.conn)
		return nil
	}
	select {
	case c.tasks <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick advances the connection once.
func (c *Client) Tick(ctx context.Context) space.TickStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick(ctx)
}

func (c *Client) tick(ctx context.Context) space.TickStats {
drain:
	for {
		select {
		case fn := <-c.tasks:
			fn(c.conn)
		default:
			break drain
		}
	}
	stats := c.conn.Tick(ctx)
	if c.onTick != nil {
		c.onTick(c.conn, stats)
	}
	return stats
}

// Run ticks at the configured rate until ctx is done or ticks ticks have
// run. Zero ticks means no limit.
func (c *Client) Run(ctx context.Context, ticks int) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.running.Store(true)
	defer c.running.Store(false)

	ticker := time.NewTicker(c.config.TickRate)
	defer ticker.Stop()

	for n := 0; ticks <= 0 || n < ticks; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
	return nil
}

// Close leaves the space and releases the transport.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.conn.Connected() {
		return nil
	}
	return c.conn.Disconnect(ctx)
}
