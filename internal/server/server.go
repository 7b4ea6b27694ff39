// Package server hosts the relay: it accepts client links over WebSocket and
// QUIC and routes frames between the members of each space.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/observability/metrics"
	"github.com/zeusync/spacesync/internal/core/protocol"
	"github.com/zeusync/spacesync/internal/core/protocol/middlewares"
	"github.com/zeusync/spacesync/internal/core/protocol/quic"
	"github.com/zeusync/spacesync/internal/core/protocol/websocket"
)

// Config holds server configuration
type Config struct {
	// ListenAddr serves /ws, /health and /metrics.
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	// QUICAddr enables the QUIC listener when set.
	QUICAddr string `yaml:"quic_addr" env:"QUIC_ADDR"`

	// AllowedSpaces restricts the spaces clients may join. Empty allows all.
	AllowedSpaces []string `yaml:"allowed_spaces" env:"ALLOWED_SPACES" envSeparator:","`

	// ClientTimeout drops clients silent for that long. Zero disables it.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	ClientTimeout       time.Duration `yaml:"client_timeout" env:"CLIENT_TIMEOUT"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	Relay     RelayConfig                 `yaml:"relay" envPrefix:"RELAY_"`
	RateLimit middlewares.RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	WebSocket websocket.Config            `yaml:"websocket" envPrefix:"WEBSOCKET_"`
	QUIC      quic.Config                 `yaml:"quic" envPrefix:"QUIC_"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:          "127.0.0.1:8080",
		HealthCheckInterval: 30 * time.Second,
		ShutdownTimeout:     10 * time.Second,
		Relay:               DefaultRelayConfig(),
		RateLimit:           middlewares.RateLimitConfig{FramesPerSecond: 120, Burst: 240},
		WebSocket:           websocket.DefaultConfig(),
		QUIC:                quic.DefaultConfig(),
	}
}

// Stats contains server statistics
type Stats struct {
	Clients  int64
	Spaces   int
	Running  bool
	HTTPAddr string
	QUICAddr string
}

// Server owns a Relay and the listeners feeding it.
type Server struct {
	config   Config
	logger   log.Log
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	relay    *Relay

	running atomic.Bool
	closed  atomic.Bool

	mu       sync.Mutex
	httpLn   net.Listener
	http     *http.Server
	quicLn   *quic.Listener
	tls      *tls.Config
	cancel   context.CancelFunc
	group    *errgroup.Group
	handlers sync.WaitGroup
}

type Option func(*Server)

func WithLogger(logger log.Log) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the collector and the registry served on /metrics.
func WithMetrics(m *metrics.Collector, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithTLS sets the QUIC certificate. A self-signed one is generated otherwise.
func WithTLS(config *tls.Config) Option {
	return func(s *Server) { s.tls = config }
}

func NewServer(config Config, opts ...Option) *Server {
	s := &Server{config: config}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Provide()
	}
	s.logger = s.logger.With(log.String("component", "server"))
	if s.metrics == nil {
		reg := prometheus.NewRegistry()
		s.metrics = metrics.New(metrics.WithRegistry(reg))
		s.gatherer = reg
	}

	chain := protocol.NewChain(
		middlewares.NewLoggingMiddleware(s.logger),
		middlewares.NewAccessMiddleware(config.AllowedSpaces),
		middlewares.NewRateLimitMiddleware(config.RateLimit, s.logger, s.metrics),
		middlewares.NewMetricsMiddleware(s.metrics),
	)
	s.relay = NewRelay(config.Relay, chain, s.logger, s.metrics)

	s.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.String("quic_addr", config.QUICAddr),
		log.Int("max_clients", config.Relay.MaxClients),
	)
	return s
}

func (s *Server) Relay() *Relay { return s.relay }

// Start binds the listeners and serves them in the background until Stop or
// until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	httpLn, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("%w: %w", ErrListenerFailed, err)
	}

	var quicLn *quic.Listener
	if s.config.QUICAddr != "" {
		quicLn, err = quic.Listen(s.config.QUICAddr, s.tls, s.config.QUIC, s.logger)
		if err != nil {
			_ = httpLn.Close()
			s.running.Store(false)
			return fmt.Errorf("%w: %w", ErrListenerFailed, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           s.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpLn, s.http, s.quicLn = httpLn, srv, quicLn
	s.cancel, s.group = cancel, group
	s.mu.Unlock()

	group.Go(func() error {
		if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if quicLn != nil {
		group.Go(func() error { return s.acceptQUIC(ctx, quicLn) })
	}
	group.Go(func() error {
		s.healthMonitor(ctx)
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		return s.shutdown()
	})

	s.logger.Info("Server started", log.String("http_addr", httpLn.Addr().String()))
	return nil
}

// Wait blocks until the listeners stop and returns the first failure.
func (s *Server) Wait() error {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()
	if group == nil {
		return ErrServerNotRunning
	}
	return group.Wait()
}

// Stop closes the listeners, disconnects every client and waits for the
// background goroutines.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return ErrServerNotRunning
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
	return s.Wait()
}

// Close stops the server for good.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.running.Load() {
		return s.Stop()
	}
	return nil
}

func (s *Server) shutdown() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Info("Stopping server")

	s.mu.Lock()
	srv, quicLn := s.http, s.quicLn
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if quicLn != nil {
		if err := quicLn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sess := range s.relay.Sessions() {
		_ = sess.Close("server shutting down")
	}
	s.handlers.Wait()

	s.logger.Info("Server stopped")
	return errors.Join(errs...)
}

// Stats returns server statistics
func (s *Server) Stats() Stats {
	st := Stats{
		Clients: s.relay.Clients(),
		Spaces:  len(s.relay.Spaces()),
		Running: s.running.Load(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLn != nil {
		st.HTTPAddr = s.httpLn.Addr().String()
	}
	if s.quicLn != nil {
		st.QUICAddr = s.quicLn.Addr().String()
	}
	return st
}

func (s *Server) acceptQUIC(ctx context.Context, ln *quic.Listener) error {
	s.logger.Info("QUIC listener started", log.String("addr", ln.Addr().String()))
	defer s.logger.Debug("QUIC listener stopped")

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("Failed to accept connection", log.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		s.serve(ctx, conn)
	}
}

// serve runs a link on its own goroutine, tracked for shutdown.
func (s *Server) serve(ctx context.Context, conn protocol.Conn) {
	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		if err := s.relay.ServeConn(ctx, conn); err != nil {
			s.logger.Debug("Link closed with error",
				log.String("remote_addr", conn.RemoteAddr()),
				log.String("transport", conn.Transport()),
				log.Error(err),
			)
		}
	}()
}

// healthMonitor disconnects clients that went quiet for longer than
// ClientTimeout.
func (s *Server) healthMonitor(ctx context.Context) {
	if s.config.HealthCheckInterval <= 0 || s.config.ClientTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.performHealthChecks(ctx, now)
		}
	}
}

func (s *Server) performHealthChecks(ctx context.Context, now time.Time) {
	var dropped int
	for _, sess := range s.relay.Sessions() {
		if now.Sub(sess.LastSeen()) <= s.config.ClientTimeout {
			continue
		}
		s.logger.Info("Disconnecting inactive client",
			log.String("space_id", sess.SpaceID()),
			log.Uint64("client_id", uint64(sess.ClientID())),
		)
		_ = sess.Close("idle timeout")
		sess.Leave(ctx, "idle timeout")
		dropped++
	}
	if dropped > 0 {
		s.logger.Info("Health check completed",
			log.Int("disconnected_clients", dropped),
			log.Int64("active_clients", s.relay.Clients()),
		)
	}
}
