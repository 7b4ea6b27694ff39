package middlewares

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/observability/metrics"
	"github.com/zeusync/spacesync/internal/core/protocol"
)

var ErrRateLimited = errors.New("client exceeded its frame rate")

// RateLimitConfig bounds frames per second per client. Excess frames are
// logged and counted. Enforce additionally drops excess network events;
// entity frames are never dropped since the sender has already committed
// them to its replica.
type RateLimitConfig struct {
	FramesPerSecond float64 `yaml:"frames_per_second" env:"FRAMES_PER_SECOND"`
	Burst           int     `yaml:"burst" env:"BURST"`
	Enforce         bool    `yaml:"enforce" env:"ENFORCE"`
}

// RateLimitMiddleware implements rate limiting
type RateLimitMiddleware struct {
	config  RateLimitConfig
	logger  log.Log
	metrics *metrics.Collector
	clients sync.Map // models.ClientID -> *rate.Limiter
}

func NewRateLimitMiddleware(config RateLimitConfig, logger log.Log, m *metrics.Collector) *RateLimitMiddleware {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &RateLimitMiddleware{
		config:  config,
		logger:  logger.With(log.String("middleware", "rate_limit")),
		metrics: m,
	}
}

func (m *RateLimitMiddleware) Name() string {
	return "rate_limit"
}

// Priority returns the middleware priority
func (m *RateLimitMiddleware) Priority() uint16 {
	return 800
}

func (m *RateLimitMiddleware) OnConnect(_ context.Context, peer protocol.PeerInfo) error {
	m.clients.Store(peer.ClientID, rate.NewLimiter(rate.Limit(m.config.FramesPerSecond), m.config.Burst))
	return nil
}

func (m *RateLimitMiddleware) BeforeHandle(_ context.Context, peer protocol.PeerInfo, f *protocol.Frame) error {
	if m.config.FramesPerSecond <= 0 || f.Type == protocol.MessageTypeLeave {
		return nil
	}
	if m.limiter(peer.ClientID).Allow() {
		return nil
	}

	m.metrics.RateLimited.Inc()
	m.logger.Warn("Rate limit exceeded",
		log.Uint64("client_id", uint64(peer.ClientID)),
		log.String("message_type", f.Type.String()),
		log.Float64("limit", m.config.FramesPerSecond),
	)
	if m.config.Enforce && f.Type == protocol.MessageTypeNetworkEvent {
		return ErrRateLimited
	}
	return nil
}

func (m *RateLimitMiddleware) OnDisconnect(_ context.Context, peer protocol.PeerInfo, _ string) {
	m.clients.Delete(peer.ClientID)
}

func (m *RateLimitMiddleware) limiter(id models.ClientID) *rate.Limiter {
	if l, ok := m.clients.Load(id); ok {
		return l.(*rate.Limiter)
	}
	l, _ := m.clients.LoadOrStore(id, rate.NewLimiter(rate.Limit(m.config.FramesPerSecond), m.config.Burst))
	return l.(*rate.Limiter)
}
