package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/observability/metrics"
	"github.com/zeusync/spacesync/internal/core/protocol"
)

// Peer is the relay's handle on one client link. Deliver must not block.
type Peer interface {
	Deliver(f *protocol.Frame) error
	Close(reason string) error
}

// RelayConfig bounds the relay.
type RelayConfig struct {
	MaxClients       int           `yaml:"max_clients" env:"MAX_CLIENTS"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	OutboundBuffer   int           `yaml:"outbound_buffer" env:"OUTBOUND_BUFFER"`
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		MaxClients:       10_000,
		HandshakeTimeout: protocol.DefaultHandshakeTimeout,
		OutboundBuffer:   1024,
	}
}

// Relay routes frames between the members of each space and keeps the entity
// snapshots late joiners are brought up to date with.
type Relay struct {
	config  RelayConfig
	chain   protocol.Chain
	logger  log.Log
	metrics *metrics.Collector

	mu      sync.Mutex
	spaces  map[string]*spaceState
	clients atomic.Int64
}

type spaceState struct {
	id string

	mu         sync.Mutex
	members    map[models.ClientID]*Session
	entities   map[models.EntityID]*models.EntityState
	nextClient models.ClientID
}

// Session is one client's membership in a space.
type Session struct {
	id       string
	relay    *Relay
	space    *spaceState
	peer     Peer
	info     protocol.PeerInfo
	lastSeen atomic.Int64
	left     atomic.Bool
}

func (s *Session) ID() string                { return s.id }
func (s *Session) ClientID() models.ClientID { return s.info.ClientID }
func (s *Session) SpaceID() string           { return s.info.SpaceID }
func (s *Session) Info() protocol.PeerInfo   { return s.info }
func (s *Session) LastSeen() time.Time       { return time.Unix(0, s.lastSeen.Load()) }
func (s *Session) touch()                    { s.lastSeen.Store(time.Now().UnixNano()) }
func (s *Session) Active() bool              { return !s.left.Load() }
func (s *Session) Close(reason string) error { return s.peer.Close(reason) }

func NewRelay(config RelayConfig, chain protocol.Chain, logger log.Log, m *metrics.Collector) *Relay {
	if m == nil {
		m = metrics.NewIsolated()
	}
	return &Relay{
		config:  config,
		chain:   chain,
		logger:  logger.With(log.String("component", "relay")),
		metrics: m,
		spaces:  make(map[string]*spaceState),
	}
}

// Join admits peer into the space named by join. The peer receives its
// Welcome, then a create for every entity in the space; the other members
// learn about it through ClientJoined.
func (r *Relay) Join(ctx context.Context, join protocol.Join, peer Peer, info protocol.PeerInfo) (*Session, error) {
	if join.SpaceID == "" {
		return nil, fmt.Errorf("%w: join without space id", ErrInvalidMessage)
	}
	if r.config.MaxClients > 0 && r.clients.Load() >= int64(r.config.MaxClients) {
		return nil, ErrMaxClientsReached
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sp, ok := r.spaces[join.SpaceID]
	if !ok {
		sp = &spaceState{
			id:       join.SpaceID,
			members:  make(map[models.ClientID]*Session),
			entities: make(map[models.EntityID]*models.EntityState),
		}
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.nextClient++
	info.ClientID = sp.nextClient
	info.SpaceID = join.SpaceID
	info.UserID = join.UserID
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = time.Now()
	}
	if err := r.chain.OnConnect(ctx, info); err != nil {
		return nil, err
	}

	sess := &Session{id: uuid.NewString(), relay: r, space: sp, peer: peer, info: info}
	sess.touch()

	members := make([]models.ClientID, 0, len(sp.members)+1)
	for id := range sp.members {
		members = append(members, id)
	}
	members = append(members, info.ClientID)
	slices.Sort(members)

	if err := peer.Deliver(protocol.NewWelcome(protocol.Welcome{
		ClientID:  info.ClientID,
		SpaceID:   sp.id,
		SessionID: sess.id,
		Members:   members,
	})); err != nil {
		r.chain.OnDisconnect(ctx, info, "welcome failed")
		return nil, err
	}
	for _, state := range sp.snapshot() {
		r.deliver(sess, protocol.NewEntityCreate(state))
	}
	joined := protocol.NewClientJoined(info.ClientID)
	for _, other := range sp.members {
		r.deliver(other, joined)
	}

	sp.members[info.ClientID] = sess
	if !ok {
		r.spaces[sp.id] = sp
		r.metrics.ActiveSpaces.Set(float64(len(r.spaces)))
	}
	r.clients.Add(1)

	r.logger.Info("Client joined",
		log.String("space_id", sp.id),
		log.Uint64("client_id", uint64(info.ClientID)),
		log.String("session_id", sess.id),
		log.String("transport", info.Transport),
		log.Int("members", len(sp.members)),
	)
	return sess, nil
}

// Handle routes one frame sent by the session's client.
func (s *Session) Handle(ctx context.Context, f *protocol.Frame) error {
	if s.left.Load() {
		return ErrClientNotFound
	}
	r := s.relay
	start := time.Now()
	defer func() { r.metrics.HandleDuration.Observe(time.Since(start).Seconds()) }()

	if err := f.Validate(); err != nil {
		r.metrics.FramesDropped.WithLabelValues("invalid").Inc()
		return err
	}
	s.touch()
	if err := r.chain.BeforeHandle(ctx, s.info, f); err != nil {
		r.metrics.FramesDropped.WithLabelValues("middleware").Inc()
		return err
	}
	f.From = s.info.ClientID

	if f.Type == protocol.MessageTypeLeave {
		s.Leave(ctx, "leave")
		return nil
	}

	sp := s.space
	sp.mu.Lock()
	defer sp.mu.Unlock()

	switch f.Type {
	case protocol.MessageTypeEntityCreate:
		state := *f.Create
		state.Components = slices.Clone(state.Components)
		sp.entities[state.ID] = &state
		r.broadcast(sp, f, s.info.ClientID)
	case protocol.MessageTypeEntityUpdate:
		if state, ok := sp.entities[f.Update.ID]; ok {
			state.Apply(*f.Update)
		}
		r.broadcast(sp, f, s.info.ClientID)
	case protocol.MessageTypeEntityDestroy:
		sp.remove(f.Destroy.ID)
		r.broadcast(sp, f, s.info.ClientID)
	case protocol.MessageTypeNetworkEvent:
		target := f.Event.Target
		if target == 0 {
			r.broadcast(sp, f, s.info.ClientID)
			break
		}
		dst, ok := sp.members[target]
		if !ok {
			r.metrics.FramesDropped.WithLabelValues("unknown_target").Inc()
			return fmt.Errorf("%w: event target %d", ErrClientNotFound, target)
		}
		r.deliver(dst, f)
	default:
		r.metrics.FramesDropped.WithLabelValues("unexpected").Inc()
		return fmt.Errorf("%w: %s from client", ErrInvalidMessage, f.Type)
	}
	return nil
}

// Leave removes the session from its space. Avatars of the leaver are
// destroyed and its objects go to the lowest remaining client id. Calling
// Leave more than once is a no-op.
func (s *Session) Leave(ctx context.Context, reason string) {
	if !s.left.CompareAndSwap(false, true) {
		return
	}
	r, sp, id := s.relay, s.space, s.info.ClientID

	r.mu.Lock()
	sp.mu.Lock()

	delete(sp.members, id)
	r.clients.Add(-1)

	heir := sp.lowestMember()
	for _, state := range sp.ownedBy(id) {
		switch {
		case state.Type == models.EntityTypeAvatar || heir == 0:
			sp.remove(state.ID)
			r.broadcast(sp, protocol.NewEntityDestroy(state.ID), 0)
		default:
			state.Owner = heir
			owner := heir
			r.broadcast(sp, protocol.NewEntityUpdate(models.EntityPatch{ID: state.ID, Owner: &owner}), 0)
		}
	}
	for _, state := range sp.selectedBy(id) {
		state.SelectedBy = 0
		var none models.ClientID
		r.broadcast(sp, protocol.NewEntityUpdate(models.EntityPatch{ID: state.ID, SelectedBy: &none}), 0)
	}
	r.broadcast(sp, protocol.NewClientLeft(id), 0)

	remaining := len(sp.members)
	if remaining == 0 {
		delete(r.spaces, sp.id)
		r.metrics.ActiveSpaces.Set(float64(len(r.spaces)))
	}
	sp.mu.Unlock()
	r.mu.Unlock()

	r.chain.OnDisconnect(ctx, s.info, reason)
	r.logger.Info("Client left",
		log.String("space_id", sp.id),
		log.Uint64("client_id", uint64(id)),
		log.String("reason", reason),
		log.Int("members", remaining),
	)
}

// broadcast sends f to every member except skip. Callers hold sp.mu.
func (r *Relay) broadcast(sp *spaceState, f *protocol.Frame, skip models.ClientID) {
	for id, member := range sp.members {
		if id != skip {
			r.deliver(member, f)
		}
	}
}

func (r *Relay) deliver(s *Session, f *protocol.Frame) {
	if err := s.peer.Deliver(f); err != nil {
		r.logger.Warn("Failed to deliver frame",
			log.String("space_id", s.info.SpaceID),
			log.Uint64("client_id", uint64(s.info.ClientID)),
			log.String("type", f.Type.String()),
			log.Error(err),
		)
	}
}

func (sp *spaceState) snapshot() []models.EntityState {
	out := make([]models.EntityState, 0, len(sp.entities))
	for _, state := range sp.entities {
		cp := *state
		cp.Components = slices.Clone(state.Components)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (sp *spaceState) ownedBy(owner models.ClientID) []*models.EntityState {
	var out []*models.EntityState
	for _, state := range sp.entities {
		if state.Owner == owner {
			out = append(out, state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// remove drops an entity and detaches its children. Members detach them
// locally when the destroy arrives; this keeps snapshots in step.
func (sp *spaceState) remove(id models.EntityID) {
	delete(sp.entities, id)
	for _, state := range sp.entities {
		if state.Parent == id {
			state.Parent = 0
		}
	}
}

func (sp *spaceState) selectedBy(client models.ClientID) []*models.EntityState {
	var out []*models.EntityState
	for _, state := range sp.entities {
		if state.SelectedBy == client {
			out = append(out, state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (sp *spaceState) lowestMember() models.ClientID {
	var low models.ClientID
	for id := range sp.members {
		if low == 0 || id < low {
			low = id
		}
	}
	return low
}

// SpaceInfo describes one live space.
type SpaceInfo struct {
	ID       string            `json:"id"`
	Members  []models.ClientID `json:"members"`
	Entities int               `json:"entities"`
}

// Spaces lists the live spaces ordered by id.
func (r *Relay) Spaces() []SpaceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SpaceInfo, 0, len(r.spaces))
	for _, sp := range r.spaces {
		sp.mu.Lock()
		info := SpaceInfo{ID: sp.id, Entities: len(sp.entities)}
		for id := range sp.members {
			info.Members = append(info.Members, id)
		}
		sp.mu.Unlock()
		slices.Sort(info.Members)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Space returns a snapshot of one space.
func (r *Relay) Space(id string) (SpaceInfo, error) {
	for _, sp := range r.Spaces() {
		if sp.ID == id {
			return sp, nil
		}
	}
	return SpaceInfo{}, ErrSpaceNotFound
}

func (r *Relay) Clients() int64 { return r.clients.Load() }

// Sessions returns every active session.
func (r *Relay) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Session
	for _, sp := range r.spaces {
		sp.mu.Lock()
		for _, s := range sp.members {
			out = append(out, s)
		}
		sp.mu.Unlock()
	}
	return out
}

// ServeConn runs the relay side of one network link until it closes: it
// waits for Join, then routes every frame through the session.
func (r *Relay) ServeConn(ctx context.Context, conn protocol.Conn) error {
	hctx, cancel := context.WithTimeout(ctx, r.config.HandshakeTimeout)
	f, err := conn.Receive(hctx)
	cancel()
	if err != nil {
		_ = conn.Close("handshake failed")
		return fmt.Errorf("%w: %w", protocol.ErrHandshake, err)
	}
	if f.Type != protocol.MessageTypeJoin || f.Join == nil {
		_ = conn.Close("expected join")
		return fmt.Errorf("%w: %s before join", ErrInvalidMessage, f.Type)
	}

	peer := newConnPeer(conn, r.config.OutboundBuffer, r.logger, r.metrics)
	go peer.run()

	sess, err := r.Join(ctx, *f.Join, peer, protocol.PeerInfo{
		RemoteAddress: conn.RemoteAddr(),
		Transport:     conn.Transport(),
		ConnectedAt:   time.Now(),
	})
	if err != nil {
		_ = peer.Close("join rejected")
		return err
	}

	reason := "connection closed"
	defer func() {
		sess.Leave(context.WithoutCancel(ctx), reason)
		_ = peer.Close(reason)
	}()

	logger := r.logger.With(
		log.String("space_id", sess.SpaceID()),
		log.Uint64("client_id", uint64(sess.ClientID())),
	)
	for {
		f, err = conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				reason = "relay shutting down"
			} else if !errors.Is(err, protocol.ErrConnectionClosed) {
				logger.Debug("Receive failed", log.Error(err))
			}
			return nil
		}
		if f.Type == protocol.MessageTypeLeave {
			reason = "leave"
			return nil
		}
		if err = sess.Handle(ctx, f); err != nil {
			logger.Debug("Frame dropped", log.String("type", f.Type.String()), log.Error(err))
		}
	}
}
