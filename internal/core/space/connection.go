// Package space implements the client side of a shared space: one Connection
// owns the entity registry, the replication queue, the leader election, the
// network event bus and the script host, and advances them on Tick.
package space

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zeusync/spacesync/internal/core/election"
	"github.com/zeusync/spacesync/internal/core/events/bus"
	"github.com/zeusync/spacesync/internal/core/events/network"
	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/observability/metrics"
	"github.com/zeusync/spacesync/internal/core/protocol"
	"github.com/zeusync/spacesync/internal/core/registry"
	"github.com/zeusync/spacesync/internal/core/replicated"
	"github.com/zeusync/spacesync/internal/core/replication"
	"github.com/zeusync/spacesync/internal/core/script"
)

// TickStats summarizes one Tick.
type TickStats struct {
	Sent      int
	Dropped   int
	Deferred  int
	Remaining int
	Applied   int
	Signals   int
	Duration  time.Duration
}

// Connection is a client's membership in one space. Everything except the
// transport's reader runs on the goroutine that calls Tick; Connection is not
// safe for concurrent use.
type Connection struct {
	transport protocol.Transport
	config    Config
	logger    log.Log
	metrics   *metrics.Collector
	now       func() time.Time

	registry *registry.Registry
	queue    *replication.Queue
	elector  *election.Elector
	events   *network.Bus
	scripts  *script.System

	connected bool
	self      models.ClientID
	spaceID   string
	members   map[models.ClientID]struct{}
	nextSeq   uint32
	lastTick  time.Time

	watches map[watchKey][]*watcher
	signals []PropertyChange
}

var _ registry.Observer = (*Connection)(nil)

func New(transport protocol.Transport, opts ...Option) *Connection {
	c := &Connection{
		transport: transport,
		config:    DefaultConfig(),
		now:       time.Now,
		members:   make(map[models.ClientID]struct{}),
		watches:   make(map[watchKey][]*watcher),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.Provide()
	}
	if c.metrics == nil {
		c.metrics = metrics.NewIsolated()
	}
	c.logger = c.logger.With(log.String("component", "space"))

	c.registry = registry.New(c.logger)
	c.registry.SetObserver(c)
	c.registry.SetBeforeDestroy(c.beforeDestroy)
	c.registry.OnEntityPromoted(c.promoted)

	c.queue = replication.NewQueue(c.config.Replication, c.logger, replication.WithClock(c.now))
	c.events = network.New(c.transport.Send, c.logger)
	c.elector = election.New(c.config.Election, c.announce, c.logger)
	c.elector.OnChange(func(previous, current models.ClientID) {
		if current != 0 {
			c.metrics.Elections.Inc()
		}
	})
	c.scripts = script.New(c.registry.Find, c.logger, script.WithErrorHook(func(error) {
		c.metrics.ScriptErrors.Inc()
	}))
	return c
}

// Registry exposes the entity store for callback registration.
func (c *Connection) Registry() *registry.Registry { return c.registry }

// Scripts exposes the script host, mostly for message posting.
func (c *Connection) Scripts() *script.System { return c.scripts }

func (c *Connection) Connected() bool           { return c.connected }
func (c *Connection) ClientID() models.ClientID { return c.self }
func (c *Connection) SpaceID() string           { return c.spaceID }

// Members returns the ids of every client in the space, self included, in
// ascending order.
func (c *Connection) Members() []models.ClientID {
	out := make([]models.ClientID, 0, len(c.members))
	for id := range c.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Connect joins spaceID and starts the leader election. Entities created
// while offline are claimed by the new client id and replicated on the next
// Tick.
func (c *Connection) Connect(ctx context.Context, spaceID, userID string) error {
	if c.connected {
		return protocol.ErrAlreadyConnected
	}
	welcome, err := c.transport.Connect(ctx, protocol.Join{SpaceID: spaceID, UserID: userID})
	if err != nil {
		return fmt.Errorf("connect to space %q: %w", spaceID, err)
	}

	c.connected = true
	c.self = welcome.ClientID
	c.spaceID = welcome.SpaceID
	clear(c.members)
	c.members[c.self] = struct{}{}
	for _, m := range welcome.Members {
		c.members[m] = struct{}{}
	}

	for _, e := range c.registry.OwnedBy(0) {
		e.SetOwner(c.self)
	}

	c.elector.Start(c.self, c.Members())
	c.logger.Info("Connected to space",
		log.String("space_id", c.spaceID),
		log.Uint64("client_id", uint64(c.self)),
		log.String("session_id", welcome.SessionID),
	)
	return nil
}

// Disconnect flushes every pending update regardless of budget, cancels
// event, property and script subscriptions, stops the election and leaves
// the space. Entities are dropped since the relay hands them off.
func (c *Connection) Disconnect(ctx context.Context) error {
	if !c.connected {
		return protocol.ErrNotConnected
	}

	var errs []error
	if _, err := c.queue.FlushAll(c.send); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}

	c.events.CancelAll()
	c.cancelWatches()
	c.scripts.UnloadAll()
	c.elector.Stop()

	if err := c.transport.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("leave: %w", err))
	}

	c.connected = false
	clear(c.members)
	c.registry.Clear()
	c.metrics.QueueDepth.Set(float64(c.queue.Len()))

	c.logger.Info("Disconnected from space",
		log.String("space_id", c.spaceID),
		log.Uint64("client_id", uint64(c.self)),
	)
	return errors.Join(errs...)
}

func (c *Connection) CreateAvatar(name string, transform models.Transform) *models.Entity {
	return c.create(models.EntityTypeAvatar, name, transform)
}

func (c *Connection) CreateObject(name string, transform models.Transform) *models.Entity {
	return c.create(models.EntityTypeObject, name, transform)
}

func (c *Connection) create(typ models.EntityType, name string, transform models.Transform) *models.Entity {
	e := c.registry.Create(typ, name, transform, c.self)
	c.queue.MarkCreated(e.ID())
	c.metrics.QueueDepth.Set(float64(c.queue.Len()))
	return e
}

// DestroyEntity removes an entity locally and queues its destroy. Pending
// updates for it are dropped.
func (c *Connection) DestroyEntity(id models.EntityID) error {
	return c.registry.Destroy(id)
}

func (c *Connection) FindEntity(id models.EntityID) (*models.Entity, bool) {
	return c.registry.Find(id)
}

func (c *Connection) Entities() []*models.Entity { return c.registry.Entities() }
func (c *Connection) EntityCount() int           { return c.registry.Len() }

// SetParent places child under parent, or makes it a root when parent is
// zero. The change replicates like any other entity field.
func (c *Connection) SetParent(child, parent models.EntityID) error {
	return c.registry.SetParent(child, parent)
}

func (c *Connection) Children(parent models.EntityID) []*models.Entity {
	return c.registry.Children(parent)
}

// RootEntities returns the entities at the top of the hierarchy.
func (c *Connection) RootEntities() []*models.Entity { return c.registry.Roots() }

// SelectEntity marks an entity as selected by this client. Selection needs a
// client id, so it is only available while connected.
func (c *Connection) SelectEntity(id models.EntityID) error {
	e, err := c.selectable(id)
	if err != nil {
		return err
	}
	return e.Select(c.self)
}

// DeselectEntity releases a selection this client holds.
func (c *Connection) DeselectEntity(id models.EntityID) error {
	e, err := c.selectable(id)
	if err != nil {
		return err
	}
	return e.Deselect(c.self)
}

func (c *Connection) selectable(id models.EntityID) (*models.Entity, error) {
	if !c.connected {
		return nil, protocol.ErrNotConnected
	}
	e, ok := c.registry.Find(id)
	if !ok {
		return nil, models.ErrEntityNotFound
	}
	return e, nil
}

func (c *Connection) TransferOwnership(id models.EntityID, owner models.ClientID) error {
	return c.registry.TransferOwnership(id, owner)
}

// SendEvent sends a fire-and-forget event. Target zero addresses every other
// client and the local id loops back through the relay.
func (c *Connection) SendEvent(name string, values []replicated.Value, target models.ClientID) error {
	if network.IsReserved(name) {
		return ErrReservedEvent
	}
	if !c.connected {
		return protocol.ErrNotConnected
	}
	return c.events.Send(name, values, target)
}

func (c *Connection) SubscribeEvent(name string, handler network.Handler) (bus.Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	return c.events.Subscribe(name, handler)
}

func (c *Connection) IsLeader() bool { return c.elector.IsLeader() }

func (c *Connection) LeaderState() election.State { return c.elector.State() }

// Leader returns the elected leader, if any.
func (c *Connection) Leader() (models.ClientID, bool) { return c.elector.Leader() }

// SetLeaderElectionEnabled toggles the election. While disabled, global logic
// runs on every client.
func (c *Connection) SetLeaderElectionEnabled(enabled bool) {
	c.elector.SetEnabled(enabled)
}

// Tick advances the connection by one step: flush local changes, apply
// inbound frames, update the election, dispatch property signals and run
// scripts.
func (c *Connection) Tick(ctx context.Context) TickStats {
	start := c.now()
	var stats TickStats

	if c.connected && !c.transport.Connected() {
		c.lost()
	}

	if c.connected {
		var (
			res replication.Result
			err error
		)
		if c.config.UpdatesPerTick > 0 {
			res, err = c.queue.Flush(c.config.UpdatesPerTick, c.send)
		} else {
			res, err = c.queue.FlushAll(c.send)
		}
		if err != nil {
			c.logger.Warn("Replication flush interrupted", log.Error(err), log.Int("remaining", res.Remaining))
		}
		stats.Sent, stats.Dropped, stats.Deferred, stats.Remaining = res.Sent, res.Dropped, res.Deferred, res.Remaining
		c.metrics.UpdatesDeferred.Add(float64(res.Deferred))
	} else {
		stats.Remaining = c.queue.Len()
	}

	// drained frames are gone from the inbox, so all of them are applied
	for _, f := range c.transport.Drain() {
		c.apply(f)
		stats.Applied++
	}

	c.elector.Update()

	stats.Signals = c.dispatchSignals()

	if c.config.ScriptsEnabled {
		var delta float64
		if !c.lastTick.IsZero() {
			delta = float64(start.Sub(c.lastTick)) / float64(time.Millisecond)
		}
		c.scripts.Tick(delta, c.runsHere)
	}
	c.lastTick = start

	c.metrics.QueueDepth.Set(float64(c.queue.Len()))
	stats.Duration = c.now().Sub(start)
	c.metrics.TickDuration.Observe(stats.Duration.Seconds())
	return stats
}

// runsHere decides where a script ticks: owner-scoped scripts on the owning
// client, leader-scoped ones wherever global logic is allowed. Nothing runs
// after a lost link, since the relay has handed everything to the others.
func (c *Connection) runsHere(e *models.Entity, comp *models.Component) bool {
	if c.elector.State() == election.StateLost {
		return false
	}
	view, err := models.AsScript(comp)
	if err != nil {
		return false
	}
	if view.Scope() == models.ScriptScopeOwner {
		return !c.connected || e.Owner() == c.self
	}
	return c.elector.AllowsGlobalLogic()
}

func (c *Connection) lost() {
	c.logger.Warn("Lost connection to space", log.String("space_id", c.spaceID))
	c.connected = false
	clear(c.members)
	c.elector.Lose()
}

func (c *Connection) apply(f *protocol.Frame) {
	switch f.Type {
	case protocol.MessageTypeClientJoined:
		c.members[f.Client] = struct{}{}
		c.elector.MemberJoined(f.Client)
	case protocol.MessageTypeClientLeft:
		delete(c.members, f.Client)
		c.elector.MemberLeft(f.Client)
	case protocol.MessageTypeEntityCreate:
		if f.Create != nil {
			c.registry.ApplyRemoteCreate(*f.Create)
		}
	case protocol.MessageTypeEntityUpdate:
		if f.Update != nil {
			c.registry.ApplyRemoteUpdate(*f.Update)
		}
	case protocol.MessageTypeEntityDestroy:
		if f.Destroy != nil {
			c.registry.ApplyRemoteDestroy(f.Destroy.ID)
		}
	case protocol.MessageTypeNetworkEvent:
		c.applyEvent(f)
	default:
		c.logger.Debug("Ignoring frame", log.String("type", f.Type.String()))
	}
}

func (c *Connection) applyEvent(f *protocol.Frame) {
	if f.Event == nil {
		return
	}
	if f.Event.Name == network.ClientElectionMessage {
		if len(f.Event.Values) == 1 && f.Event.Values[0].Kind() == replicated.KindInt64 {
			c.elector.HandleNotification(f.From, models.ClientID(f.Event.Values[0].AsInt64()))
		} else {
			c.logger.Warn("Malformed election message", log.Uint64("from", uint64(f.From)))
		}
	}
	if err := c.events.Deliver(f); err != nil {
		c.logger.Warn("Event handler failed",
			log.String("event", f.Event.Name),
			log.Uint64("from", uint64(f.From)),
			log.Error(err),
		)
	}
}

func (c *Connection) announce(leader models.ClientID) error {
	return c.events.Send(network.ClientElectionMessage, []replicated.Value{replicated.Int64(int64(leader))}, 0)
}
