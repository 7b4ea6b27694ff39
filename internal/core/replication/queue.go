// Package replication batches local entity changes into outbound updates and
// throttles how fast they leave.
package replication

import (
	"container/list"
	"errors"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
)

// ErrEntityGone is returned by a Sender when the entity behind an update no
// longer exists. The update is dropped instead of retried.
var ErrEntityGone = errors.New("replication: entity no longer exists")

// PendingUpdate is the coalesced set of changes waiting to be replicated for
// one entity.
type PendingUpdate struct {
	EntityID   models.EntityID
	Create     bool
	Destroy    bool
	Transform  bool
	Owner      bool
	Name       bool
	Lock       bool
	Selection  bool
	Parent     bool
	Components map[models.ComponentID]struct{}
	Removed    map[models.ComponentID]struct{}
}

// DirtyComponents returns the changed component ids in ascending order.
func (u *PendingUpdate) DirtyComponents() []models.ComponentID {
	return sortedIDs(u.Components)
}

// RemovedComponents returns the removed component ids in ascending order.
func (u *PendingUpdate) RemovedComponents() []models.ComponentID {
	return sortedIDs(u.Removed)
}

func sortedIDs(set map[models.ComponentID]struct{}) []models.ComponentID {
	out := make([]models.ComponentID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sender serializes an update and hands it to the transport.
type Sender func(u *PendingUpdate) error

type Config struct {
	// EntityPatchRate is the minimum interval between two patches of the same
	// entity. Creates and destroys are never delayed. Zero disables it.
	EntityPatchRate time.Duration `yaml:"entity_patch_rate" env:"ENTITY_PATCH_RATE"`
	// FramesPerSecond caps outbound frames across all entities. Zero disables it.
	FramesPerSecond float64 `yaml:"frames_per_second" env:"FRAMES_PER_SECOND"`
	FrameBurst      int     `yaml:"frame_burst" env:"FRAME_BURST"`
}

func DefaultConfig() Config {
	return Config{
		EntityPatchRate: 90 * time.Millisecond,
		FramesPerSecond: 0,
		FrameBurst:      64,
	}
}

// Result describes one flush.
type Result struct {
	Sent      int
	Dropped   int
	Deferred  int
	Remaining int
}

// Queue holds pending updates in first-marked order. Marking an entity that is
// already queued merges into the existing entry.
type Queue struct {
	order     *list.List
	pending   map[models.EntityID]*list.Element
	lastPatch map[models.EntityID]time.Time

	config  Config
	limiter *rate.Limiter
	now     func() time.Time
	logger  log.Log
}

type Option func(*Queue)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func NewQueue(config Config, logger log.Log, opts ...Option) *Queue {
	limit := rate.Inf
	if config.FramesPerSecond > 0 {
		limit = rate.Limit(config.FramesPerSecond)
	}
	burst := config.FrameBurst
	if burst <= 0 {
		burst = 1
	}
	q := &Queue{
		order:     list.New(),
		pending:   make(map[models.EntityID]*list.Element),
		lastPatch: make(map[models.EntityID]time.Time),
		config:    config,
		limiter:   rate.NewLimiter(limit, burst),
		now:       time.Now,
		logger:    logger.With(log.String("component", "replication")),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) entry(id models.EntityID) *PendingUpdate {
	if el, ok := q.pending[id]; ok {
		return el.Value.(*PendingUpdate)
	}
	u := &PendingUpdate{
		EntityID:   id,
		Components: make(map[models.ComponentID]struct{}),
		Removed:    make(map[models.ComponentID]struct{}),
	}
	q.pending[id] = q.order.PushBack(u)
	return u
}

// MarkCreated schedules the full state of a new entity.
func (q *Queue) MarkCreated(id models.EntityID) {
	q.entry(id).Create = true
}

// MarkDirty records a transform change and/or changed components.
func (q *Queue) MarkDirty(id models.EntityID, transformChanged bool, components ...models.ComponentID) {
	u := q.entry(id)
	if transformChanged {
		u.Transform = true
	}
	for _, c := range components {
		u.Components[c] = struct{}{}
		delete(u.Removed, c)
	}
}

func (q *Queue) MarkOwner(id models.EntityID) { q.entry(id).Owner = true }
func (q *Queue) MarkName(id models.EntityID)  { q.entry(id).Name = true }

func (q *Queue) MarkLock(id models.EntityID)      { q.entry(id).Lock = true }
func (q *Queue) MarkSelection(id models.EntityID) { q.entry(id).Selection = true }
func (q *Queue) MarkParent(id models.EntityID)    { q.entry(id).Parent = true }

func (q *Queue) MarkRemoved(id models.EntityID, component models.ComponentID) {
	u := q.entry(id)
	delete(u.Components, component)
	u.Removed[component] = struct{}{}
}

// MarkDestroyed supersedes any pending changes with a destroy. Entities that
// never reached the network are forgotten without a destroy.
func (q *Queue) MarkDestroyed(id models.EntityID) {
	el, queued := q.pending[id]
	if queued && el.Value.(*PendingUpdate).Create || id.Provisional() {
		q.Discard(id)
		return
	}
	u := q.entry(id)
	*u = PendingUpdate{EntityID: id, Destroy: true}
	delete(q.lastPatch, id)
}

// Discard drops the pending update of id, if any.
func (q *Queue) Discard(id models.EntityID) bool {
	el, ok := q.pending[id]
	if !ok {
		return false
	}
	q.order.Remove(el)
	delete(q.pending, id)
	return true
}

// Pending returns the queued update for id.
func (q *Queue) Pending(id models.EntityID) (*PendingUpdate, bool) {
	el, ok := q.pending[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*PendingUpdate), true
}

func (q *Queue) Len() int { return q.order.Len() }

// Rekey moves a pending update to a new entity id after promotion.
func (q *Queue) Rekey(from, to models.EntityID) {
	if el, ok := q.pending[from]; ok {
		delete(q.pending, from)
		el.Value.(*PendingUpdate).EntityID = to
		q.pending[to] = el
	}
	if t, ok := q.lastPatch[from]; ok {
		delete(q.lastPatch, from)
		q.lastPatch[to] = t
	}
}

// Flush sends up to budget updates in order. Updates that hit the per-entity
// patch interval stay queued without consuming budget; the frame limiter ends
// the flush early. A failed send leaves the update queued and stops the flush.
func (q *Queue) Flush(budget int, send Sender) (Result, error) {
	return q.flush(budget, send, true)
}

// FlushAll sends everything, ignoring budget and throttles.
func (q *Queue) FlushAll(send Sender) (Result, error) {
	return q.flush(-1, send, false)
}

func (q *Queue) flush(budget int, send Sender, throttled bool) (Result, error) {
	var res Result
	now := q.now()
	for el := q.order.Front(); el != nil; {
		if budget >= 0 && res.Sent >= budget {
			break
		}
		next := el.Next()
		u := el.Value.(*PendingUpdate)

		if throttled && q.config.EntityPatchRate > 0 && !u.Create && !u.Destroy {
			if last, ok := q.lastPatch[u.EntityID]; ok && now.Sub(last) < q.config.EntityPatchRate {
				res.Deferred++
				el = next
				continue
			}
		}
		if throttled && !q.limiter.AllowN(now, 1) {
			break
		}

		err := send(u)
		switch {
		case errors.Is(err, ErrEntityGone):
			q.logger.Debug("Dropping update for missing entity", log.String("entity_id", u.EntityID.String()))
			q.remove(el, u)
			delete(q.lastPatch, u.EntityID)
			res.Dropped++
		case err != nil:
			res.Remaining = q.order.Len()
			return res, err
		default:
			q.remove(el, u)
			if u.Destroy {
				delete(q.lastPatch, u.EntityID)
			} else {
				q.lastPatch[u.EntityID] = now
			}
			res.Sent++
		}
		el = next
	}
	res.Remaining = q.order.Len()
	return res, nil
}

func (q *Queue) remove(el *list.Element, u *PendingUpdate) {
	q.order.Remove(el)
	delete(q.pending, u.EntityID)
}
