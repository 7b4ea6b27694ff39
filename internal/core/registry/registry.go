// Package registry owns the entities of one space connection.
package registry

import (
	"sort"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
)

var _ models.Listener = (*Registry)(nil)

// Observer receives every entity mutation. remote is true while network
// state is being applied, so the observer can tell local edits that must be
// replicated from echoes that must not.
type Observer interface {
	EntityChanged(e *models.Entity, change models.Change, remote bool)
}

// Registry is the flat id-indexed entity store of a connection. Like the
// entities it holds, it is confined to the tick thread.
type Registry struct {
	entities map[models.EntityID]*models.Entity
	nextSeq  uint32

	observer       Observer
	beforeDestroy  func(e *models.Entity)
	applyingRemote bool

	created   callbacks[func(e *models.Entity)]
	updated   callbacks[func(e *models.Entity, change models.Change)]
	destroyed callbacks[func(id models.EntityID)]
	promoted  callbacks[func(from, to models.EntityID)]

	logger log.Log
}

func New(logger log.Log) *Registry {
	return &Registry{
		entities: make(map[models.EntityID]*models.Entity),
		logger:   logger.With(log.String("component", "registry")),
	}
}

// SetObserver installs the single mutation observer, normally the connection.
func (r *Registry) SetObserver(o Observer) { r.observer = o }

// SetBeforeDestroy installs a hook run before an entity leaves the registry.
// The connection uses it to flush or discard pending replication.
func (r *Registry) SetBeforeDestroy(fn func(e *models.Entity)) { r.beforeDestroy = fn }

func (r *Registry) OnEntityCreated(fn func(e *models.Entity)) (cancel func()) {
	return r.created.add(fn)
}

func (r *Registry) OnEntityUpdated(fn func(e *models.Entity, change models.Change)) (cancel func()) {
	return r.updated.add(fn)
}

func (r *Registry) OnEntityDestroyed(fn func(id models.EntityID)) (cancel func()) {
	return r.destroyed.add(fn)
}

func (r *Registry) OnEntityPromoted(fn func(from, to models.EntityID)) (cancel func()) {
	return r.promoted.add(fn)
}

// Create registers a locally authored entity under a fresh provisional id.
func (r *Registry) Create(typ models.EntityType, name string, transform models.Transform, owner models.ClientID) *models.Entity {
	var id models.EntityID
	for {
		r.nextSeq++
		id = models.ProvisionalID(r.nextSeq)
		if _, used := r.entities[id]; !used {
			break
		}
	}
	e := models.NewEntity(id, typ, name, owner, transform)
	r.insert(e)
	return e
}

func (r *Registry) insert(e *models.Entity) {
	e.SetListener(r)
	r.entities[e.ID()] = e
	for _, fn := range r.created.snapshot() {
		fn(e)
	}
}

// Destroy removes a locally known entity.
func (r *Registry) Destroy(id models.EntityID) error {
	e, ok := r.entities[id]
	if !ok {
		return models.ErrEntityNotFound
	}
	r.remove(e)
	return nil
}

func (r *Registry) remove(e *models.Entity) {
	if r.beforeDestroy != nil {
		r.beforeDestroy(e)
	}
	id := e.ID()
	r.orphan(id)
	delete(r.entities, id)
	e.DetachComponents()
	e.SetListener(nil)
	for _, fn := range r.destroyed.snapshot() {
		fn(id)
	}
}

// orphan detaches the children of a departing parent. Every member does this
// on its own when the destroy reaches it, so the detach is not replicated.
func (r *Registry) orphan(parent models.EntityID) {
	children := r.Children(parent)
	if len(children) == 0 {
		return
	}
	prev := r.applyingRemote
	r.applyingRemote = true
	defer func() { r.applyingRemote = prev }()
	for _, child := range children {
		_ = child.SetParent(0)
	}
}

func (r *Registry) Find(id models.EntityID) (*models.Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

func (r *Registry) Len() int { return len(r.entities) }

// Entities returns every entity ordered by id.
func (r *Registry) Entities() []*models.Entity {
	out := make([]*models.Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Range visits entities in id order until fn returns false.
func (r *Registry) Range(fn func(e *models.Entity) bool) {
	for _, e := range r.Entities() {
		if !fn(e) {
			return
		}
	}
}

func (r *Registry) OwnedBy(owner models.ClientID) []*models.Entity {
	var out []*models.Entity
	for _, e := range r.Entities() {
		if e.Owner() == owner {
			out = append(out, e)
		}
	}
	return out
}

// Children returns the direct children of parent ordered by id.
func (r *Registry) Children(parent models.EntityID) []*models.Entity {
	var out []*models.Entity
	for _, e := range r.Entities() {
		if p, ok := e.Parent(); ok && p == parent {
			out = append(out, e)
		}
	}
	return out
}

// Roots returns the entities without a parent. An entity whose parent is not
// known locally counts as a root.
func (r *Registry) Roots() []*models.Entity {
	var out []*models.Entity
	for _, e := range r.Entities() {
		p, ok := e.Parent()
		if !ok {
			out = append(out, e)
			continue
		}
		if _, known := r.entities[p]; !known {
			out = append(out, e)
		}
	}
	return out
}

// SetParent moves child under parent; zero makes it a root. The parent must
// be registered and must not descend from child.
func (r *Registry) SetParent(child, parent models.EntityID) error {
	e, ok := r.entities[child]
	if !ok {
		return models.ErrEntityNotFound
	}
	if parent == 0 {
		return e.SetParent(0)
	}
	if _, ok = r.entities[parent]; !ok {
		return models.ErrEntityNotFound
	}
	for cur := parent; cur != 0; {
		if cur == child {
			return models.ErrInvalidParent
		}
		up, known := r.entities[cur]
		if !known {
			break
		}
		cur, _ = up.Parent()
	}
	return e.SetParent(parent)
}

// Promote moves an entity from its provisional id to the durable one it was
// replicated under.
func (r *Registry) Promote(from, to models.EntityID) error {
	e, ok := r.entities[from]
	if !ok {
		return models.ErrEntityNotFound
	}
	if _, taken := r.entities[to]; taken {
		return models.ErrEntityExists
	}
	delete(r.entities, from)
	e.AssignID(to)
	r.entities[to] = e
	for _, fn := range r.promoted.snapshot() {
		fn(from, to)
	}
	for _, child := range r.Children(from) {
		_ = child.SetParent(to)
	}
	return nil
}

// TransferOwnership hands write authority over an entity to owner.
func (r *Registry) TransferOwnership(id models.EntityID, owner models.ClientID) error {
	e, ok := r.entities[id]
	if !ok {
		return models.ErrEntityNotFound
	}
	e.SetOwner(owner)
	return nil
}

// ApplyRemoteCreate inserts an entity authored elsewhere. A create for an id
// already present is folded in as a full state update instead, so created
// callbacks fire exactly once per entity.
func (r *Registry) ApplyRemoteCreate(state models.EntityState) *models.Entity {
	r.applyingRemote = true
	defer func() { r.applyingRemote = false }()

	if e, ok := r.entities[state.ID]; ok {
		e.ApplyState(state, true)
		return e
	}
	e := models.NewEntity(state.ID, state.Type, state.Name, state.Owner, state.Transform)
	e.ApplyState(state, false)
	r.insert(e)
	// Components were attached before the listener existed; report them now.
	for _, c := range e.Components() {
		r.EntityChanged(e, models.Change{Kind: models.ChangeComponentAdded, Component: c})
	}
	return e
}

// ApplyRemoteUpdate applies a patch from another client. Unknown ids are
// logged and dropped since the entity may have been destroyed concurrently.
func (r *Registry) ApplyRemoteUpdate(patch models.EntityPatch) bool {
	e, ok := r.entities[patch.ID]
	if !ok {
		r.logger.Debug("Dropping update for unknown entity", log.String("entity_id", patch.ID.String()))
		return false
	}
	r.applyingRemote = true
	defer func() { r.applyingRemote = false }()
	e.ApplyPatch(patch)
	return true
}

// ApplyRemoteDestroy removes an entity destroyed by another client. Unknown
// ids are absorbed.
func (r *Registry) ApplyRemoteDestroy(id models.EntityID) bool {
	e, ok := r.entities[id]
	if !ok {
		r.logger.Debug("Ignoring destroy for unknown entity", log.String("entity_id", id.String()))
		return false
	}
	r.applyingRemote = true
	defer func() { r.applyingRemote = false }()
	r.remove(e)
	return true
}

// Clear drops every entity without running the destroy hook.
func (r *Registry) Clear() {
	hook := r.beforeDestroy
	r.beforeDestroy = nil
	defer func() { r.beforeDestroy = hook }()
	for _, e := range r.Entities() {
		r.remove(e)
	}
}

// EntityChanged implements models.Listener.
func (r *Registry) EntityChanged(e *models.Entity, change models.Change) {
	if r.observer != nil {
		r.observer.EntityChanged(e, change, r.applyingRemote)
	}
	for _, fn := range r.updated.snapshot() {
		fn(e, change)
	}
}

// ApplyingRemote reports whether network state is currently being applied.
func (r *Registry) ApplyingRemote() bool { return r.applyingRemote }
