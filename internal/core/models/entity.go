package models

import (
	"sort"

	"github.com/zeusync/spacesync/internal/core/replicated"
)

type ChangeKind uint8

const (
	ChangeTransform ChangeKind = iota + 1
	ChangeName
	ChangeOwner
	ChangeComponentAdded
	ChangeComponentRemoved
	ChangeProperty
	ChangeLock
	ChangeSelection
	ChangeParent
)

// Change describes one mutation of an entity. Component is set for component
// and property changes. Old is invalid for newly added properties and New is
// invalid for removed ones.
type Change struct {
	Kind      ChangeKind
	Component *Component
	Key       PropertyKey
	Old       replicated.Value
	New       replicated.Value
}

// Listener observes every mutation applied to an entity. The registry installs
// one on each entity it owns.
type Listener interface {
	EntityChanged(e *Entity, change Change)
}

// Entity is a replicated object. It is not safe for concurrent use; all
// access happens on the tick thread.
type Entity struct {
	id        EntityID
	typ       EntityType
	owner     ClientID
	name      string
	transform Transform

	locked     bool
	selectedBy ClientID
	parent     EntityID

	components      map[ComponentID]*Component
	nextComponentID ComponentID

	listener Listener
}

func NewEntity(id EntityID, typ EntityType, name string, owner ClientID, transform Transform) *Entity {
	return &Entity{
		id:         id,
		typ:        typ,
		owner:      owner,
		name:       name,
		transform:  transform,
		components: make(map[ComponentID]*Component),
	}
}

func (e *Entity) ID() EntityID         { return e.id }
func (e *Entity) Type() EntityType     { return e.typ }
func (e *Entity) Owner() ClientID      { return e.owner }
func (e *Entity) Name() string         { return e.name }
func (e *Entity) Transform() Transform { return e.transform }

func (e *Entity) Position() replicated.Vector3 { return e.transform.Position }
func (e *Entity) Rotation() replicated.Vector4 { return e.transform.Rotation }
func (e *Entity) Scale() replicated.Vector3    { return e.transform.Scale }

func (e *Entity) IsLocked() bool           { return e.locked }
func (e *Entity) IsSelected() bool         { return e.selectedBy != 0 }
func (e *Entity) SelectedBy() ClientID     { return e.selectedBy }
func (e *Entity) HasParent() bool          { return e.parent != 0 }
func (e *Entity) Parent() (EntityID, bool) { return e.parent, e.parent != 0 }

// SetListener replaces the mutation listener. Passing nil detaches it.
func (e *Entity) SetListener(l Listener) { e.listener = l }

// AssignID changes the entity id. The registry calls it when a provisional id
// is promoted.
func (e *Entity) AssignID(id EntityID) { e.id = id }

func (e *Entity) SetPosition(v replicated.Vector3) {
	t := e.transform
	t.Position = v
	e.SetTransform(t)
}

func (e *Entity) SetRotation(v replicated.Vector4) {
	t := e.transform
	t.Rotation = v
	e.SetTransform(t)
}

func (e *Entity) SetScale(v replicated.Vector3) {
	t := e.transform
	t.Scale = v
	e.SetTransform(t)
}

func (e *Entity) SetTransform(t Transform) {
	if e.transform == t {
		return
	}
	e.transform = t
	e.notify(Change{Kind: ChangeTransform})
}

func (e *Entity) SetName(name string) {
	if e.name == name {
		return
	}
	e.name = name
	e.notify(Change{Kind: ChangeName})
}

func (e *Entity) SetOwner(owner ClientID) {
	if e.owner == owner {
		return
	}
	e.owner = owner
	e.notify(Change{Kind: ChangeOwner})
}

// Lock freezes the component set: AddComponent and RemoveComponent fail until
// Unlock. Properties stay writable.
func (e *Entity) Lock() error {
	if e.locked {
		return ErrEntityLocked
	}
	e.setLocked(true)
	return nil
}

func (e *Entity) Unlock() error {
	if !e.locked {
		return ErrEntityNotLocked
	}
	e.setLocked(false)
	return nil
}

func (e *Entity) setLocked(locked bool) {
	if e.locked == locked {
		return
	}
	e.locked = locked
	e.notify(Change{Kind: ChangeLock})
}

// Select marks the entity as selected by client. It fails while any client,
// client included, holds the selection.
func (e *Entity) Select(client ClientID) error {
	if client == 0 {
		return ErrInvalidClientID
	}
	if e.selectedBy != 0 {
		return ErrEntitySelected
	}
	e.setSelectedBy(client)
	return nil
}

// Deselect releases a selection held by client.
func (e *Entity) Deselect(client ClientID) error {
	if e.selectedBy == 0 || e.selectedBy != client {
		return ErrNotSelector
	}
	e.setSelectedBy(0)
	return nil
}

func (e *Entity) setSelectedBy(client ClientID) {
	if e.selectedBy == client {
		return
	}
	e.selectedBy = client
	e.notify(Change{Kind: ChangeSelection})
}

// SetParent attaches the entity under parent. Zero detaches it. Whether
// parent exists is the registry's concern.
func (e *Entity) SetParent(parent EntityID) error {
	if parent == e.id {
		return ErrInvalidParent
	}
	if e.parent == parent {
		return nil
	}
	e.parent = parent
	e.notify(Change{Kind: ChangeParent})
	return nil
}

// AddComponent attaches a component of type t under the next free id and
// seeds the schema defaults.
func (e *Entity) AddComponent(t ComponentType) (*Component, error) {
	if e.locked {
		return nil, ErrEntityLocked
	}
	if !t.Valid() {
		return nil, ErrUnknownComponentType
	}
	id, ok := e.freeComponentID()
	if !ok {
		return nil, ErrComponentLimit
	}
	return e.attach(id, t), nil
}

func (e *Entity) freeComponentID() (ComponentID, bool) {
	start := e.nextComponentID
	for {
		id := e.nextComponentID
		e.nextComponentID++
		if _, used := e.components[id]; !used {
			return id, true
		}
		if e.nextComponentID == start {
			return 0, false
		}
	}
}

func (e *Entity) attach(id ComponentID, t ComponentType) *Component {
	c := newComponent(e, id, t)
	e.components[id] = c
	if id >= e.nextComponentID {
		e.nextComponentID = id + 1
	}
	e.notify(Change{Kind: ChangeComponentAdded, Component: c})
	return c
}

func (e *Entity) RemoveComponent(id ComponentID) error {
	if e.locked {
		return ErrEntityLocked
	}
	return e.detach(id)
}

// detach removes a component regardless of the lock. Remote state and
// teardown go through it.
func (e *Entity) detach(id ComponentID) error {
	c, ok := e.components[id]
	if !ok {
		return ErrComponentNotFound
	}
	delete(e.components, id)
	c.removed = true
	e.notify(Change{Kind: ChangeComponentRemoved, Component: c})
	return nil
}

// DetachComponents removes every component, locked or not. The registry
// tears entities down with it.
func (e *Entity) DetachComponents() {
	for _, c := range e.Components() {
		_ = e.detach(c.id)
	}
}

func (e *Entity) Component(id ComponentID) (*Component, bool) {
	c, ok := e.components[id]
	return c, ok
}

func (e *Entity) ComponentCount() int { return len(e.components) }

// Components returns the attached components ordered by id.
func (e *Entity) Components() []*Component {
	out := make([]*Component, 0, len(e.components))
	for _, c := range e.components {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (e *Entity) ComponentsOfType(t ComponentType) []*Component {
	var out []*Component
	for _, c := range e.Components() {
		if c.typ == t {
			out = append(out, c)
		}
	}
	return out
}

func (e *Entity) FirstComponentOfType(t ComponentType) (*Component, bool) {
	for _, c := range e.Components() {
		if c.typ == t {
			return c, true
		}
	}
	return nil, false
}

// State snapshots the full entity.
func (e *Entity) State() EntityState {
	s := EntityState{
		ID:         e.id,
		Type:       e.typ,
		Owner:      e.owner,
		Name:       e.name,
		Transform:  e.transform,
		Locked:     e.locked,
		SelectedBy: e.selectedBy,
		Parent:     e.parent,
	}
	for _, c := range e.Components() {
		s.Components = append(s.Components, c.State())
	}
	return s
}

// ApplyState overwrites the entity with s. With full set, components absent
// from s are removed. Mutations are reported to the listener as usual.
func (e *Entity) ApplyState(s EntityState, full bool) {
	e.SetName(s.Name)
	e.SetOwner(s.Owner)
	e.SetTransform(s.Transform)
	e.setLocked(s.Locked)
	e.setSelectedBy(s.SelectedBy)
	_ = e.SetParent(s.Parent)
	e.ApplyComponents(s.Components)
	if !full {
		return
	}
	keep := make(map[ComponentID]struct{}, len(s.Components))
	for _, cs := range s.Components {
		keep[cs.ID] = struct{}{}
	}
	for _, c := range e.Components() {
		if _, ok := keep[c.id]; !ok {
			_ = e.detach(c.id)
		}
	}
}

// ApplyPatch folds a remote patch into the entity.
func (e *Entity) ApplyPatch(p EntityPatch) {
	if p.Owner != nil {
		e.SetOwner(*p.Owner)
	}
	if p.Name != nil {
		e.SetName(*p.Name)
	}
	if p.Transform != nil {
		e.SetTransform(*p.Transform)
	}
	if p.Locked != nil {
		e.setLocked(*p.Locked)
	}
	if p.SelectedBy != nil {
		e.setSelectedBy(*p.SelectedBy)
	}
	if p.Parent != nil {
		_ = e.SetParent(*p.Parent)
	}
	for _, id := range p.Removed {
		_ = e.detach(id)
	}
	e.ApplyComponents(p.Components)
}

// ApplyComponents replaces the state of each listed component, attaching it
// under the given id when missing or when its type changed.
func (e *Entity) ApplyComponents(states []ComponentState) {
	for _, cs := range states {
		c, ok := e.components[cs.ID]
		if ok && c.typ != cs.Type {
			_ = e.detach(cs.ID)
			ok = false
		}
		if !ok {
			if !cs.Type.Valid() {
				cs.Type = ComponentTypeInvalid
			}
			c = e.attach(cs.ID, cs.Type)
		}
		c.replaceProperties(cs.Properties)
	}
}

func (e *Entity) notify(change Change) {
	if e.listener != nil {
		e.listener.EntityChanged(e, change)
	}
}
