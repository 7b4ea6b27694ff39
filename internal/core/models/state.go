package models

import "github.com/zeusync/spacesync/internal/core/replicated"

type Transform struct {
	Position replicated.Vector3 `json:"position"`
	Rotation replicated.Vector4 `json:"rotation"`
	Scale    replicated.Vector3 `json:"scale"`
}

// DefaultTransform is positioned at the origin with identity rotation and unit scale.
func DefaultTransform() Transform {
	return Transform{
		Rotation: replicated.Identity(),
		Scale:    replicated.One(),
	}
}

// EntityState is the full replicated state of an entity, used for creates and
// relay snapshots.
type EntityState struct {
	ID         EntityID         `json:"id"`
	Type       EntityType       `json:"type"`
	Owner      ClientID         `json:"ownerId"`
	Name       string           `json:"name"`
	Transform  Transform        `json:"transform"`
	Locked     bool             `json:"locked,omitempty"`
	SelectedBy ClientID         `json:"selectedBy,omitempty"`
	Parent     EntityID         `json:"parentId,omitempty"`
	Components []ComponentState `json:"components,omitempty"`
}

type ComponentState struct {
	ID         ComponentID                      `json:"id"`
	Type       ComponentType                    `json:"type"`
	Properties map[PropertyKey]replicated.Value `json:"properties,omitempty"`
}

// EntityPatch carries the parts of an entity that changed since the last
// replication. Components hold the full state of each dirty component.
type EntityPatch struct {
	ID         EntityID         `json:"id"`
	Owner      *ClientID        `json:"ownerId,omitempty"`
	Name       *string          `json:"name,omitempty"`
	Transform  *Transform       `json:"transform,omitempty"`
	Locked     *bool            `json:"locked,omitempty"`
	SelectedBy *ClientID        `json:"selectedBy,omitempty"`
	Parent     *EntityID        `json:"parentId,omitempty"`
	Components []ComponentState `json:"components,omitempty"`
	Removed    []ComponentID    `json:"removed,omitempty"`
}

// Apply folds a patch into a full state. The relay keeps snapshots current with it.
func (s *EntityState) Apply(p EntityPatch) {
	if p.Owner != nil {
		s.Owner = *p.Owner
	}
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Transform != nil {
		s.Transform = *p.Transform
	}
	if p.Locked != nil {
		s.Locked = *p.Locked
	}
	if p.SelectedBy != nil {
		s.SelectedBy = *p.SelectedBy
	}
	if p.Parent != nil {
		s.Parent = *p.Parent
	}
	for _, id := range p.Removed {
		for i := range s.Components {
			if s.Components[i].ID == id {
				s.Components = append(s.Components[:i], s.Components[i+1:]...)
				break
			}
		}
	}
	for _, cs := range p.Components {
		replaced := false
		for i := range s.Components {
			if s.Components[i].ID == cs.ID {
				s.Components[i] = cs
				replaced = true
				break
			}
		}
		if !replaced {
			s.Components = append(s.Components, cs)
		}
	}
}
