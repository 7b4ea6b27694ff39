package models

import (
	"sort"

	"github.com/zeusync/spacesync/internal/core/replicated"
)

// Component is a typed property bag owned by one entity. Built-in types are
// constrained by their schema; Custom accepts any key.
type Component struct {
	id      ComponentID
	typ     ComponentType
	props   map[PropertyKey]replicated.Value
	entity  *Entity
	removed bool
}

func newComponent(e *Entity, id ComponentID, t ComponentType) *Component {
	c := &Component{
		id:     id,
		typ:    t,
		props:  make(map[PropertyKey]replicated.Value),
		entity: e,
	}
	if s, ok := SchemaFor(t); ok {
		for key, p := range s.Properties {
			c.props[key] = p.Default
		}
	}
	return c
}

func (c *Component) ID() ComponentID     { return c.id }
func (c *Component) Type() ComponentType { return c.typ }
func (c *Component) Entity() *Entity     { return c.entity }

// Removed reports whether the component has been detached from its entity.
func (c *Component) Removed() bool { return c.removed }

// Property returns a stored or derived property.
func (c *Component) Property(key PropertyKey) (replicated.Value, error) {
	if s, ok := SchemaFor(c.typ); ok {
		if d, ok := s.Derived[key]; ok {
			return d.Compute(c), nil
		}
	}
	v, ok := c.props[key]
	if !ok {
		return replicated.Value{}, ErrPropertyNotFound
	}
	return v, nil
}

// SetProperty validates value against the schema and stores it. Values the
// schema validator refuses leave the property unchanged and return nil.
func (c *Component) SetProperty(key PropertyKey, value replicated.Value) error {
	if c.removed {
		return ErrComponentRemoved
	}
	if !value.IsValid() {
		return ErrInvalidPropertyValue
	}
	s, ok := SchemaFor(c.typ)
	if !ok {
		return ErrUnknownComponentType
	}
	if _, derived := s.Derived[key]; derived {
		return ErrPropertyReadOnly
	}
	p, known := s.Properties[key]
	if !known {
		// Open schemas accept hashed keys once they were named through the Custom view.
		if !s.Open || key&customKeyBit == 0 || !c.HasProperty(key) {
			return ErrUnknownProperty
		}
		c.store(key, value)
		return nil
	}
	if p.Internal {
		return ErrPropertyReadOnly
	}
	if value.Kind() != p.Default.Kind() {
		return ErrPropertyKind
	}
	if p.Validate != nil {
		var accepted bool
		if value, accepted = p.Validate(value); !accepted {
			return nil
		}
	}
	c.store(key, value)
	return nil
}

func (c *Component) HasProperty(key PropertyKey) bool {
	_, ok := c.props[key]
	return ok
}

// PropertyKeys returns the stored keys in ascending order.
func (c *Component) PropertyKeys() []PropertyKey {
	keys := make([]PropertyKey, 0, len(c.props))
	for k := range c.props {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (c *Component) State() ComponentState {
	props := make(map[PropertyKey]replicated.Value, len(c.props))
	for k, v := range c.props {
		props[k] = v
	}
	return ComponentState{ID: c.id, Type: c.typ, Properties: props}
}

func (c *Component) store(key PropertyKey, value replicated.Value) {
	old, existed := c.props[key]
	if existed && old.Equal(value) {
		return
	}
	c.props[key] = value
	c.notify(key, old, value)
}

func (c *Component) delete(key PropertyKey) bool {
	old, ok := c.props[key]
	if !ok {
		return false
	}
	delete(c.props, key)
	c.notify(key, old, replicated.Value{})
	return true
}

// replaceProperties makes props the exact property set, reporting each
// difference. Schema validation is skipped since the author already applied it.
func (c *Component) replaceProperties(props map[PropertyKey]replicated.Value) {
	for key := range c.props {
		if _, ok := props[key]; !ok {
			c.delete(key)
		}
	}
	keys := make([]PropertyKey, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if v := props[k]; v.IsValid() {
			c.store(k, v)
		}
	}
}

func (c *Component) notify(key PropertyKey, old, value replicated.Value) {
	if c.entity == nil || c.removed {
		return
	}
	c.entity.notify(Change{
		Kind:      ChangeProperty,
		Component: c,
		Key:       key,
		Old:       old,
		New:       value,
	})
}
