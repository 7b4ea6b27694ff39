package space

import (
	"slices"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/replicated"
)

// PropertyChange is the signal raised when a component property changes.
type PropertyChange struct {
	Entity    models.EntityID
	Component models.ComponentID
	Key       models.PropertyKey
	Old       replicated.Value
	New       replicated.Value
	// Remote is set when the change arrived from another client.
	Remote bool
}

type PropertyChangeFunc func(PropertyChange)

// watchKey addresses a property by ids so subscriptions never hold entities.
type watchKey struct {
	entity    models.EntityID
	component models.ComponentID
	key       models.PropertyKey
}

type watcher struct {
	fn     PropertyChangeFunc
	active bool
}

// SubscribeToPropertyChange calls fn once per change of the property, on the
// tick after the write and before scripts run. Writing an equal value raises
// nothing.
func (c *Connection) SubscribeToPropertyChange(entity models.EntityID, component models.ComponentID, key models.PropertyKey, fn PropertyChangeFunc) (cancel func(), err error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	e, ok := c.registry.Find(entity)
	if !ok {
		return nil, models.ErrEntityNotFound
	}
	if _, ok = e.Component(component); !ok {
		return nil, models.ErrComponentNotFound
	}

	w := &watcher{fn: fn, active: true}
	k := watchKey{entity: entity, component: component, key: key}
	c.watches[k] = append(c.watches[k], w)

	return func() {
		w.active = false
		for wk, list := range c.watches {
			if i := slices.Index(list, w); i >= 0 {
				c.watches[wk] = slices.Delete(list, i, i+1)
				if len(c.watches[wk]) == 0 {
					delete(c.watches, wk)
				}
				return
			}
		}
	}, nil
}

func (c *Connection) raise(e *models.Entity, change models.Change, remote bool) {
	c.signals = append(c.signals, PropertyChange{
		Entity:    e.ID(),
		Component: change.Component.ID(),
		Key:       change.Key,
		Old:       change.Old,
		New:       change.New,
		Remote:    remote,
	})
}

// dispatchSignals delivers the signals raised since the previous tick to
// subscribers and then to scripts watching the property. Signals raised by
// handlers wait for the next tick.
func (c *Connection) dispatchSignals() int {
	pending := c.signals
	c.signals = nil
	for _, s := range pending {
		k := watchKey{entity: s.Entity, component: s.Component, key: s.Key}
		for _, w := range slices.Clone(c.watches[k]) {
			if w.active {
				w.fn(s)
			}
		}
		c.scripts.PropertyChanged(s.Entity, s.Component, s.Key)
	}
	return len(pending)
}

// PendingSignals returns the number of signals waiting for the next tick.
func (c *Connection) PendingSignals() int { return len(c.signals) }

func (c *Connection) dropWatches(entity models.EntityID) {
	for k, list := range c.watches {
		if k.entity != entity {
			continue
		}
		for _, w := range list {
			w.active = false
		}
		delete(c.watches, k)
	}
	c.signals = slices.DeleteFunc(c.signals, func(s PropertyChange) bool { return s.Entity == entity })
}

func (c *Connection) rekeyWatches(from, to models.EntityID) {
	for k, list := range c.watches {
		if k.entity != from {
			continue
		}
		delete(c.watches, k)
		k.entity = to
		c.watches[k] = append(c.watches[k], list...)
	}
	for i := range c.signals {
		if c.signals[i].Entity == from {
			c.signals[i].Entity = to
		}
	}
}

func (c *Connection) cancelWatches() {
	for k, list := range c.watches {
		for _, w := range list {
			w.active = false
		}
		delete(c.watches, k)
	}
	c.signals = nil
}
