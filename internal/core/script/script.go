// Package script runs the Lua source of Script components. Each component
// gets its own interpreter exposing a ThisEntity table bound to its entity.
package script

import (
	"fmt"
	"slices"

	"github.com/Shopify/go-lua"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/replicated"
)

// EntityTick is posted to every running script once per tick with the
// elapsed milliseconds as its argument.
const EntityTick = "entityTick"

// Lookup resolves an entity by id on the tick goroutine.
type Lookup func(id models.EntityID) (*models.Entity, bool)

// Filter decides whether a script takes part in a tick.
type Filter func(e *models.Entity, c *models.Component) bool

type key struct {
	entity    models.EntityID
	component models.ComponentID
}

type propertyKey struct {
	component models.ComponentID
	key       models.PropertyKey
}

type instance struct {
	key      key
	state    *lua.State
	alive    bool
	messages map[string][]string
	watches  map[propertyKey][]string
}

// System owns every loaded script of one connection. It is confined to the
// tick goroutine.
type System struct {
	lookup  Lookup
	logger  log.Log
	scripts map[key]*instance
	onError func(error)
}

type Option func(*System)

// WithErrorHook runs fn for every error raised by a script callback.
func WithErrorHook(fn func(error)) Option {
	return func(s *System) { s.onError = fn }
}

func New(lookup Lookup, logger log.Log, opts ...Option) *System {
	s := &System{
		lookup:  lookup,
		logger:  logger.With(log.String("component", "script")),
		scripts: make(map[key]*instance),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load compiles and runs source for the given Script component, replacing any
// instance already loaded for it.
func (s *System) Load(entity models.EntityID, component models.ComponentID, source string) error {
	s.Unload(entity, component)
	if source == "" {
		return ErrEmptySource
	}

	inst := &instance{
		key:      key{entity: entity, component: component},
		state:    lua.NewState(),
		alive:    true,
		messages: make(map[string][]string),
		watches:  make(map[propertyKey][]string),
	}
	lua.OpenLibraries(inst.state)
	s.bind(inst)

	if err := lua.LoadString(inst.state, source); err != nil {
		return fmt.Errorf("%w: %w", ErrScriptLoad, err)
	}
	if err := inst.state.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrScriptLoad, err)
	}

	s.scripts[inst.key] = inst
	s.logger.Debug("Script loaded",
		log.String("entity_id", entity.String()),
		log.Uint16("component_id", uint16(component)),
	)
	return nil
}

// Unload stops the script of one component. A dispatch already in progress
// skips it from then on.
func (s *System) Unload(entity models.EntityID, component models.ComponentID) bool {
	k := key{entity: entity, component: component}
	inst, ok := s.scripts[k]
	if !ok {
		return false
	}
	inst.alive = false
	delete(s.scripts, k)
	return true
}

// UnloadEntity stops every script attached to entity.
func (s *System) UnloadEntity(entity models.EntityID) int {
	n := 0
	for k := range s.scripts {
		if k.entity == entity && s.Unload(k.entity, k.component) {
			n++
		}
	}
	return n
}

// UnloadAll stops every script.
func (s *System) UnloadAll() {
	for k := range s.scripts {
		s.Unload(k.entity, k.component)
	}
}

// Rekey follows an entity promoted to a durable id.
func (s *System) Rekey(from, to models.EntityID) {
	for k, inst := range s.scripts {
		if k.entity != from {
			continue
		}
		delete(s.scripts, k)
		inst.key.entity = to
		s.scripts[inst.key] = inst
	}
}

func (s *System) Len() int { return len(s.scripts) }

// Loaded reports whether a script runs for the component.
func (s *System) Loaded(entity models.EntityID, component models.ComponentID) bool {
	_, ok := s.scripts[key{entity: entity, component: component}]
	return ok
}

// Tick posts EntityTick to every script accepted by filter. A nil filter
// accepts all.
func (s *System) Tick(deltaMillis float64, filter Filter) {
	args := []replicated.Value{replicated.Float64(deltaMillis)}
	for _, inst := range s.snapshot() {
		if !inst.alive {
			continue
		}
		if filter != nil {
			e, ok := s.lookup(inst.key.entity)
			if !ok {
				continue
			}
			c, ok := e.Component(inst.key.component)
			if !ok || !filter(e, c) {
				continue
			}
		}
		s.post(inst, EntityTick, args)
	}
}

// PostMessage delivers message to every script on entity subscribed to it.
func (s *System) PostMessage(entity models.EntityID, message string, args ...replicated.Value) {
	for _, inst := range s.snapshot() {
		if inst.key.entity == entity {
			s.post(inst, message, args)
		}
	}
}

// PropertyChanged posts the messages scripts on entity registered for a
// property through subscribeToPropertyChange.
func (s *System) PropertyChanged(entity models.EntityID, component models.ComponentID, property models.PropertyKey) {
	pk := propertyKey{component: component, key: property}
	for _, inst := range s.snapshot() {
		if inst.key.entity != entity {
			continue
		}
		for _, message := range slices.Clone(inst.watches[pk]) {
			s.post(inst, message, nil)
		}
	}
}

// snapshot returns live instances in (entity, component) order.
func (s *System) snapshot() []*instance {
	out := make([]*instance, 0, len(s.scripts))
	for _, inst := range s.scripts {
		out = append(out, inst)
	}
	slices.SortFunc(out, func(a, b *instance) int {
		switch {
		case a.key.entity != b.key.entity:
			if a.key.entity < b.key.entity {
				return -1
			}
			return 1
		case a.key.component < b.key.component:
			return -1
		case a.key.component > b.key.component:
			return 1
		}
		return 0
	})
	return out
}

func (s *System) post(inst *instance, message string, args []replicated.Value) {
	for _, handler := range slices.Clone(inst.messages[message]) {
		if !inst.alive {
			return
		}
		l := inst.state
		l.Global(handler)
		if !l.IsFunction(-1) {
			l.Pop(1)
			s.logger.Warn("Script handler is not a function",
				log.String("entity_id", inst.key.entity.String()),
				log.String("handler", handler),
			)
			continue
		}
		for _, a := range args {
			pushValue(l, a)
		}
		if err := l.ProtectedCall(len(args), 0, 0); err != nil {
			s.fail(inst, message, err)
		}
	}
}

func (s *System) fail(inst *instance, message string, err error) {
	s.logger.Warn("Script callback failed",
		log.String("entity_id", inst.key.entity.String()),
		log.Uint16("component_id", uint16(inst.key.component)),
		log.String("message", message),
		log.Error(err),
	)
	if s.onError != nil {
		s.onError(err)
	}
}
