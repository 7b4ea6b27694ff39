package script

import (
	"github.com/Shopify/go-lua"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/replicated"
)

// bind installs the ThisEntity global for inst.
func (s *System) bind(inst *instance) {
	entity := func(l *lua.State) *models.Entity {
		e, ok := s.lookup(inst.key.entity)
		if !ok {
			lua.Errorf(l, "entity %s no longer exists", inst.key.entity.String())
		}
		return e
	}

	functions := []lua.RegistryFunction{
		{Name: "id", Function: func(l *lua.State) int {
			l.PushString(inst.key.entity.String())
			return 1
		}},
		{Name: "name", Function: func(l *lua.State) int {
			l.PushString(entity(l).Name())
			return 1
		}},
		{Name: "getPosition", Function: func(l *lua.State) int {
			p := entity(l).Position()
			pushVector(l, p.X, p.Y, p.Z)
			return 1
		}},
		{Name: "setPosition", Function: func(l *lua.State) int {
			x := lua.CheckNumber(l, 1)
			y := lua.CheckNumber(l, 2)
			z := lua.CheckNumber(l, 3)
			entity(l).SetPosition(replicated.Vector3{X: x, Y: y, Z: z})
			return 0
		}},
		{Name: "getProperty", Function: func(l *lua.State) int {
			c := component(l, entity(l))
			v, err := c.Property(propertyArg(l, 2))
			if err != nil {
				l.PushNil()
				return 1
			}
			pushValue(l, v)
			return 1
		}},
		{Name: "setProperty", Function: func(l *lua.State) int {
			c := component(l, entity(l))
			if l.TypeOf(2) == lua.TypeString && c.Type() == models.ComponentTypeCustom {
				setCustom(l, c, lua.CheckString(l, 2))
				return 0
			}
			k := propertyArg(l, 2)
			like := replicated.KindInvalid
			if old, err := c.Property(k); err == nil {
				like = old.Kind()
			}
			v, ok := toValue(l, 3, like)
			if !ok {
				lua.ArgumentError(l, 3, "unsupported value")
			}
			if err := c.SetProperty(k, v); err != nil {
				lua.Errorf(l, "setProperty: %s", err.Error())
			}
			return 0
		}},
		{Name: "subscribeToMessage", Function: func(l *lua.State) int {
			message := lua.CheckString(l, 1)
			handler := lua.CheckString(l, 2)
			inst.messages[message] = append(inst.messages[message], handler)
			return 0
		}},
		{Name: "subscribeToPropertyChange", Function: func(l *lua.State) int {
			id := models.ComponentID(lua.CheckInteger(l, 1))
			k := propertyArg(l, 2)
			message := lua.CheckString(l, 3)
			pk := propertyKey{component: id, key: k}
			inst.watches[pk] = append(inst.watches[pk], message)
			return 0
		}},
		{Name: "postMessage", Function: func(l *lua.State) int {
			message := lua.CheckString(l, 1)
			s.PostMessage(inst.key.entity, message)
			return 0
		}},
		{Name: "log", Function: func(l *lua.State) int {
			text := lua.CheckString(l, 1)
			s.logger.Info(text,
				log.String("entity_id", inst.key.entity.String()),
				log.Uint16("component_id", uint16(inst.key.component)),
			)
			return 0
		}},
	}

	inst.state.NewTable()
	lua.SetFunctions(inst.state, functions, 0)
	inst.state.SetGlobal("ThisEntity")
}

func component(l *lua.State, e *models.Entity) *models.Component {
	id := models.ComponentID(lua.CheckInteger(l, 1))
	c, ok := e.Component(id)
	if !ok {
		lua.Errorf(l, "component %d not found", int(id))
	}
	return c
}

// propertyArg reads a property key: a name for Custom components, a number
// for built-in ones.
func propertyArg(l *lua.State, index int) models.PropertyKey {
	if l.TypeOf(index) == lua.TypeString {
		name, _ := l.ToString(index)
		return models.CustomKey(name)
	}
	return models.PropertyKey(lua.CheckInteger(l, index))
}

func setCustom(l *lua.State, c *models.Component, name string) {
	custom, err := models.AsCustom(c)
	if err != nil {
		lua.Errorf(l, "setProperty: %s", err.Error())
	}
	like := replicated.KindInvalid
	if old, err := custom.Property(name); err == nil {
		like = old.Kind()
	}
	v, ok := toValue(l, 3, like)
	if !ok {
		lua.ArgumentError(l, 3, "unsupported value")
	}
	if err = custom.SetProperty(name, v); err != nil {
		lua.Errorf(l, "setProperty: %s", err.Error())
	}
}
