package models

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/spacesync/internal/core/replicated"
)

const (
	customKeyBit PropertyKey = 1 << 31
	keySeparator             = "|"
)

// CustomKey hashes a custom property name into the key space reserved for
// user properties. Reserved keys never have the high bit set.
func CustomKey(name string) PropertyKey {
	return PropertyKey(uint32(xxhash.Sum64String(name))) | customKeyBit
}

// SubscriptionKey identifies a property of one component of an entity for
// change subscriptions.
func SubscriptionKey(component ComponentID, key PropertyKey) string {
	return strconv.FormatUint(uint64(component), 10) + "_" + strconv.FormatUint(uint64(key), 10)
}

// Custom is the string-keyed view over a Custom component.
type Custom struct {
	c *Component
}

func AsCustom(c *Component) (Custom, error) {
	if c == nil || c.typ != ComponentTypeCustom {
		return Custom{}, ErrComponentTypeMismatch
	}
	return Custom{c: c}, nil
}

func (v Custom) Component() *Component { return v.c }

func (v Custom) SetProperty(name string, value replicated.Value) error {
	if err := validateCustomName(name); err != nil {
		return err
	}
	if v.c.removed {
		return ErrComponentRemoved
	}
	if !value.IsValid() {
		return ErrInvalidPropertyValue
	}
	key := CustomKey(name)
	if !v.c.HasProperty(key) {
		v.setKeys(append(v.Keys(), name))
	}
	v.c.store(key, value)
	return nil
}

func (v Custom) Property(name string) (replicated.Value, error) {
	return v.c.Property(CustomKey(name))
}

func (v Custom) HasProperty(name string) bool {
	return v.c.HasProperty(CustomKey(name))
}

func (v Custom) RemoveProperty(name string) error {
	if v.c.removed {
		return ErrComponentRemoved
	}
	if !v.c.delete(CustomKey(name)) {
		return ErrPropertyNotFound
	}
	keys := v.Keys()
	for i, k := range keys {
		if k == name {
			keys = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	v.setKeys(keys)
	return nil
}

// Keys returns the property names in insertion order.
func (v Custom) Keys() []string {
	raw, err := v.c.Property(CustomPropertyKeys)
	if err != nil || raw.AsString() == "" {
		return nil
	}
	return strings.Split(raw.AsString(), keySeparator)
}

func (v Custom) SetApplicationOrigin(origin string) error {
	return v.c.SetProperty(CustomApplicationOrigin, replicated.String(origin))
}

func (v Custom) ApplicationOrigin() string {
	raw, err := v.c.Property(CustomApplicationOrigin)
	if err != nil {
		return ""
	}
	return raw.AsString()
}

func (v Custom) SubscriptionKey(name string) string {
	return SubscriptionKey(v.c.id, CustomKey(name))
}

func (v Custom) setKeys(keys []string) {
	v.c.store(CustomPropertyKeys, replicated.String(strings.Join(keys, keySeparator)))
}

func validateCustomName(name string) error {
	if name == "" || strings.Contains(name, keySeparator) {
		return ErrInvalidPropertyName
	}
	return nil
}
