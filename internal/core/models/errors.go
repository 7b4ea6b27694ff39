package models

import "errors"

var (
	ErrEntityNotFound        = errors.New("entity not found")
	ErrEntityExists          = errors.New("entity already exists")
	ErrComponentNotFound     = errors.New("component not found")
	ErrComponentRemoved      = errors.New("component was removed from its entity")
	ErrComponentLimit        = errors.New("entity has no free component ids")
	ErrUnknownComponentType  = errors.New("unknown component type")
	ErrPropertyNotFound      = errors.New("property not found")
	ErrUnknownProperty       = errors.New("property is not part of the component schema")
	ErrPropertyReadOnly      = errors.New("property is derived and read-only")
	ErrPropertyKind          = errors.New("property value has the wrong kind")
	ErrInvalidPropertyName   = errors.New("invalid custom property name")
	ErrInvalidPropertyValue  = errors.New("invalid property value")
	ErrComponentTypeMismatch = errors.New("component has a different type")
	ErrEntityLocked          = errors.New("entity is locked")
	ErrEntityNotLocked       = errors.New("entity is not locked")
	ErrEntitySelected        = errors.New("entity is already selected")
	ErrNotSelector           = errors.New("entity is not selected by this client")
	ErrInvalidClientID       = errors.New("invalid client id")
	ErrInvalidParent         = errors.New("invalid parent entity")
)
