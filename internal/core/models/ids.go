package models

import (
	"fmt"
	"strconv"
)

type (
	EntityID    uint64
	ComponentID uint16
	ClientID    uint64
	PropertyKey uint32
)

// ProvisionalBit marks ids handed out before the entity reached the network.
const ProvisionalBit EntityID = 1 << 63

// ProvisionalID builds a local-only id from a per-connection sequence.
func ProvisionalID(seq uint32) EntityID {
	return ProvisionalBit | EntityID(seq)
}

// DurableID builds the space-wide id of an entity created by owner. Client ids
// are unique within a space so the pair never collides.
func DurableID(owner ClientID, seq uint32) EntityID {
	return EntityID(uint64(owner)<<32 | uint64(seq))
}

func (id EntityID) Provisional() bool { return id&ProvisionalBit != 0 }

// Seq returns the per-client sequence number the id was built from.
func (id EntityID) Seq() uint32 { return uint32(id) }

func (id EntityID) String() string {
	if id.Provisional() {
		return "p" + strconv.FormatUint(uint64(id.Seq()), 10)
	}
	return strconv.FormatUint(uint64(id), 10)
}

type EntityType uint8

const (
	EntityTypeAvatar EntityType = iota
	EntityTypeObject
)

func (t EntityType) String() string {
	switch t {
	case EntityTypeAvatar:
		return "avatar"
	case EntityTypeObject:
		return "object"
	default:
		return fmt.Sprintf("entity_type(%d)", uint8(t))
	}
}

// ComponentType values are part of the wire format and must stay stable.
type ComponentType uint16

const (
	ComponentTypeInvalid ComponentType = iota
	ComponentTypeAvatarData
	ComponentTypeStaticModel
	ComponentTypeAnimatedModel
	ComponentTypeAudio
	ComponentTypeVideo
	ComponentTypeImage
	ComponentTypeReflection
	ComponentTypeCollision
	ComponentTypeConversation
	ComponentTypePortal
	ComponentTypeSpline
	ComponentTypeFog
	ComponentTypeScript
	ComponentTypeCustom

	componentTypeCount
)

var componentTypeNames = [...]string{
	ComponentTypeInvalid:       "invalid",
	ComponentTypeAvatarData:    "avatar_data",
	ComponentTypeStaticModel:   "static_model",
	ComponentTypeAnimatedModel: "animated_model",
	ComponentTypeAudio:         "audio",
	ComponentTypeVideo:         "video",
	ComponentTypeImage:         "image",
	ComponentTypeReflection:    "reflection",
	ComponentTypeCollision:     "collision",
	ComponentTypeConversation:  "conversation",
	ComponentTypePortal:        "portal",
	ComponentTypeSpline:        "spline",
	ComponentTypeFog:           "fog",
	ComponentTypeScript:        "script",
	ComponentTypeCustom:        "custom",
}

func (t ComponentType) String() string {
	if t < componentTypeCount {
		return componentTypeNames[t]
	}
	return fmt.Sprintf("component_type(%d)", uint16(t))
}

func (t ComponentType) Valid() bool { return t < componentTypeCount }
