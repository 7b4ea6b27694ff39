package models

import (
	"github.com/zeusync/spacesync/internal/core/replicated"
)

// Validator inspects a candidate value. It returns the value to store, which
// may be clamped, or false to leave the property unchanged.
type Validator func(v replicated.Value) (replicated.Value, bool)

type PropertySchema struct {
	Name     string
	Default  replicated.Value
	Validate Validator
	// Internal properties are maintained by the component itself.
	Internal bool
}

type Derivation struct {
	Name    string
	Compute func(c *Component) replicated.Value
}

// Schema lists the properties a component type carries. Open schemas also
// accept hashed string keys (Custom).
type Schema struct {
	Type       ComponentType
	Properties map[PropertyKey]PropertySchema
	Derived    map[PropertyKey]Derivation
	Open       bool
}

func SchemaFor(t ComponentType) (*Schema, bool) {
	s, ok := schemas[t]
	return s, ok
}

// KeyByName resolves a schema property name, stored or derived.
func (s *Schema) KeyByName(name string) (PropertyKey, bool) {
	for k, p := range s.Properties {
		if p.Name == name {
			return k, true
		}
	}
	for k, d := range s.Derived {
		if d.Name == name {
			return k, true
		}
	}
	return 0, false
}

// AvatarData
const (
	AvatarID PropertyKey = iota
	AvatarUserID
	AvatarState
	AvatarMeshIndex
	AvatarCustomURL
	AvatarIsHandIKEnabled
)

// StaticModel and AnimatedModel
const (
	ModelExternalResourceAssetID PropertyKey = iota
	ModelAssetCollectionID
	ModelPosition
	ModelRotation
	ModelScale
	ModelIsVisible
	ModelIsLoopPlayback
	ModelIsPlaying
)

// Audio
const (
	AudioPosition PropertyKey = iota
	AudioPlaybackState
	AudioType
	AudioAssetID
	AudioAssetCollectionID
	AudioAttenuationRadius
	AudioIsLoopPlayback
	AudioTimeSincePlay
	AudioVolume
	AudioIsEnabled
)

// Video and Image
const (
	MediaAssetID PropertyKey = iota
	MediaAssetCollectionID
	MediaPosition
	MediaRotation
	MediaScale
	MediaIsVisible
	MediaIsAutoPlay
)

// Reflection
const (
	ReflectionAssetID PropertyKey = iota
	ReflectionAssetCollectionID
	ReflectionPosition
	ReflectionScale
	ReflectionShape
)

// Collision
const (
	CollisionPosition PropertyKey = iota
	CollisionRotation
	CollisionScale
	CollisionShape
	CollisionMode
	CollisionAssetID
	CollisionAssetCollectionID
)

// Collision, derived from scale on read
const (
	CollisionUnscaledBoundingBoxMin PropertyKey = iota + 100
	CollisionUnscaledBoundingBoxMax
	CollisionScaledBoundingBoxMin
	CollisionScaledBoundingBoxMax
)

// Conversation
const (
	ConversationID PropertyKey = iota
	ConversationIsVisible
	ConversationIsActive
	ConversationPosition
	ConversationRotation
	ConversationTitle
)

// Portal
const (
	PortalSpaceID PropertyKey = iota
	PortalIsEnabled
	PortalPosition
	PortalRadius
)

// Spline
const (
	SplineWaypointCount PropertyKey = iota
	SplineIsEnabled
)

// Fog
const (
	FogMode PropertyKey = iota
	FogPosition
	FogRotation
	FogScale
	FogStartDistance
	FogEndDistance
	FogColor
	FogDensity
	FogHeightFalloff
	FogMaxOpacity
	FogIsVolumetric
	FogIsVisible
)

// Script
const (
	ScriptSource PropertyKey = iota + 1
	ScriptOwnerID
	ScriptScope
)

// ScriptScope values.
const (
	ScriptScopeOwner  int64 = 0
	ScriptScopeLeader int64 = 1
)

// Custom reserved keys. User keys always have customKeyBit set.
const (
	CustomApplicationOrigin PropertyKey = iota + 1
	CustomPropertyKeys
)

var (
	unitBoxMin = replicated.Vector3{X: -0.5, Y: -0.5, Z: -0.5}
	unitBoxMax = replicated.Vector3{X: 0.5, Y: 0.5, Z: 0.5}
)

func inUnitRange(v replicated.Value) (replicated.Value, bool) {
	f := v.AsFloat64()
	return v, f >= 0 && f <= 1
}

func nonNegative(v replicated.Value) (replicated.Value, bool) {
	return v, v.AsFloat64() >= 0
}

func clampNonNegative(v replicated.Value) (replicated.Value, bool) {
	if v.AsFloat64() < 0 {
		return replicated.Float64(0), true
	}
	return v, true
}

func clampUnit(v replicated.Value) (replicated.Value, bool) {
	f := v.AsFloat64()
	switch {
	case f < 0:
		return replicated.Float64(0), true
	case f > 1:
		return replicated.Float64(1), true
	}
	return v, true
}

func str(name string) PropertySchema {
	return PropertySchema{Name: name, Default: replicated.String("")}
}
func flag(name string, def bool) PropertySchema {
	return PropertySchema{Name: name, Default: replicated.Bool(def)}
}
func integer(name string, def int64) PropertySchema {
	return PropertySchema{Name: name, Default: replicated.Int64(def)}
}
func number(name string, def float64, validate Validator) PropertySchema {
	return PropertySchema{Name: name, Default: replicated.Float64(def), Validate: validate}
}
func vec3(name string, def replicated.Vector3) PropertySchema {
	return PropertySchema{Name: name, Default: replicated.Vec3(def)}
}
func quat(name string) PropertySchema {
	return PropertySchema{Name: name, Default: replicated.Vec4(replicated.Identity())}
}
func scale(name string) PropertySchema {
	return PropertySchema{Name: name, Default: replicated.Vec3(replicated.One())}
}

func modelSchema(t ComponentType) *Schema {
	return &Schema{Type: t, Properties: map[PropertyKey]PropertySchema{
		ModelExternalResourceAssetID: str("externalResourceAssetId"),
		ModelAssetCollectionID:       str("assetCollectionId"),
		ModelPosition:                vec3("position", replicated.Vector3{}),
		ModelRotation:                quat("rotation"),
		ModelScale:                   scale("scale"),
		ModelIsVisible:               flag("isVisible", true),
		ModelIsLoopPlayback:          flag("isLoopPlayback", true),
		ModelIsPlaying:               flag("isPlaying", t == ComponentTypeAnimatedModel),
	}}
}

func mediaSchema(t ComponentType) *Schema {
	return &Schema{Type: t, Properties: map[PropertyKey]PropertySchema{
		MediaAssetID:           str("assetId"),
		MediaAssetCollectionID: str("assetCollectionId"),
		MediaPosition:          vec3("position", replicated.Vector3{}),
		MediaRotation:          quat("rotation"),
		MediaScale:             scale("scale"),
		MediaIsVisible:         flag("isVisible", true),
		MediaIsAutoPlay:        flag("isAutoPlay", false),
	}}
}

var schemas = map[ComponentType]*Schema{
	ComponentTypeInvalid: {Type: ComponentTypeInvalid},
	ComponentTypeAvatarData: {Type: ComponentTypeAvatarData, Properties: map[PropertyKey]PropertySchema{
		AvatarID:              str("avatarId"),
		AvatarUserID:          str("userId"),
		AvatarState:           integer("state", 0),
		AvatarMeshIndex:       integer("avatarMeshIndex", -1),
		AvatarCustomURL:       str("customAvatarUrl"),
		AvatarIsHandIKEnabled: flag("isHandIKEnabled", false),
	}},
	ComponentTypeStaticModel:   modelSchema(ComponentTypeStaticModel),
	ComponentTypeAnimatedModel: modelSchema(ComponentTypeAnimatedModel),
	ComponentTypeAudio: {Type: ComponentTypeAudio, Properties: map[PropertyKey]PropertySchema{
		AudioPosition:          vec3("position", replicated.Vector3{}),
		AudioPlaybackState:     integer("playbackState", 0),
		AudioType:              integer("audioType", 0),
		AudioAssetID:           str("audioAssetId"),
		AudioAssetCollectionID: str("assetCollectionId"),
		AudioAttenuationRadius: number("attenuationRadius", 10, nonNegative),
		AudioIsLoopPlayback:    flag("isLoopPlayback", false),
		AudioTimeSincePlay:     number("timeSincePlay", 0, nonNegative),
		AudioVolume:            number("volume", 1, inUnitRange),
		AudioIsEnabled:         flag("isEnabled", true),
	}},
	ComponentTypeVideo: mediaSchema(ComponentTypeVideo),
	ComponentTypeImage: mediaSchema(ComponentTypeImage),
	ComponentTypeReflection: {Type: ComponentTypeReflection, Properties: map[PropertyKey]PropertySchema{
		ReflectionAssetID:           str("assetId"),
		ReflectionAssetCollectionID: str("assetCollectionId"),
		ReflectionPosition:          vec3("position", replicated.Vector3{}),
		ReflectionScale:             scale("scale"),
		ReflectionShape:             integer("reflectionShape", 0),
	}},
	ComponentTypeCollision: {
		Type: ComponentTypeCollision,
		Properties: map[PropertyKey]PropertySchema{
			CollisionPosition:          vec3("position", replicated.Vector3{}),
			CollisionRotation:          quat("rotation"),
			CollisionScale:             scale("scale"),
			CollisionShape:             integer("collisionShape", 0),
			CollisionMode:              integer("collisionMode", 0),
			CollisionAssetID:           str("collisionAssetId"),
			CollisionAssetCollectionID: str("assetCollectionId"),
		},
		Derived: map[PropertyKey]Derivation{
			CollisionUnscaledBoundingBoxMin: {Name: "unscaledBoundingBoxMin", Compute: func(*Component) replicated.Value {
				return replicated.Vec3(unitBoxMin)
			}},
			CollisionUnscaledBoundingBoxMax: {Name: "unscaledBoundingBoxMax", Compute: func(*Component) replicated.Value {
				return replicated.Vec3(unitBoxMax)
			}},
			CollisionScaledBoundingBoxMin: {Name: "scaledBoundingBoxMin", Compute: func(c *Component) replicated.Value {
				return replicated.Vec3(unitBoxMin.Mul(c.props[CollisionScale].AsVector3()))
			}},
			CollisionScaledBoundingBoxMax: {Name: "scaledBoundingBoxMax", Compute: func(c *Component) replicated.Value {
				return replicated.Vec3(unitBoxMax.Mul(c.props[CollisionScale].AsVector3()))
			}},
		},
	},
	ComponentTypeConversation: {Type: ComponentTypeConversation, Properties: map[PropertyKey]PropertySchema{
		ConversationID:        str("conversationId"),
		ConversationIsVisible: flag("isVisible", true),
		ConversationIsActive:  flag("isActive", true),
		ConversationPosition:  vec3("position", replicated.Vector3{}),
		ConversationRotation:  quat("rotation"),
		ConversationTitle:     str("title"),
	}},
	ComponentTypePortal: {Type: ComponentTypePortal, Properties: map[PropertyKey]PropertySchema{
		PortalSpaceID:   str("spaceId"),
		PortalIsEnabled: flag("isEnabled", true),
		PortalPosition:  vec3("position", replicated.Vector3{}),
		PortalRadius:    number("radius", 1.5, clampNonNegative),
	}},
	ComponentTypeSpline: {Type: ComponentTypeSpline, Properties: map[PropertyKey]PropertySchema{
		SplineWaypointCount: integer("waypointCount", 0),
		SplineIsEnabled:     flag("isEnabled", true),
	}},
	ComponentTypeFog: {Type: ComponentTypeFog, Properties: map[PropertyKey]PropertySchema{
		FogMode:          integer("fogMode", 0),
		FogPosition:      vec3("position", replicated.Vector3{}),
		FogRotation:      quat("rotation"),
		FogScale:         scale("scale"),
		FogStartDistance: number("startDistance", 0, nonNegative),
		FogEndDistance:   number("endDistance", 0, nonNegative),
		FogColor:         vec3("color", replicated.Vector3{X: 0.8, Y: 0.9, Z: 1}),
		FogDensity:       number("density", 0.2, nonNegative),
		FogHeightFalloff: number("heightFalloff", 0.2, nonNegative),
		FogMaxOpacity:    number("maxOpacity", 1, clampUnit),
		FogIsVolumetric:  flag("isVolumetric", false),
		FogIsVisible:     flag("isVisible", true),
	}},
	ComponentTypeScript: {Type: ComponentTypeScript, Properties: map[PropertyKey]PropertySchema{
		ScriptSource:  str("scriptSource"),
		ScriptOwnerID: integer("ownerId", 0),
		ScriptScope:   integer("scriptScope", ScriptScopeLeader),
	}},
	ComponentTypeCustom: {
		Type: ComponentTypeCustom,
		Properties: map[PropertyKey]PropertySchema{
			CustomApplicationOrigin: str("applicationOrigin"),
			CustomPropertyKeys:      {Name: "propertyKeys", Default: replicated.String(""), Internal: true},
		},
		Open: true,
	},
}
