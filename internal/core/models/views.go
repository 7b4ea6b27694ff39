package models

import "github.com/zeusync/spacesync/internal/core/replicated"

// Audio is the typed view over an Audio component.
type Audio struct {
	c *Component
}

func AsAudio(c *Component) (Audio, error) {
	if c == nil || c.typ != ComponentTypeAudio {
		return Audio{}, ErrComponentTypeMismatch
	}
	return Audio{c: c}, nil
}

// SetVolume ignores values outside [0, 1].
func (a Audio) SetVolume(v float64) error {
	return a.c.SetProperty(AudioVolume, replicated.Float64(v))
}

func (a Audio) Volume() float64 { return a.c.props[AudioVolume].AsFloat64() }

func (a Audio) SetAttenuationRadius(r float64) error {
	return a.c.SetProperty(AudioAttenuationRadius, replicated.Float64(r))
}

func (a Audio) AttenuationRadius() float64 { return a.c.props[AudioAttenuationRadius].AsFloat64() }

func (a Audio) SetAssetID(id string) error {
	return a.c.SetProperty(AudioAssetID, replicated.String(id))
}

func (a Audio) AssetID() string { return a.c.props[AudioAssetID].AsString() }

// Collision is the typed view over a Collision component. Bounding box
// corners are derived from Scale and never stored.
type Collision struct {
	c *Component
}

func AsCollision(c *Component) (Collision, error) {
	if c == nil || c.typ != ComponentTypeCollision {
		return Collision{}, ErrComponentTypeMismatch
	}
	return Collision{c: c}, nil
}

func (col Collision) SetScale(s replicated.Vector3) error {
	return col.c.SetProperty(CollisionScale, replicated.Vec3(s))
}

func (col Collision) Scale() replicated.Vector3 { return col.c.props[CollisionScale].AsVector3() }

func (col Collision) UnscaledBoundingBoxMin() replicated.Vector3 { return unitBoxMin }
func (col Collision) UnscaledBoundingBoxMax() replicated.Vector3 { return unitBoxMax }

func (col Collision) ScaledBoundingBoxMin() replicated.Vector3 {
	return unitBoxMin.Mul(col.Scale())
}

func (col Collision) ScaledBoundingBoxMax() replicated.Vector3 {
	return unitBoxMax.Mul(col.Scale())
}

// Script is the typed view over a Script component.
type Script struct {
	c *Component
}

func AsScript(c *Component) (Script, error) {
	if c == nil || c.typ != ComponentTypeScript {
		return Script{}, ErrComponentTypeMismatch
	}
	return Script{c: c}, nil
}

func (s Script) SetSource(src string) error {
	return s.c.SetProperty(ScriptSource, replicated.String(src))
}

func (s Script) Source() string { return s.c.props[ScriptSource].AsString() }

func (s Script) Scope() int64 { return s.c.props[ScriptScope].AsInt64() }

func (s Script) SetScope(scope int64) error {
	return s.c.SetProperty(ScriptScope, replicated.Int64(scope))
}
