// Package replicated holds the tagged value carried by every replicated
// component property and network event payload.
package replicated

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindVector3
	KindVector4
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindVector3:
		return "vec3"
	case KindVector4:
		return "vec4"
	default:
		return "invalid"
	}
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "bool":
		return KindBool, nil
	case "int64":
		return KindInt64, nil
	case "float64":
		return KindFloat64, nil
	case "string":
		return KindString, nil
	case "vec3":
		return KindVector3, nil
	case "vec4":
		return KindVector4, nil
	case "invalid", "":
		return KindInvalid, nil
	}
	return KindInvalid, fmt.Errorf("replicated: unknown kind %q", s)
}

type Vector3 struct {
	X, Y, Z float64
}

// Mul multiplies componentwise.
func (v Vector3) Mul(o Vector3) Vector3 {
	return Vector3{X: v.X * o.X, Y: v.Y * o.Y, Z: v.Z * o.Z}
}

func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func One() Vector3 { return Vector3{X: 1, Y: 1, Z: 1} }

type Vector4 struct {
	X, Y, Z, W float64
}

// Identity is the identity quaternion.
func Identity() Vector4 { return Vector4{W: 1} }

// Value is a closed variant over the replicable primitive types. The zero
// Value has KindInvalid.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	v    Vector4
}

func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }
func Int64(i int64) Value     { return Value{kind: KindInt64, i: i} }
func Float64(f float64) Value { return Value{kind: KindFloat64, f: f} }
func String(s string) Value   { return Value{kind: KindString, s: s} }

func Vec3(v Vector3) Value {
	return Value{kind: KindVector3, v: Vector4{X: v.X, Y: v.Y, Z: v.Z}}
}

func Vec4(v Vector4) Value { return Value{kind: KindVector4, v: v} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsValid() bool  { return v.kind != KindInvalid }
func (v Value) Is(k Kind) bool { return v.kind == k }

func (v Value) AsBool() bool {
	v.must(KindBool)
	return v.b
}

func (v Value) AsInt64() int64 {
	v.must(KindInt64)
	return v.i
}

func (v Value) AsFloat64() float64 {
	v.must(KindFloat64)
	return v.f
}

func (v Value) AsString() string {
	v.must(KindString)
	return v.s
}

func (v Value) AsVector3() Vector3 {
	v.must(KindVector3)
	return Vector3{X: v.v.X, Y: v.v.Y, Z: v.v.Z}
}

func (v Value) AsVector4() Vector4 {
	v.must(KindVector4)
	return v.v
}

func (v Value) must(k Kind) {
	if v.kind != k {
		panic(&TypeMismatchError{Want: k, Got: v.kind})
	}
}

// Equal reports whether both values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt64:
		return v.i == o.i
	case KindFloat64:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindVector3, KindVector4:
		return v.v == o.v
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt64:
		return strconv.FormatInt(v.i, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindVector3:
		return fmt.Sprintf("(%g, %g, %g)", v.v.X, v.v.Y, v.v.Z)
	case KindVector4:
		return fmt.Sprintf("(%g, %g, %g, %g)", v.v.X, v.v.Y, v.v.Z, v.v.W)
	default:
		return "<invalid>"
	}
}

type wireValue struct {
	Kind  string          `json:"k"`
	Value json.RawMessage `json:"v,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindBool:
		payload = v.b
	case KindInt64:
		payload = v.i
	case KindFloat64:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("replicated: cannot encode %v", v.f)
		}
		payload = v.f
	case KindString:
		payload = v.s
	case KindVector3:
		payload = [3]float64{v.v.X, v.v.Y, v.v.Z}
	case KindVector4:
		payload = [4]float64{v.v.X, v.v.Y, v.v.Z, v.v.W}
	default:
		return json.Marshal(wireValue{Kind: v.kind.String()})
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Kind: v.kind.String(), Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := parseKind(w.Kind)
	if err != nil {
		return err
	}
	switch kind {
	case KindBool:
		var b bool
		err = json.Unmarshal(w.Value, &b)
		*v = Bool(b)
	case KindInt64:
		var i int64
		err = json.Unmarshal(w.Value, &i)
		*v = Int64(i)
	case KindFloat64:
		var f float64
		err = json.Unmarshal(w.Value, &f)
		*v = Float64(f)
	case KindString:
		var s string
		err = json.Unmarshal(w.Value, &s)
		*v = String(s)
	case KindVector3:
		var a [3]float64
		err = json.Unmarshal(w.Value, &a)
		*v = Vec3(Vector3{X: a[0], Y: a[1], Z: a[2]})
	case KindVector4:
		var a [4]float64
		err = json.Unmarshal(w.Value, &a)
		*v = Vec4(Vector4{X: a[0], Y: a[1], Z: a[2], W: a[3]})
	default:
		*v = Value{}
	}
	if err != nil {
		return fmt.Errorf("replicated: decode %s: %w", kind, err)
	}
	return nil
}
