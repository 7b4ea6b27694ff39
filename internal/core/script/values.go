package script

import (
	"github.com/Shopify/go-lua"

	"github.com/zeusync/spacesync/internal/core/replicated"
)

// pushValue pushes v onto the stack. Vectors become {x, y, z[, w]} tables.
func pushValue(l *lua.State, v replicated.Value) {
	switch v.Kind() {
	case replicated.KindBool:
		l.PushBoolean(v.AsBool())
	case replicated.KindInt64:
		l.PushInteger(int(v.AsInt64()))
	case replicated.KindFloat64:
		l.PushNumber(v.AsFloat64())
	case replicated.KindString:
		l.PushString(v.AsString())
	case replicated.KindVector3:
		vec := v.AsVector3()
		pushVector(l, vec.X, vec.Y, vec.Z)
	case replicated.KindVector4:
		vec := v.AsVector4()
		pushVector(l, vec.X, vec.Y, vec.Z)
		l.PushNumber(vec.W)
		l.SetField(-2, "w")
	default:
		l.PushNil()
	}
}

func pushVector(l *lua.State, x, y, z float64) {
	l.NewTable()
	l.PushNumber(x)
	l.SetField(-2, "x")
	l.PushNumber(y)
	l.SetField(-2, "y")
	l.PushNumber(z)
	l.SetField(-2, "z")
}

// toValue converts the Lua value at index. like carries the kind already
// stored for the property, if any, so integral numbers keep their kind.
func toValue(l *lua.State, index int, like replicated.Kind) (replicated.Value, bool) {
	switch l.TypeOf(index) {
	case lua.TypeBoolean:
		return replicated.Bool(l.ToBoolean(index)), true
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		if like == replicated.KindInt64 {
			return replicated.Int64(int64(n)), true
		}
		return replicated.Float64(n), true
	case lua.TypeString:
		s, _ := l.ToString(index)
		return replicated.String(s), true
	case lua.TypeTable:
		index = l.AbsIndex(index)
		x, y, z := tableNumber(l, index, "x"), tableNumber(l, index, "y"), tableNumber(l, index, "z")
		l.Field(index, "w")
		hasW := !l.IsNil(-1)
		w, _ := l.ToNumber(-1)
		l.Pop(1)
		if hasW || like == replicated.KindVector4 {
			return replicated.Vec4(replicated.Vector4{X: x, Y: y, Z: z, W: w}), true
		}
		return replicated.Vec3(replicated.Vector3{X: x, Y: y, Z: z}), true
	}
	return replicated.Value{}, false
}

func tableNumber(l *lua.State, index int, field string) float64 {
	l.Field(index, field)
	n, _ := l.ToNumber(-1)
	l.Pop(1)
	return n
}
