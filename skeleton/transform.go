package skeleton

import (
	"github.com/soypat/glgl/math/ms3"
)

// Rigid is a rotation followed by a translation: p' = q*p*q⁻¹ + T.
// The zero value is not valid, use Identity.
type Rigid struct {
	// q is a unit quaternion.
	q ms3.Quat
	t ms3.Vec
}

// Identity returns the identity transform.
func Identity() Rigid {
	return Rigid{q: ms3.QuatIdent()}
}

// Translate returns a pure translation by v.
func Translate(v ms3.Vec) Rigid {
	return Rigid{q: ms3.QuatIdent(), t: v}
}

// RotateAbout returns a rotation of angle radians around the axis passing
// through pivot. axis need not be normalized but must not be zero.
func RotateAbout(pivot, axis ms3.Vec, angle float32) Rigid {
	q := ms3.QuatRotate(angle, ms3.Unit(axis))
	return Rigid{q: q, t: ms3.Sub(pivot, q.Rotate(pivot))}
}

// Apply transforms point p.
func (m Rigid) Apply(p ms3.Vec) ms3.Vec {
	return ms3.Add(m.q.Rotate(p), m.t)
}

// ApplyInverse transforms p by the inverse of m.
func (m Rigid) ApplyInverse(p ms3.Vec) ms3.Vec {
	return m.q.Conjugate().Rotate(ms3.Sub(p, m.t))
}

// Compose returns the transform that applies n first and then m.
func (m Rigid) Compose(n Rigid) Rigid {
	return Rigid{q: m.q.Mul(n.q), t: m.Apply(n.t)}
}
