// Package skeleton implements a reference implicit skeleton made of capsule
// bones with compactly supported falloff. It satisfies [field.Bones] and is
// the field the fitting tools and demos are exercised against.
package skeleton

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/isoskin/field"
)

// Iso is the potential value of the surface enclosing the skeleton at rest.
const Iso = 0.5

// Bone is a capsule primitive. Its potential is 1 on the Head-Tail segment
// and decays to 0 at distance Radius from it.
type Bone struct {
	Head, Tail ms3.Vec
	Radius     float32
}

// Evaluate returns the potential and gradient of the bone at p.
func (b Bone) Evaluate(p ms3.Vec) (float32, ms3.Vec) {
	c := b.closest(p)
	pc := ms3.Sub(p, c)
	r2 := b.Radius * b.Radius
	d2 := ms3.Dot(pc, pc)
	if d2 >= r2 {
		return 0, ms3.Vec{}
	}
	u := 1 - d2/r2
	return u * u * u, ms3.Scale(-6*u*u/r2, pc)
}

// Bounds returns the box containing the support of the bone.
func (b Bone) Bounds() ms3.Box {
	r := ms3.Vec{X: b.Radius, Y: b.Radius, Z: b.Radius}
	lo := ms3.MinElem(b.Head, b.Tail)
	hi := ms3.MaxElem(b.Head, b.Tail)
	return ms3.Box{Min: ms3.Sub(lo, r), Max: ms3.Add(hi, r)}
}

// closest returns the point of the bone segment closest to p.
func (b Bone) closest(p ms3.Vec) ms3.Vec {
	ab := ms3.Sub(b.Tail, b.Head)
	l2 := ms3.Dot(ab, ab)
	if l2 == 0 {
		return b.Head
	}
	t := ms3.Dot(ms3.Sub(p, b.Head), ab) / l2
	t = math32.Max(0, math32.Min(1, t))
	return ms3.Add(b.Head, ms3.Scale(t, ab))
}

func (b Bone) transform(m Rigid) Bone {
	return Bone{Head: m.Apply(b.Head), Tail: m.Apply(b.Tail), Radius: b.Radius}
}

// UnionFunc combines the potentials and gradients of two field contributions.
type UnionFunc func(fa float32, ga ms3.Vec, fb float32, gb ms3.Vec) (float32, ms3.Vec)

// MaxUnion keeps the strongest contribution.
func MaxUnion(fa float32, ga ms3.Vec, fb float32, gb ms3.Vec) (float32, ms3.Vec) {
	if fb > fa {
		return fb, gb
	}
	return fa, ga
}

// SumUnion adds contributions, blending bones smoothly near joints.
func SumUnion(fa float32, ga ms3.Vec, fb float32, gb ms3.Vec) (float32, ms3.Vec) {
	return fa + fb, ms3.Add(ga, gb)
}

// Skeleton is a set of posable bones. Host bone indices map one to one to
// bone ids. Pose and SetUnion must not be called concurrently with field
// queries.
type Skeleton struct {
	rest  []Bone
	posed []Bone
	union UnionFunc
}

var _ field.Bones = (*Skeleton)(nil)

// New returns a skeleton in rest pose blending bones with [MaxUnion].
func New(bones ...Bone) (*Skeleton, error) {
	if len(bones) == 0 {
		return nil, errors.New("skeleton needs at least one bone")
	}
	for i, b := range bones {
		if !(b.Radius > 0) {
			return nil, fmt.Errorf("bone %d: non-positive radius %g", i, b.Radius)
		}
	}
	s := &Skeleton{
		rest:  append([]Bone(nil), bones...),
		posed: append([]Bone(nil), bones...),
		union: MaxUnion,
	}
	return s, nil
}

// SetUnion sets the function blending bone contributions.
func (s *Skeleton) SetUnion(u UnionFunc) {
	if u == nil {
		panic("nil UnionFunc")
	}
	s.union = u
}

// Len returns the number of bones.
func (s *Skeleton) Len() int { return len(s.rest) }

// Bone returns bone id in its current pose.
func (s *Skeleton) Bone(id field.BoneID) Bone { return s.posed[id] }

// Pose places bone id at its rest geometry transformed by m.
func (s *Skeleton) Pose(id field.BoneID, m Rigid) error {
	if !s.valid(id) {
		return fmt.Errorf("pose: bone id %d out of range [0,%d)", id, len(s.rest))
	}
	s.posed[id] = s.rest[id].transform(m)
	return nil
}

// ResetPose returns every bone to its rest geometry.
func (s *Skeleton) ResetPose() {
	copy(s.posed, s.rest)
}

// Bounds returns a box containing the support of every posed bone.
func (s *Skeleton) Bounds() ms3.Box {
	bb := s.posed[0].Bounds()
	for _, b := range s.posed[1:] {
		bb = bb.Union(b.Bounds())
	}
	return bb
}

// EvalBone returns the potential and gradient of bone id alone at p.
// Unknown ids contribute nothing.
func (s *Skeleton) EvalBone(id field.BoneID, p ms3.Vec) (float32, ms3.Vec) {
	if !s.valid(id) {
		return 0, ms3.Vec{}
	}
	return s.posed[id].Evaluate(p)
}

// Blend combines every bone contribution at p with the skeleton's union.
func (s *Skeleton) Blend(p ms3.Vec, eval field.BoneFunc) (float32, ms3.Vec) {
	f, g := eval(0, p)
	for i := 1; i < len(s.posed); i++ {
		fi, gi := eval(field.BoneID(i), p)
		f, g = s.union(f, g, fi, gi)
	}
	return f, g
}

// BoneID maps a host bone index to a bone id.
func (s *Skeleton) BoneID(hostIdx int) field.BoneID {
	if hostIdx < 0 || hostIdx >= len(s.rest) {
		return field.NoBone
	}
	return field.BoneID(hostIdx)
}

func (s *Skeleton) valid(id field.BoneID) bool {
	return id >= 0 && int(id) < len(s.rest)
}
