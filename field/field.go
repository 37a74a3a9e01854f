// Package field adapts a skeleton's implicit potential field to the uniform
// point query used by the fitting kernel. Two evaluators are provided:
// [Full] blends every bone and [Bounded] blends only a small bone [Subset].
package field

import (
	"github.com/soypat/glgl/math/ms3"
)

// Evaluator is a pure potential field query. Evaluate returns the scalar
// potential at p and its gradient. Implementations must be safe for
// concurrent use since a fitting pass queries them from many goroutines.
type Evaluator interface {
	Evaluate(p ms3.Vec) (potential float32, grad ms3.Vec)
}

// EvaluatorFunc adapts an ordinary function to the Evaluator interface.
type EvaluatorFunc func(p ms3.Vec) (float32, ms3.Vec)

// Evaluate calls f(p).
func (f EvaluatorFunc) Evaluate(p ms3.Vec) (float32, ms3.Vec) { return f(p) }

// BoneID identifies a bone inside the field. It is distinct from the
// host facing bone index which is resolved with [Bones.BoneID].
type BoneID int32

// NoBone is the invalid BoneID.
const NoBone BoneID = -1

// IsValid reports whether id refers to a bone.
func (id BoneID) IsValid() bool { return id >= 0 }

// BoneFunc evaluates the contribution of a single bone at p.
type BoneFunc func(id BoneID, p ms3.Vec) (float32, ms3.Vec)

// Bones is the skeleton environment the field is built from. How per-bone
// primitives are built and combined is up to the implementation.
type Bones interface {
	// EvalBone returns the potential and gradient of bone id alone at p.
	EvalBone(id BoneID, p ms3.Vec) (float32, ms3.Vec)
	// Blend combines the per-bone potentials at p into the skeleton potential.
	// Every bone contribution must be obtained by calling eval.
	Blend(p ms3.Vec, eval BoneFunc) (float32, ms3.Vec)
	// BoneID resolves a host facing bone index. Unknown indices return NoBone.
	BoneID(hostIdx int) BoneID
}

// Full evaluates the potential of the whole skeleton.
type Full struct {
	bones Bones
	eval  BoneFunc
}

var _ Evaluator = (*Full)(nil)

// NewFull returns an evaluator blending every bone of b.
func NewFull(b Bones) *Full {
	if b == nil {
		panic("nil Bones argument")
	}
	return &Full{bones: b, eval: b.EvalBone}
}

// Evaluate returns the skeleton potential and gradient at p.
func (f *Full) Evaluate(p ms3.Vec) (float32, ms3.Vec) {
	return f.bones.Blend(p, f.eval)
}

// Bounded evaluates the potential of the bones in a Subset only.
// Bones outside of the subset contribute zero potential and a zero gradient.
// Bounded holds its own copy of the subset so it is never affected by later
// selections.
type Bounded struct {
	bones  Bones
	subset Subset
	eval   BoneFunc
}

var _ Evaluator = (*Bounded)(nil)

// NewBounded returns an evaluator blending only the bones in s.
func NewBounded(b Bones, s Subset) *Bounded {
	if b == nil {
		panic("nil Bones argument")
	}
	bd := &Bounded{bones: b, subset: s}
	bd.eval = bd.evalBone
	return bd
}

// Evaluate returns the potential and gradient of the subset at p.
func (bd *Bounded) Evaluate(p ms3.Vec) (float32, ms3.Vec) {
	return bd.bones.Blend(p, bd.eval)
}

// Subset returns the bone subset the evaluator was built with.
func (bd *Bounded) Subset() Subset { return bd.subset }

func (bd *Bounded) evalBone(id BoneID, p ms3.Vec) (float32, ms3.Vec) {
	if !bd.subset.Contains(id) {
		return 0, ms3.Vec{}
	}
	return bd.bones.EvalBone(id, p)
}
