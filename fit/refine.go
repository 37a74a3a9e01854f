package fit

import (
	"github.com/chewxy/math32"
	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/isoskin"
	"github.com/soypat/isoskin/field"
)

// Ray is a parametrized half line Origin + t*Dir. Dir need not be normalized.
type Ray struct {
	Origin ms3.Vec
	Dir    ms3.Vec
}

// At returns the point of the ray at parameter t.
func (r Ray) At(t float32) ms3.Vec {
	return ms3.Add(r.Origin, ms3.Scale(t, r.Dir))
}

// Refine bisects the segment [t0,t1] of r looking for the parameter where
// the potential equals iso. It returns that parameter and the gradient of the
// last evaluated point.
//
// The endpoints are swapped once so that the search walks from the lower to
// the higher potential. The field is assumed monotonic over the segment and
// the bracket is not validated: on a non-monotonic segment the result may be
// a spurious crossing. Callers should only refine after observing a sign
// change of potential-iso between the endpoints.
func Refine(ev field.Evaluator, r Ray, t0, t1, iso float32) (t float32, grad ms3.Vec) {
	f0, _ := ev.Evaluate(r.At(t0))
	f1, grad := ev.Evaluate(r.At(t1))
	if f0 > f1 {
		t0, t1 = t1, t0
	}
	t = t0
	var f float32
	for i := 0; i < isoskin.RefineIterations; i++ {
		t = (t0 + t1) * 0.5
		f, grad = ev.Evaluate(r.At(t))
		if f > iso {
			t1 = t
			if f-iso < isoskin.Epsilon {
				break
			}
		} else {
			t0 = t
			if iso-f < isoskin.Epsilon {
				break
			}
		}
	}
	return t, grad
}

// LocateDivergence bisects [t0,t1] of r towards the parameter where the
// field gradient stops agreeing with both ends of the segment. g1 is the
// gradient at t1 and threshold is the cosine below which two gradients are
// said to diverge. It returns the last bisected parameter and its gradient.
func LocateDivergence(ev field.Evaluator, r Ray, t0, t1 float32, g1 ms3.Vec, threshold float32) (t float32, grad ms3.Vec) {
	_, g0 := ev.Evaluate(r.At(t0))
	t = t1
	grad = g1
	for i := 0; i < isoskin.RefineIterations; i++ {
		t = (t0 + t1) * 0.5
		_, grad = ev.Evaluate(r.At(t))
		if cosine(grad, g0) > threshold {
			t0 = t
			g0 = grad
		} else if cosine(grad, g1) > threshold {
			t1 = t
			g1 = grad
		} else {
			break // Divergence vanished between samples.
		}
	}
	return t, grad
}

// cosine returns the cosine of the angle between a and b.
// A zero vector is considered aligned with everything.
func cosine(a, b ms3.Vec) float32 {
	na, nb := ms3.Norm(a), ms3.Norm(b)
	if na == 0 || nb == 0 {
		return 1
	}
	return ms3.Dot(a, b) / (na * nb)
}

func norm2(a ms3.Vec) float32 { return ms3.Dot(a, a) }

func absf(f float32) float32 { return math32.Abs(f) }
