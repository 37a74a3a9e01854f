package fit

import (
	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/isoskin"
	"github.com/soypat/isoskin/field"
)

// matchVertex marches the vertex of active slot i along the field gradient
// until its potential matches its base potential. It only writes to the
// buffers of that vertex and to active[i].
func matchVertex(ev field.Evaluator, v *Vertices, active ActiveList, i int, cfg *Config) {
	id := active[i]
	if id == Settled {
		return
	}
	settle := func() {
		if !cfg.FullFit {
			active[i] = Settled
		}
	}
	iso := v.BasePotential[id]
	v0 := v.Pos[id]
	f0, gf0 := ev.Evaluate(v0)
	f0 -= iso
	if cfg.SmoothFromIso {
		v.IsoSmooth[id] = isoskin.Shape(f0, cfg.Slope) * cfg.SmoothStrength
	}
	v.Gradient[id] = gf0

	if ms3.Norm(gf0) <= isoskin.NullGradient {
		v.Status[id] = isoskin.StatusNullGradient
		settle()
		return
	}
	if absf(f0) < isoskin.Epsilon {
		v.Status[id] = isoskin.StatusNotDisplaced
		settle()
		return
	}
	v.Status[id] = isoskin.StatusMaxIter

	// Above the isovalue march down the gradient, below it march up.
	dl := cfg.StepLength
	if f0 > 0 {
		dl = -dl
	}
	r := Ray{Origin: v0}
	var t float32
	gfi := gf0
	absF := absf(f0)
	stopped := false
	for iter := 0; iter < cfg.Iterations; iter++ {
		r.Origin = v0
		if cfg.Newton {
			r.Dir = gf0
			t = dl * absF / norm2(gf0)
		} else {
			r.Dir = ms3.Unit(gf0)
			t = dl
		}
		vi := r.At(t)
		var fi float32
		fi, gfi = ev.Evaluate(vi)
		fi -= iso
		absF = absf(fi)

		if cfg.Newton && absF < isoskin.Epsilon {
			v.Status[id] = isoskin.StatusFitted
			stopped = true
			break
		}
		if fi*f0 <= 0 {
			t, gfi = Refine(ev, r, 0, t, iso)
			v.Status[id] = isoskin.StatusFitted
			stopped = true
			break
		}
		if cosine(gf0, gfi) < cfg.GradientThreshold {
			if cfg.LocateDivergence {
				t, gfi = LocateDivergence(ev, r, 0, t, gfi, cfg.GradientThreshold)
			}
			v.Smooth[id] = cfg.SmoothStrength
			v.Status[id] = isoskin.StatusGradientDivergence
			stopped = true
			break
		}
		if cfg.DetectPit && (fi-f0)*dl < 0 {
			v.Smooth[id] = cfg.SmoothStrength
			v.Status[id] = isoskin.StatusPotentialPit
			stopped = true
			break
		}
		v0, f0, gf0 = vi, fi, gfi
		if norm2(gf0) < isoskin.VanishingGradient2 {
			break
		}
	}
	if stopped || cfg.RetireExhausted {
		settle()
	}
	v.Gradient[id] = gfi
	v.Pos[id] = r.At(t)
}
