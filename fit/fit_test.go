package fit

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/chewxy/math32"
	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/isoskin"
	"github.com/soypat/isoskin/field"
)

// pointPotential is the field of a point charge at the origin: f(p) = 1/|p|.
// Its isosurfaces are spheres of radius 1/f.
var pointPotential = field.EvaluatorFunc(func(p ms3.Vec) (float32, ms3.Vec) {
	r := ms3.Norm(p)
	return 1 / r, ms3.Scale(-1/(r*r*r), p)
})

var constantField = field.EvaluatorFunc(func(p ms3.Vec) (float32, ms3.Vec) {
	return 1, ms3.Vec{}
})

type countingEvaluator struct {
	ev    field.Evaluator
	calls atomic.Int64
}

func (c *countingEvaluator) Evaluate(p ms3.Vec) (float32, ms3.Vec) {
	c.calls.Add(1)
	return c.ev.Evaluate(p)
}

// singleVertex returns buffers for a single vertex at pos with target potential base.
func singleVertex(pos ms3.Vec, base float32) (*Vertices, ActiveList) {
	v := NewVertices([]ms3.Vec{pos})
	v.BasePotential[0] = base
	return v, NewActiveList(1)
}

func TestPassNotDisplaced(t *testing.T) {
	pos := ms3.Vec{X: 0.3, Y: -0.4, Z: 1.2}
	base, _ := pointPotential.Evaluate(pos)
	v, active := singleVertex(pos, base+isoskin.Epsilon/2)
	ev := &countingEvaluator{ev: pointPotential}
	err := Pass(ev, v, active, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if v.Status[0] != isoskin.StatusNotDisplaced {
		t.Errorf("got status %s, want %s", v.Status[0], isoskin.StatusNotDisplaced)
	}
	if v.Pos[0] != pos {
		t.Errorf("position moved from %v to %v", pos, v.Pos[0])
	}
	if active[0] != Settled {
		t.Error("vertex should have settled")
	}
	if n := ev.calls.Load(); n != 1 {
		t.Errorf("got %d field evaluations, want 1", n)
	}
}

func TestPassNullGradient(t *testing.T) {
	pos := ms3.Vec{X: 1, Y: 2, Z: 3}
	v, active := singleVertex(pos, 0.5)
	err := Pass(constantField, v, active, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if v.Status[0] != isoskin.StatusNullGradient {
		t.Errorf("got status %s, want %s", v.Status[0], isoskin.StatusNullGradient)
	}
	if v.Pos[0] != pos {
		t.Errorf("position moved from %v to %v", pos, v.Pos[0])
	}
	if active[0] != Settled {
		t.Error("vertex should have settled")
	}
}

func TestPassPointPotentialFitted(t *testing.T) {
	const iso = 0.5 // Sphere of radius 2.
	for _, test := range []struct {
		name   string
		start  ms3.Vec
		newton bool
		step   float32
	}{
		{name: "fixed inside", start: ms3.Vec{X: 1}, step: 0.05},
		{name: "fixed outside", start: ms3.Vec{Y: -3.1, Z: 0.2}, step: 0.07},
		{name: "newton inside", start: ms3.Vec{X: 0.6, Y: 0.6, Z: 0.3}, newton: true, step: 1},
		{name: "newton outside", start: ms3.Vec{Z: 2.6}, newton: true, step: 1},
		{name: "damped newton", start: ms3.Vec{X: 1.5}, newton: true, step: 0.6},
	} {
		t.Run(test.name, func(t *testing.T) {
			v, active := singleVertex(test.start, iso)
			cfg := DefaultConfig()
			cfg.Iterations = 60
			cfg.Newton = test.newton
			cfg.StepLength = test.step
			err := Pass(pointPotential, v, active, cfg)
			if err != nil {
				t.Fatal(err)
			}
			if v.Status[0] != isoskin.StatusFitted {
				t.Fatalf("got status %s, want %s", v.Status[0], isoskin.StatusFitted)
			}
			f, g := pointPotential.Evaluate(v.Pos[0])
			if absf(f-iso) >= isoskin.Epsilon {
				t.Errorf("residual %g not below epsilon at %v", absf(f-iso), v.Pos[0])
			}
			if ms3.Norm(ms3.Sub(g, v.Gradient[0])) > 1e-3 {
				t.Errorf("stored gradient %v differs from gradient at fitted point %v", v.Gradient[0], g)
			}
			// The march follows the radial gradient so the direction is preserved.
			if c := cosine(test.start, v.Pos[0]); c < 0.9999 {
				t.Errorf("vertex left its radial line: cosine %g", c)
			}
			if active[0] != Settled {
				t.Error("vertex should have settled")
			}
		})
	}
}

func TestPassFullFitNeverSettles(t *testing.T) {
	v := NewVertices([]ms3.Vec{{X: 1}, {X: 2}, {}})
	v.BasePotential[0] = 0.5
	v.BasePotential[1] = 0.5
	active := NewActiveList(3)
	ev := field.EvaluatorFunc(func(p ms3.Vec) (float32, ms3.Vec) {
		if p == (ms3.Vec{}) {
			return 0, ms3.Vec{}
		}
		return pointPotential(p)
	})
	cfg := DefaultConfig()
	cfg.FullFit = true
	cfg.Iterations = 60
	err := Pass(ev, v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := []isoskin.Status{isoskin.StatusFitted, isoskin.StatusNotDisplaced, isoskin.StatusNullGradient}
	for i, s := range want {
		if v.Status[i] != s {
			t.Errorf("vertex %d: got status %s, want %s", i, v.Status[i], s)
		}
		if active[i] != int32(i) {
			t.Errorf("full fit settled slot %d", i)
		}
	}
}

func TestPassMaxIter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Iterations = 2
	cfg.StepLength = 0.01
	v, active := singleVertex(ms3.Vec{X: 1}, 0.5)
	err := Pass(pointPotential, v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status[0] != isoskin.StatusMaxIter {
		t.Fatalf("got status %s, want %s", v.Status[0], isoskin.StatusMaxIter)
	}
	if active[0] != 0 {
		t.Error("exhausted vertex must remain active by default")
	}
	if got := ms3.Norm(v.Pos[0]); absf(got-1.02) > 1e-5 {
		t.Errorf("expected two steps of 0.01, got radius %g", got)
	}

	cfg.RetireExhausted = true
	v, active = singleVertex(ms3.Vec{X: 1}, 0.5)
	err = Pass(pointPotential, v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if active[0] != Settled {
		t.Error("RetireExhausted should settle exhausted vertices")
	}
}

// flatteningField is f=x with a +X gradient of norm 1 until x reaches flat
// and of norm weak past it.
func flatteningField(flat, weak float32) field.Evaluator {
	return field.EvaluatorFunc(func(p ms3.Vec) (float32, ms3.Vec) {
		if p.X < flat {
			return p.X, ms3.Vec{X: 1}
		}
		return p.X, ms3.Vec{X: weak}
	})
}

func TestPassVanishingGradient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepLength = 0.05
	cfg.Iterations = 50
	// Gradient norm 1e-4 past x=0.1: squared norm is below the vanishing threshold.
	ev := &countingEvaluator{ev: flatteningField(0.1, 1e-4)}
	v, active := singleVertex(ms3.Vec{X: 0.01}, 1)
	err := Pass(ev, v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status[0] != isoskin.StatusMaxIter {
		t.Errorf("got status %s, want %s", v.Status[0], isoskin.StatusMaxIter)
	}
	if active[0] == Settled {
		t.Error("vertex stopped by a vanishing gradient must stay active")
	}
	if absf(v.Pos[0].X-0.11) > 1e-5 {
		t.Errorf("vertex should stop at the first weak gradient point x=0.11, got %v", v.Pos[0])
	}
	if n := ev.calls.Load(); n != 3 {
		t.Errorf("got %d field evaluations, want 3", n)
	}

	// Squared norm 4e-6 is above the threshold so the march goes on.
	cfg.Iterations = 5
	ev = &countingEvaluator{ev: flatteningField(0.1, 2e-3)}
	v, active = singleVertex(ms3.Vec{X: 0.01}, 1)
	err = Pass(ev, v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status[0] != isoskin.StatusMaxIter || active[0] == Settled {
		t.Errorf("got status %s slot %d", v.Status[0], active[0])
	}
	if n := ev.calls.Load(); n != 6 {
		t.Errorf("weak gradient march: got %d field evaluations, want 6", n)
	}
	if absf(v.Pos[0].X-0.26) > 1e-4 {
		t.Errorf("expected five steps of 0.05, got %v", v.Pos[0])
	}
}

func TestPassNewtonRootReached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Newton = true
	cfg.StepLength = 1
	// f=x everywhere: a single undamped Newton step lands on the target.
	ev := &countingEvaluator{ev: flatteningField(1, 1)}
	v, active := singleVertex(ms3.Vec{}, 0.5)
	err := Pass(ev, v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status[0] != isoskin.StatusFitted {
		t.Fatalf("got status %s, want %s", v.Status[0], isoskin.StatusFitted)
	}
	if v.Pos[0] != (ms3.Vec{X: 0.5}) {
		t.Errorf("got position %v, want x=0.5", v.Pos[0])
	}
	// Initial evaluation and the Newton step. Refinement would evaluate more.
	if n := ev.calls.Load(); n != 2 {
		t.Errorf("got %d field evaluations, want 2", n)
	}
	if active[0] != Settled {
		t.Error("vertex should have settled")
	}
}

func TestPassZeroIterations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Iterations = 0
	pos := ms3.Vec{X: 1}
	v, active := singleVertex(pos, 0.5)
	err := Pass(pointPotential, v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status[0] != isoskin.StatusMaxIter || v.Pos[0] != pos || active[0] != 0 {
		t.Errorf("got status %s pos %v slot %d", v.Status[0], v.Pos[0], active[0])
	}
}

// foldField has a constant +X gradient until x reaches fold, where the
// reported gradient turns 90 degrees.
func foldField(fold float32) field.Evaluator {
	return field.EvaluatorFunc(func(p ms3.Vec) (float32, ms3.Vec) {
		if p.X < fold {
			return p.X, ms3.Vec{X: 1}
		}
		return p.X, ms3.Vec{Y: 1}
	})
}

// pitField increases with x until x reaches top, then decreases.
func pitField(top float32) field.Evaluator {
	return field.EvaluatorFunc(func(p ms3.Vec) (float32, ms3.Vec) {
		if p.X < top {
			return p.X, ms3.Vec{X: 1}
		}
		return 2*top - p.X, ms3.Vec{X: 1}
	})
}

func TestPassGradientDivergence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepLength = 0.05
	cfg.SmoothStrength = 0.7
	v, active := singleVertex(ms3.Vec{}, 1)
	err := Pass(foldField(0.12), v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status[0] != isoskin.StatusGradientDivergence {
		t.Fatalf("got status %s, want %s", v.Status[0], isoskin.StatusGradientDivergence)
	}
	if v.Smooth[0] != cfg.SmoothStrength {
		t.Errorf("smoothing weight got %g, want %g", v.Smooth[0], cfg.SmoothStrength)
	}
	if absf(v.Pos[0].X-0.15) > 1e-5 {
		t.Errorf("vertex should stop at the diverging candidate x=0.15, got %v", v.Pos[0])
	}
	if active[0] != Settled {
		t.Error("vertex should have settled")
	}

	cfg.LocateDivergence = true
	v, active = singleVertex(ms3.Vec{}, 1)
	err = Pass(foldField(0.12), v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if absf(v.Pos[0].X-0.12) > 1e-3 {
		t.Errorf("located divergence at %v, want x=0.12", v.Pos[0])
	}
}

func TestPassPotentialPit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepLength = 0.05
	cfg.SmoothStrength = 0.25
	cfg.DetectPit = true
	v, active := singleVertex(ms3.Vec{}, 1)
	err := Pass(pitField(0.12), v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status[0] != isoskin.StatusPotentialPit {
		t.Fatalf("got status %s, want %s", v.Status[0], isoskin.StatusPotentialPit)
	}
	if v.Smooth[0] != cfg.SmoothStrength {
		t.Errorf("smoothing weight got %g, want %g", v.Smooth[0], cfg.SmoothStrength)
	}
	if active[0] != Settled {
		t.Error("vertex should have settled")
	}

	cfg.DetectPit = false
	v, active = singleVertex(ms3.Vec{}, 1)
	err = Pass(pitField(0.12), v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status[0] != isoskin.StatusMaxIter {
		t.Errorf("without pit detection got status %s, want %s", v.Status[0], isoskin.StatusMaxIter)
	}
	if v.Smooth[0] != 0 {
		t.Errorf("smoothing weight should be untouched, got %g", v.Smooth[0])
	}
}

func TestPassIsoSmoothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SmoothStrength = 0.5
	cfg.Slope = 2
	// Start with deviation 0.5 from the target isovalue.
	v, active := singleVertex(ms3.Vec{X: 1}, 0.5)
	err := Pass(pointPotential, v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := isoskin.Shape(0.5, 2) * 0.5
	if absf(v.IsoSmooth[0]-want) > 1e-6 {
		t.Errorf("iso smoothing got %g, want %g", v.IsoSmooth[0], want)
	}
	cfg.SmoothFromIso = false
	v, active = singleVertex(ms3.Vec{X: 1}, 0.5)
	err = Pass(pointPotential, v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v.IsoSmooth[0] != 0 {
		t.Errorf("iso smoothing written while disabled: %g", v.IsoSmooth[0])
	}
}

func TestPassSkipsSettled(t *testing.T) {
	v := NewVertices([]ms3.Vec{{X: 1}, {X: 1}})
	v.BasePotential[0], v.BasePotential[1] = 0.5, 0.5
	active := ActiveList{Settled, 1}
	cfg := DefaultConfig()
	cfg.Iterations = 60
	err := Pass(pointPotential, v, active, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v.Status[0] != isoskin.StatusRunning || v.Pos[0] != (ms3.Vec{X: 1}) {
		t.Errorf("settled vertex was processed: %s %v", v.Status[0], v.Pos[0])
	}
	if v.Status[1] != isoskin.StatusFitted {
		t.Errorf("active vertex got status %s", v.Status[1])
	}
}

func TestPassWorkersAgree(t *testing.T) {
	pos := sphereSamples(500, 1.3)
	var results [][]ms3.Vec
	for _, workers := range []int{1, 3, 16} {
		v := NewVertices(pos)
		for i := range v.BasePotential {
			v.BasePotential[i] = 0.5
		}
		cfg := DefaultConfig()
		cfg.Iterations = 40
		cfg.Workers = workers
		active := NewActiveList(len(pos))
		err := Pass(pointPotential, v, active, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if active.Remaining() != 0 {
			t.Errorf("workers=%d: %d vertices left active", workers, active.Remaining())
		}
		results = append(results, v.Pos)
	}
	for i := 1; i < len(results); i++ {
		for j := range results[0] {
			if results[i][j] != results[0][j] {
				t.Fatalf("worker count changed result of vertex %d: %v != %v", j, results[i][j], results[0][j])
			}
		}
	}
}

func TestPassInvalidArguments(t *testing.T) {
	v := NewVertices(make([]ms3.Vec, 4))
	if err := Pass(nil, v, NewActiveList(4), DefaultConfig()); err == nil {
		t.Error("expected error for nil evaluator")
	}
	if err := Pass(pointPotential, v, ActiveList{0, 4}, DefaultConfig()); err == nil {
		t.Error("expected error for out of range id")
	}
	v.Pos[2] = ms3.Vec{X: 1}
	v.BasePotential[2] = 0.5
	if err := Pass(pointPotential, v, ActiveList{2, Settled, 2}, DefaultConfig()); !errors.Is(err, ErrDuplicateVertex) {
		t.Errorf("got %v, want ErrDuplicateVertex", err)
	}
	if v.Pos[2] != (ms3.Vec{X: 1}) || v.Status[2] != isoskin.StatusRunning {
		t.Error("rejected pass modified a vertex")
	}
	if err := Pass(pointPotential, v, ActiveList{Settled, Settled, 2}, DefaultConfig()); err != nil {
		t.Errorf("repeated settled slots must be accepted: %v", err)
	}
	bad := DefaultConfig()
	bad.StepLength = 0
	if err := Pass(pointPotential, v, NewActiveList(4), bad); err == nil {
		t.Error("expected error for zero step length")
	}
	v.Smooth = v.Smooth[:2]
	if err := Pass(pointPotential, v, NewActiveList(4), DefaultConfig()); !errors.Is(err, ErrBufferMismatch) {
		t.Errorf("got %v, want ErrBufferMismatch", err)
	}
}

func TestBasePotentialIdempotent(t *testing.T) {
	pos := sphereSamples(257, 1.7)
	pot1 := make([]float32, len(pos))
	pot2 := make([]float32, len(pos))
	grad := make([]ms3.Vec, len(pos))
	if err := BasePotential(pointPotential, pos, pot1, grad); err != nil {
		t.Fatal(err)
	}
	if err := BasePotential(pointPotential, pos, pot2, nil); err != nil {
		t.Fatal(err)
	}
	for i := range pot1 {
		if pot1[i] != pot2[i] {
			t.Fatalf("vertex %d: base potential %g != %g", i, pot1[i], pot2[i])
		}
		want, wantg := pointPotential.Evaluate(pos[i])
		if pot1[i] != want || grad[i] != wantg {
			t.Fatalf("vertex %d: got %g %v, want %g %v", i, pot1[i], grad[i], want, wantg)
		}
	}
	if err := BasePotential(pointPotential, pos, pot1[:3], nil); !errors.Is(err, ErrBufferMismatch) {
		t.Errorf("got %v, want ErrBufferMismatch", err)
	}
}

func TestActiveListCompact(t *testing.T) {
	al := ActiveList{0, Settled, 2, Settled, Settled, 5}
	if got := al.Remaining(); got != 3 {
		t.Errorf("Remaining got %d, want 3", got)
	}
	got := al.Compact()
	want := ActiveList{0, 2, 5}
	if len(got) != len(want) {
		t.Fatalf("Compact got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Compact got %v, want %v", got, want)
		}
	}
	if len(ActiveList{Settled}.Compact()) != 0 {
		t.Error("fully settled list should compact to empty")
	}
}

func TestFitterRun(t *testing.T) {
	rest := sphereSamples(300, 2) // On the f=0.5 isosurface.
	ft, err := NewFitter(pointPotential, rest)
	if err != nil {
		t.Fatal(err)
	}
	// Deform the mesh: shrink the bottom half, inflate the top.
	posed := make([]ms3.Vec, len(rest))
	for i, p := range rest {
		if p.Z < 0 {
			posed[i] = ms3.Scale(0.8, p)
		} else {
			posed[i] = ms3.Scale(1.15, p)
		}
	}
	if err := ft.Reset(posed); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Iterations = 10
	var passes []Report
	rep, err := ft.Run(4, cfg, func(r Report) { passes = append(passes, r) })
	if err != nil {
		t.Fatal(err)
	}
	if len(passes) == 0 || len(passes) > 5 {
		t.Fatalf("got %d pass reports for at most 4 passes and a full pass", len(passes))
	}
	if passes[len(passes)-1].MaxResidual != rep.MaxResidual || passes[len(passes)-1].Converged != rep.Converged {
		t.Errorf("last pass report %s differs from returned report %s", passes[len(passes)-1], rep)
	}
	if rep.Converged != len(rest) {
		t.Errorf("converged %d/%d: %s", rep.Converged, len(rest), rep)
	}
	if rep.MaxResidual >= isoskin.Epsilon {
		t.Errorf("max residual %g", rep.MaxResidual)
	}
	if got := rep.Count(isoskin.StatusFitted) + rep.Count(isoskin.StatusNotDisplaced); got != len(rest) {
		t.Errorf("expected every vertex fitted or not displaced: %s", rep)
	}
	if len(ft.Active()) != 0 {
		t.Errorf("%d vertices left active", len(ft.Active()))
	}
	for i, p := range ft.Vertices().Pos {
		if r := ms3.Norm(p); absf(r-2) > 1e-3 {
			t.Fatalf("vertex %d at radius %g, want 2", i, r)
		}
	}
	if err := ft.Reset(posed[:1]); !errors.Is(err, ErrBufferMismatch) {
		t.Errorf("got %v, want ErrBufferMismatch", err)
	}
}

func TestSummarize(t *testing.T) {
	v := NewVertices([]ms3.Vec{{X: 1}, {X: 2}, {X: 4}})
	v.BasePotential[0], v.BasePotential[1], v.BasePotential[2] = 1, 0.25, 0.25
	v.Status[0] = isoskin.StatusFitted
	v.Status[1] = isoskin.StatusFitted
	v.Status[2] = isoskin.StatusMaxIter
	rep := Summarize(pointPotential, v)
	if rep.Count(isoskin.StatusFitted) != 2 || rep.Count(isoskin.StatusMaxIter) != 1 {
		t.Errorf("bad counts %v", rep.Counts)
	}
	if rep.Converged != 2 {
		t.Errorf("converged got %d, want 2", rep.Converged)
	}
	// Residuals are 0, 0.25 and 0.
	if math32.Abs(float32(rep.MaxResidual)-0.25) > 1e-6 {
		t.Errorf("max residual got %g, want 0.25", rep.MaxResidual)
	}
	if math32.Abs(float32(rep.MeanResidual)-0.25/3) > 1e-6 {
		t.Errorf("mean residual got %g, want %g", rep.MeanResidual, 0.25/3)
	}
}

func BenchmarkPass(b *testing.B) {
	pos := sphereSamples(1<<14, 1.3)
	v := NewVertices(pos)
	for i := range v.BasePotential {
		v.BasePotential[i] = 0.5
	}
	cfg := DefaultConfig()
	cfg.FullFit = true
	cfg.Iterations = 40
	active := NewActiveList(len(pos))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		copy(v.Pos, pos)
		err := Pass(pointPotential, v, active, cfg)
		if err != nil {
			b.Fatal(err)
		}
	}
}

// sphereSamples returns n points of a Fibonacci lattice over a sphere of radius r.
func sphereSamples(n int, r float32) []ms3.Vec {
	const golden = 2.39996322972865332 // pi*(3-sqrt(5))
	pts := make([]ms3.Vec, n)
	for i := range pts {
		z := 1 - 2*(float32(i)+0.5)/float32(n)
		rad := math32.Sqrt(1 - z*z)
		s, c := math32.Sincos(golden * float32(i))
		pts[i] = ms3.Scale(r, ms3.Vec{X: c * rad, Y: s * rad, Z: z})
	}
	return pts
}
