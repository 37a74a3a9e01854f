package fit

import (
	"errors"
	"fmt"

	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/isoskin"
	"github.com/soypat/isoskin/field"
)

// Fitter drives fitting passes over a mesh across animation frames. It owns
// the vertex buffers and the active list and compacts the latter between
// passes.
type Fitter struct {
	ev     field.Evaluator
	v      *Vertices
	active ActiveList
}

// NewFitter captures the base potential of the rest pose positions under ev.
// ev must evaluate the skeleton in its rest pose at this point.
func NewFitter(ev field.Evaluator, rest []ms3.Vec) (*Fitter, error) {
	if len(rest) == 0 {
		return nil, errors.New("no rest pose vertices")
	}
	v := NewVertices(rest)
	err := BasePotential(ev, v.Pos, v.BasePotential, v.Gradient)
	if err != nil {
		return nil, err
	}
	return &Fitter{ev: ev, v: v, active: NewActiveList(len(rest))}, nil
}

// Vertices returns the buffers the fitter operates on.
func (ft *Fitter) Vertices() *Vertices { return ft.v }

// Active returns the current active list.
func (ft *Fitter) Active() ActiveList { return ft.active }

// SetEvaluator replaces the evaluator used for subsequent passes.
// Base potentials are left untouched.
func (ft *Fitter) SetEvaluator(ev field.Evaluator) { ft.ev = ev }

// Reset starts a new frame. pos are the vertex positions before fitting,
// usually the output of a geometric skinning. pos is copied, statuses are
// reset and every vertex becomes active again.
func (ft *Fitter) Reset(pos []ms3.Vec) error {
	if len(pos) != ft.v.Len() {
		return fmt.Errorf("%w: %d positions for %d vertices", ErrBufferMismatch, len(pos), ft.v.Len())
	}
	copy(ft.v.Pos, pos)
	for i := range ft.v.Status {
		ft.v.Status[i] = isoskin.StatusRunning
		ft.v.Smooth[i] = 0
		ft.v.IsoSmooth[i] = 0
	}
	ft.active = NewActiveList(ft.v.Len())
	return nil
}

// Step runs a single pass over the active vertices and compacts the active
// list afterwards. It returns the number of vertices left to fit.
func (ft *Fitter) Step(cfg Config) (remaining int, err error) {
	err = Pass(ft.ev, ft.v, ft.active, cfg)
	if err != nil {
		return len(ft.active), err
	}
	before := len(ft.active)
	ft.active = ft.active.Compact()
	isoskin.Logger().Debug("fit pass", "full", cfg.FullFit, "active", before, "remaining", len(ft.active))
	return len(ft.active), nil
}

// Run fits the current frame with up to passes intermediate passes, stopping
// early once no vertex is left active, followed by one full pass over the
// vertices that did not settle. The full pass uses cfg with FullFit set.
// If onPass is not nil it receives the report of every pass run, in order.
func (ft *Fitter) Run(passes int, cfg Config, onPass func(Report)) (Report, error) {
	var rep Report
	step := func(full bool) error {
		cfg.FullFit = full
		_, err := ft.Step(cfg)
		if err != nil {
			return err
		}
		if onPass != nil {
			rep = Summarize(ft.ev, ft.v)
			onPass(rep)
		}
		return nil
	}
	ran := false
	for i := 0; i < passes && len(ft.active) > 0; i++ {
		if err := step(false); err != nil {
			return Report{}, err
		}
		ran = true
	}
	if len(ft.active) > 0 {
		if err := step(true); err != nil {
			return Report{}, err
		}
		ran = true
	}
	if onPass == nil || !ran {
		rep = Summarize(ft.ev, ft.v)
	}
	isoskin.Logger().Info("fit finished", "report", rep.String())
	return rep, nil
}
