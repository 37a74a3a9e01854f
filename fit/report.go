package fit

import (
	"fmt"
	"strings"

	"github.com/soypat/isoskin"
	"github.com/soypat/isoskin/field"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Report summarizes the state of a set of vertices after a pass.
type Report struct {
	// Counts holds the number of vertices per status.
	Counts [isoskin.NumStatus]int
	// MeanResidual and MaxResidual are statistics of |f(p)-base| over all vertices.
	MeanResidual float64
	MaxResidual  float64
	// Converged is the number of vertices whose residual is below isoskin.Epsilon.
	Converged int
}

// Summarize evaluates the residual of every vertex and tallies statuses.
func Summarize(ev field.Evaluator, v *Vertices) Report {
	var rep Report
	for _, s := range v.Status {
		if int(s) < len(rep.Counts) {
			rep.Counts[s]++
		}
	}
	if v.Len() == 0 {
		return rep
	}
	res := make([]float64, v.Len())
	parallel(len(res), 0, func(start, end int) {
		for i := start; i < end; i++ {
			f, _ := ev.Evaluate(v.Pos[i])
			res[i] = float64(absf(f - v.BasePotential[i]))
		}
	})
	for _, r := range res {
		if r < isoskin.Epsilon {
			rep.Converged++
		}
	}
	rep.MeanResidual = stat.Mean(res, nil)
	rep.MaxResidual = floats.Max(res)
	return rep
}

// Count returns the number of vertices with status s.
func (r Report) Count(s isoskin.Status) int {
	if int(s) >= len(r.Counts) {
		return 0
	}
	return r.Counts[s]
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "converged=%d mean=%.3g max=%.3g", r.Converged, r.MeanResidual, r.MaxResidual)
	for s, c := range r.Counts {
		if c > 0 {
			fmt.Fprintf(&b, " %q=%d", isoskin.Status(s).String(), c)
		}
	}
	return b.String()
}
