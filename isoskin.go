// Package isoskin holds the shared vocabulary of the implicit skinning
// potential-fitting engine: per-vertex fit status, the fixed numerical
// tolerances and the blend shaping function.
//
// Vertices of a posed mesh are marched along the gradient of a skeleton's
// implicit potential field until they recover the potential they had at
// rest. See package fit for the kernel and package field for the evaluators.
package isoskin

import "strconv"

const (
	// Epsilon is the residual below which a potential is considered to match its target isovalue.
	Epsilon = 0.0001
	// NullGradient is the gradient norm at or below which a vertex cannot be marched.
	NullGradient = 0.00001
	// VanishingGradient2 is the squared gradient norm that ends a march early.
	VanishingGradient2 = 0.001 * 0.001
	// RefineIterations is the bisection budget of the segment refiner.
	RefineIterations = 20
)

// Status is the outcome of fitting one vertex during one pass.
// It is a closed set: visualization layers switch over every value.
type Status uint8

const (
	// StatusRunning marks a vertex that has not been processed yet.
	StatusRunning Status = iota
	// StatusFitted means the isovalue was recovered by a sign crossing and refinement
	// or by a Newton step landing within Epsilon.
	StatusFitted
	// StatusNotDisplaced means the vertex was already within Epsilon of its isovalue.
	StatusNotDisplaced
	// StatusNullGradient means the field gradient vanished and no march direction exists.
	StatusNullGradient
	// StatusGradientDivergence means the field direction turned faster than the configured threshold.
	StatusGradientDivergence
	// StatusPotentialPit means a step moved the potential away from the target.
	StatusPotentialPit
	// StatusMaxIter means the iteration budget ran out without a crossing.
	StatusMaxIter
	numStatus
)

// NumStatus is the amount of distinct Status values.
const NumStatus = int(numStatus)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusFitted:
		return "fitted"
	case StatusNotDisplaced:
		return "not displaced"
	case StatusNullGradient:
		return "null gradient"
	case StatusGradientDivergence:
		return "gradient divergence"
	case StatusPotentialPit:
		return "potential pit"
	case StatusMaxIter:
		return "max iter"
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether the status ends the march of a vertex for a pass.
// StatusMaxIter is not terminal: the vertex is expected to be retried.
func (s Status) Terminal() bool {
	return s != StatusRunning && s != StatusMaxIter && s < numStatus
}
