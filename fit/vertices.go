package fit

import (
	"errors"
	"fmt"

	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/isoskin"
)

// Settled marks an active list slot whose vertex no longer needs fitting.
const Settled = -1

var (
	// ErrBufferMismatch is returned when per-vertex buffers differ in length.
	ErrBufferMismatch = errors.New("per-vertex buffer length mismatch")
	// ErrDuplicateVertex is returned when an active list holds a vertex id twice.
	ErrDuplicateVertex = errors.New("vertex id active in more than one slot")
)

// Vertices holds the per-vertex fitting state, all slices indexed by vertex id.
//
// BasePotential is captured once per rest pose with [BasePotential] and is
// read-only during passes. The remaining slices are rewritten by every pass.
type Vertices struct {
	Pos           []ms3.Vec
	BasePotential []float32
	Gradient      []ms3.Vec
	Status        []isoskin.Status
	// Smooth is set to the configured smoothing strength for vertices that
	// stopped on a gradient divergence or a potential pit.
	Smooth []float32
	// IsoSmooth is the shaped deviation from the isovalue, scaled by the
	// smoothing strength. Only written when Config.SmoothFromIso is set.
	IsoSmooth []float32
}

// NewVertices allocates buffers for the rest pose positions pos. pos is
// copied and the base potentials are left zeroed.
func NewVertices(pos []ms3.Vec) *Vertices {
	n := len(pos)
	v := &Vertices{
		Pos:           make([]ms3.Vec, n),
		BasePotential: make([]float32, n),
		Gradient:      make([]ms3.Vec, n),
		Status:        make([]isoskin.Status, n),
		Smooth:        make([]float32, n),
		IsoSmooth:     make([]float32, n),
	}
	copy(v.Pos, pos)
	return v
}

// Len returns the number of vertices.
func (v *Vertices) Len() int { return len(v.Pos) }

// Validate checks all buffers are of the same length.
func (v *Vertices) Validate() error {
	n := len(v.Pos)
	if len(v.BasePotential) != n || len(v.Gradient) != n || len(v.Status) != n ||
		len(v.Smooth) != n || len(v.IsoSmooth) != n {
		return fmt.Errorf("%w: %d positions, %d base, %d gradients, %d status, %d smooth, %d iso smooth",
			ErrBufferMismatch, n, len(v.BasePotential), len(v.Gradient), len(v.Status), len(v.Smooth), len(v.IsoSmooth))
	}
	return nil
}

// ActiveList holds the ids of vertices still requiring a fit. A slot whose
// vertex settled holds Settled. Slots are never removed during a pass.
type ActiveList []int32

// NewActiveList returns the list of all vertex ids in [0,n).
func NewActiveList(n int) ActiveList {
	al := make(ActiveList, n)
	for i := range al {
		al[i] = int32(i)
	}
	return al
}

// Remaining returns the number of slots that are not Settled.
func (al ActiveList) Remaining() (n int) {
	for _, id := range al {
		if id != Settled {
			n++
		}
	}
	return n
}

// Compact removes Settled slots in place, preserving order, and returns the shortened list.
func (al ActiveList) Compact() ActiveList {
	k := 0
	for _, id := range al {
		if id != Settled {
			al[k] = id
			k++
		}
	}
	return al[:k]
}
