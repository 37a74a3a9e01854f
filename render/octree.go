package render

import (
	"errors"
	"io"

	"github.com/chewxy/math32"
	"github.com/soypat/glgl/math/ms3"
)

// Octree renders an SDF3 by depth first subdivision of its bounding box into
// cubes of the requested resolution. Corner distances of base cubes are
// evaluated in batches and each base cube is polygonized with marching
// tetrahedra.
type Octree struct {
	s      SDF3
	origin ms3.Vec
	levels int
	// half is half the edge length of a base cube.
	half float32
	// stack holds cubes pending subdivision. The top is the last element.
	stack []icube
	// corners holds the 8 corners of every queued base cube and dist
	// their evaluated distances.
	corners []ms3.Vec
	dist    []float32
	// next is the index of the next queued base cube to march.
	next int
}

var _ Renderer = (*Octree)(nil)

// NewOctreeRenderer instantiates a new Octree renderer for rendering triangles
// from an [SDF3]. cubeResolution is the edge length of the smallest cube.
// evalBufferSize is the amount of positions evaluated per SDF3 call.
func NewOctreeRenderer(s SDF3, cubeResolution float32, evalBufferSize int) (*Octree, error) {
	if evalBufferSize < 64 {
		return nil, errors.New("bad octree eval buffer size")
	}
	oc := &Octree{
		corners: make([]ms3.Vec, 0, aligndown(evalBufferSize, 8)),
		dist:    make([]float32, aligndown(evalBufferSize, 8)),
	}
	err := oc.Reset(s, cubeResolution)
	if err != nil {
		return nil, err
	}
	return oc, nil
}

// Reset switches the underlying SDF3 for a new one with a new cube resolution.
// Buffers are reused.
func (oc *Octree) Reset(s SDF3, cubeResolution float32) error {
	if !(cubeResolution > 0) {
		return errors.New("invalid renderer cube resolution")
	}
	// Grow the box slightly so its faces are off the surface.
	bb := s.Bounds().Scale(ms3.Vec{X: 1.01, Y: 1.01, Z: 1.01})
	sz := bb.Size()
	longAxis := max(sz.X, sz.Y, sz.Z)

	// The root cube spans 2^levels index units of half a base cube each.
	levels := int(math32.Ceil(math32.Log2(longAxis/cubeResolution))) + 1
	if levels <= 1 {
		return errors.New("resolution not fine enough for marching tetrahedra")
	}
	// Popping one cube and pushing its 8 children per level bounds the stack.
	if cap(oc.stack) < 8*levels {
		oc.stack = make([]icube, 0, 8*levels)
	}
	oc.stack = append(oc.stack[:0], icube{lvl: levels})
	oc.s = s
	oc.half = cubeResolution / 2
	oc.levels = levels
	oc.origin = bb.Min
	oc.corners = oc.corners[:0]
	oc.next = 0
	return nil
}

// ReadTriangles implements Renderer. dst must have room for more than
// the triangles of a single cube.
func (oc *Octree) ReadTriangles(dst []ms3.Triangle) (n int, err error) {
	if len(dst) <= tetraMaxTrianglesPerCube {
		return 0, io.ErrShortBuffer
	}
	for len(dst)-n > tetraMaxTrianglesPerCube {
		if oc.next == oc.queued() {
			if len(oc.stack) == 0 {
				return n, io.EOF
			}
			err = oc.refill()
			if err != nil {
				return n, err
			}
		}
		n += oc.march(dst[n:])
	}
	return n, nil
}

// queued returns the number of base cubes with buffered corners.
func (oc *Octree) queued() int { return len(oc.corners) / 8 }

// refill subdivides stacked cubes until the corner buffer is full of base
// cubes or the stack is exhausted, then evaluates all buffered corners.
func (oc *Octree) refill() error {
	oc.corners = oc.corners[:0]
	oc.next = 0
	for len(oc.stack) > 0 && cap(oc.corners)-len(oc.corners) >= 8 {
		top := len(oc.stack) - 1
		c := oc.stack[top]
		oc.stack = oc.stack[:top]
		if c.lvl == 1 {
			p := c.corners(oc.origin, oc.half)
			oc.corners = append(oc.corners, p[:]...)
			continue
		}
		sub := c.children()
		oc.stack = append(oc.stack, sub[:]...)
	}
	return oc.s.Evaluate(oc.corners, oc.dist[:len(oc.corners)], nil)
}

// march polygonizes queued base cubes into dst while it can hold the
// worst case output of a cube.
func (oc *Octree) march(dst []ms3.Triangle) (n int) {
	diag := 2 * sqrt3 * oc.half
	var (
		p [8]ms3.Vec
		d [8]float32
	)
	for oc.next < oc.queued() && len(dst)-n >= tetraMaxTrianglesPerCube {
		i := 8 * oc.next
		oc.next++
		if math32.Abs(oc.dist[i]) > diag {
			continue // Surface is farther than the cube diagonal.
		}
		copy(p[:], oc.corners[i:i+8])
		copy(d[:], oc.dist[i:i+8])
		n += marchTetrahedra(dst[n:], p, d)
	}
	return n
}

type ivec struct {
	x int
	y int
	z int
}

func (a ivec) Add(b ivec) ivec { return ivec{x: a.x + b.x, y: a.y + b.y, z: a.z + b.z} }
func (a ivec) Vec() ms3.Vec    { return ms3.Vec{X: float32(a.x), Y: float32(a.y), Z: float32(a.z)} }

// icube is a cube of the octree. Its edge spans 2^lvl index units.
type icube struct {
	ivec
	lvl int
}

const sqrt3 = 1.73205080757

// cornerOffsets are the corners of a base cube in index units. Corner 6 is
// opposite to corner 0.
var cornerOffsets = [8]ivec{
	{0, 0, 0}, {2, 0, 0}, {2, 2, 0}, {0, 2, 0},
	{0, 0, 2}, {2, 0, 2}, {2, 2, 2}, {0, 2, 2},
}

// corners returns the corner positions of a base cube.
func (c icube) corners(origin ms3.Vec, half float32) (p [8]ms3.Vec) {
	for i, off := range cornerOffsets {
		p[i] = ms3.Add(origin, ms3.Scale(half, c.Add(off).Vec()))
	}
	return p
}

// children splits c into its 8 octants, ordered like the corners.
func (c icube) children() (sub [8]icube) {
	s := 1 << (c.lvl - 1)
	for i, off := range cornerOffsets {
		step := ivec{x: off.x / 2 * s, y: off.y / 2 * s, z: off.z / 2 * s}
		sub[i] = icube{ivec: c.Add(step), lvl: c.lvl - 1}
	}
	return sub
}

func aligndown(v, alignto int) int {
	return v &^ (alignto - 1)
}
