// Package render polygonizes implicit surfaces into triangle meshes and
// reads and writes them as binary STL. It is used to produce the rest pose
// mesh of a skeleton's iso-surface.
package render

import (
	"errors"
	"io"

	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/isoskin/field"
)

// SDF3 is a batch signed distance query. Distances are negative inside the
// surface. Implementations may use userData to hold evaluation state.
type SDF3 interface {
	Evaluate(pos []ms3.Vec, dist []float32, userData any) error
	Bounds() ms3.Box
}

// Renderer reads triangles of a surface into dst. It returns io.EOF once
// the surface has been fully read.
type Renderer interface {
	ReadTriangles(dst []ms3.Triangle) (n int, err error)
}

// Isosurface adapts a potential field to SDF3. The distance estimate is
// (iso - f)/lipschitz, which never overestimates the true distance to the
// iso-surface as long as lipschitz bounds the field's gradient norm.
type Isosurface struct {
	ev        field.Evaluator
	iso       float32
	lipschitz float32
	bb        ms3.Box
}

var _ SDF3 = (*Isosurface)(nil)

// NewIsosurface returns the iso level set of ev within bounds.
func NewIsosurface(ev field.Evaluator, iso, lipschitz float32, bounds ms3.Box) (*Isosurface, error) {
	if ev == nil {
		return nil, errors.New("nil evaluator")
	} else if !(lipschitz > 0) {
		return nil, errors.New("lipschitz constant must be positive")
	}
	sz := bounds.Size()
	if !(sz.X > 0 && sz.Y > 0 && sz.Z > 0) {
		return nil, errors.New("empty isosurface bounds")
	}
	return &Isosurface{ev: ev, iso: iso, lipschitz: lipschitz, bb: bounds}, nil
}

// Evaluate implements SDF3.
func (s *Isosurface) Evaluate(pos []ms3.Vec, dist []float32, userData any) error {
	if len(dist) < len(pos) {
		return io.ErrShortBuffer
	}
	k := 1 / s.lipschitz
	for i, p := range pos {
		f, _ := s.ev.Evaluate(p)
		dist[i] = (s.iso - f) * k
	}
	return nil
}

// Bounds implements SDF3.
func (s *Isosurface) Bounds() ms3.Box { return s.bb }

// RenderAll reads the full contents of a Renderer and returns the slice read.
// It does not return error on io.EOF, like the io.RenderAll implementation.
func RenderAll(r Renderer) ([]ms3.Triangle, error) {
	var err error
	var nt int
	result := make([]ms3.Triangle, 0, 1024)
	buf := make([]ms3.Triangle, 1024)
	for {
		nt, err = r.ReadTriangles(buf)
		result = append(result, buf[:nt]...)
		if err != nil {
			break
		}
	}
	if err == io.EOF {
		return result, nil
	}
	return result, err
}
