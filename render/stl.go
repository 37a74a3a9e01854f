package render

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/chewxy/math32"
	"github.com/soypat/glgl/math/ms3"
)

// ErrNormalMismatch is returned by ReadBinarySTL when stored triangle normals
// are not perpendicular to their triangle. The triangles read are still
// returned alongside it.
var ErrNormalMismatch = errors.New("mismatch normal")

const (
	// stlHeaderSize is the 80 byte comment plus the facet count.
	stlHeaderSize = 84
	// stlFacetSize is 12 float32 and a 2 byte attribute count.
	stlFacetSize = 50
	// stlBatch is the amount of facets encoded per Write call.
	stlBatch = 256
)

// WriteBinarySTL writes model triangles to w in binary STL format and
// returns the number of bytes written. Facet normals are computed from the
// vertex winding.
func WriteBinarySTL(w io.Writer, model []ms3.Triangle) (int, error) {
	if len(model) == 0 {
		return 0, errors.New("empty triangle slice")
	} else if uint64(len(model)) > math.MaxUint32 {
		return 0, errors.New("amount of triangles in model exceeds STL design limits")
	}
	buf := make([]byte, stlHeaderSize, stlHeaderSize+stlBatch*stlFacetSize)
	binary.LittleEndian.PutUint32(buf[80:], uint32(len(model)))
	total := 0
	flush := func() error {
		n, err := w.Write(buf)
		total += n
		if err == nil && n != len(buf) {
			err = io.ErrShortWrite
		}
		buf = buf[:0]
		return err
	}
	for i, t := range model {
		f := facet{ms3.Unit(t.Normal()), t[0], t[1], t[2]}
		buf = f.appendBinary(buf)
		if (i+1)%stlBatch == 0 {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if len(buf) > 0 {
		if err := flush(); err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadBinarySTL reads all triangles of a binary STL file. Triangles with
// mismatched normals are kept and reported with ErrNormalMismatch.
func ReadBinarySTL(r io.Reader) ([]ms3.Triangle, error) {
	var hdr [stlHeaderSize]byte
	_, err := io.ReadFull(r, hdr[:])
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, errors.New("encountered EOF while reading STL header")
	} else if err != nil {
		return nil, fmt.Errorf("STL header read failed: %w", err)
	}
	count := binary.LittleEndian.Uint32(hdr[80:])
	if count == 0 {
		return nil, errors.New("STL header indicates 0 triangles present")
	}
	var (
		rec        [stlFacetSize]byte
		mismatches int
	)
	// Cap the preallocation, the count comes from untrusted input.
	out := make([]ms3.Triangle, 0, min(count, 1<<20))
	for i := uint32(0); i < count; i++ {
		_, err = io.ReadFull(r, rec[:])
		if err != nil {
			return nil, fmt.Errorf("reading STL facet %d/%d: %w", i+1, count, err)
		}
		f := decodeFacet(rec[:])
		err = f.validate()
		if errors.Is(err, ErrNormalMismatch) {
			mismatches++
		} else if err != nil {
			return nil, fmt.Errorf("STL facet %d/%d: %w", i+1, count, err)
		}
		out = append(out, f.triangle())
	}
	if mismatches > 0 {
		return out, fmt.Errorf("%d triangles: %w", mismatches, ErrNormalMismatch)
	}
	return out, nil
}

// facet is an STL triangle record: the normal followed by the 3 vertices.
type facet [4]ms3.Vec

func (f facet) appendBinary(b []byte) []byte {
	for _, v := range f {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v.X))
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v.Y))
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v.Z))
	}
	return binary.LittleEndian.AppendUint16(b, 0) // No attributes.
}

func decodeFacet(b []byte) (f facet) {
	_ = b[stlFacetSize-1] // early bounds check
	for i := range f {
		off := 12 * i
		f[i] = ms3.Vec{
			X: math.Float32frombits(binary.LittleEndian.Uint32(b[off:])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(b[off+4:])),
			Z: math.Float32frombits(binary.LittleEndian.Uint32(b[off+8:])),
		}
	}
	return f
}

func (f facet) triangle() ms3.Triangle { return ms3.Triangle{f[1], f[2], f[3]} }

// validate checks the facet is finite and not degenerate. A stored normal
// pointing either way along the winding normal is accepted.
func (f facet) validate() error {
	for i, v := range f {
		if !finite(v) {
			if i == 0 {
				return errors.New("inf/NaN STL triangle normal")
			}
			return errors.New("inf/NaN STL triangle vertex")
		}
	}
	t := f.triangle()
	if t.IsDegenerate(1e-12) {
		return errors.New("triangle is degenerate")
	}
	// Scale up before the cross product to keep tiny triangles accurate.
	want := ms3.Unit(ms3.Triangle{ms3.Scale(10, t[0]), ms3.Scale(10, t[1]), ms3.Scale(10, t[2])}.Normal())
	const normTol = 5e-2
	if !equalElem(want, f[0], normTol) && !equalElem(ms3.Scale(-1, want), f[0], normTol) {
		return ErrNormalMismatch
	}
	return nil
}

func finite(v ms3.Vec) bool {
	for _, c := range [3]float32{v.X, v.Y, v.Z} {
		if math32.IsNaN(c) || math32.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// equalElem reports whether every component of a and b differs by at most tol.
func equalElem(a, b ms3.Vec, tol float32) bool {
	d := ms3.AbsElem(ms3.Sub(a, b))
	return d.X <= tol && d.Y <= tol && d.Z <= tol
}
