package render

import "github.com/soypat/glgl/math/ms3"

// tetraMaxTrianglesPerCube is the most triangles a single cube produces.
const tetraMaxTrianglesPerCube = 2 * len(cubeTetrahedra)

// cubeTetrahedra splits a cube into six tetrahedra sharing the 0-6 diagonal.
// Neighbouring cubes split their shared faces along the same diagonal so the
// resulting surface has no cracks.
var cubeTetrahedra = [6][4]int{
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
	{0, 5, 1, 6},
}

// marchTetrahedra writes the triangles of the zero level set within a cube
// to dst and returns the number written. Triangles face from negative to
// positive distance.
func marchTetrahedra(dst []ms3.Triangle, p [8]ms3.Vec, d [8]float32) int {
	n := 0
	for _, tet := range cubeTetrahedra {
		var tp [4]ms3.Vec
		var td [4]float32
		for i, corner := range tet {
			tp[i], td[i] = p[corner], d[corner]
		}
		n += marchTetrahedron(dst[n:], tp, td)
	}
	return n
}

func marchTetrahedron(dst []ms3.Triangle, p [4]ms3.Vec, d [4]float32) int {
	var in, out [4]int
	var nin, nout int
	for i := range d {
		if d[i] < 0 {
			in[nin] = i
			nin++
		} else {
			out[nout] = i
			nout++
		}
	}
	if nin == 0 || nout == 0 {
		return 0
	}
	// Outward direction used to orient the triangles.
	var cin, cout ms3.Vec
	for _, i := range in[:nin] {
		cin = ms3.Add(cin, p[i])
	}
	for _, i := range out[:nout] {
		cout = ms3.Add(cout, p[i])
	}
	dir := ms3.Sub(ms3.Scale(1/float32(nout), cout), ms3.Scale(1/float32(nin), cin))
	edge := func(a, b int) ms3.Vec {
		t := d[a] / (d[a] - d[b])
		return ms3.Add(p[a], ms3.Scale(t, ms3.Sub(p[b], p[a])))
	}
	n := 0
	switch {
	case nin == 1:
		a := in[0]
		n += emitOriented(dst[n:], ms3.Triangle{edge(a, out[0]), edge(a, out[1]), edge(a, out[2])}, dir)
	case nout == 1:
		a := out[0]
		n += emitOriented(dst[n:], ms3.Triangle{edge(in[0], a), edge(in[1], a), edge(in[2], a)}, dir)
	default:
		a, b, c, e := in[0], in[1], out[0], out[1]
		ac, ae, be, bc := edge(a, c), edge(a, e), edge(b, e), edge(b, c)
		n += emitOriented(dst[n:], ms3.Triangle{ac, ae, be}, dir)
		n += emitOriented(dst[n:], ms3.Triangle{ac, be, bc}, dir)
	}
	return n
}

const (
	// minEdge2 is the squared length below which a triangle is dropped.
	minEdge2 = 1e-8
	// minAspect bounds the triangle height relative to its longest edge.
	minAspect = 1e-3
)

// emitOriented writes t to dst with its normal along dir. Tiny and sliver
// triangles are dropped.
func emitOriented(dst []ms3.Triangle, t ms3.Triangle, dir ms3.Vec) int {
	e0, e1, e2 := ms3.Sub(t[1], t[0]), ms3.Sub(t[2], t[0]), ms3.Sub(t[2], t[1])
	l2 := max(ms3.Dot(e0, e0), ms3.Dot(e1, e1), ms3.Dot(e2, e2))
	nrm := ms3.Cross(e0, e1)
	if l2 < minEdge2 || ms3.Norm(nrm) < minAspect*l2 {
		return 0
	}
	if ms3.Dot(nrm, dir) < 0 {
		t[1], t[2] = t[2], t[1]
	}
	dst[0] = t
	return 1
}
