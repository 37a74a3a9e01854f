package render

import (
	"github.com/soypat/glgl/math/ms3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Mesh is an indexed triangle mesh. Vertices are shared between faces so
// they can be displaced individually.
type Mesh struct {
	Vertices []ms3.Vec
	Faces    [][3]int32
}

// Triangles expands the mesh into a triangle soup.
func (m Mesh) Triangles() []ms3.Triangle {
	tris := make([]ms3.Triangle, len(m.Faces))
	for i, f := range m.Faces {
		tris[i] = ms3.Triangle{m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]}
	}
	return tris
}

// Weld merges triangle corners closer than tol into shared vertices.
// Faces which collapse after merging are dropped.
func Weld(tris []ms3.Triangle, tol float32) Mesh {
	if len(tris) == 0 {
		return Mesh{}
	}
	pts := make(weldPoints, 3*len(tris))
	for i := range pts {
		pts[i] = weldPoint{v: tris[i/3][i%3], idx: i}
	}
	corner := func(i int) ms3.Vec { return tris[i/3][i%3] }
	// kdtree.New reorders pts, indices are kept in weldPoint.idx.
	tree := kdtree.New(pts, false)

	rep := make([]int32, len(pts))
	for i := range rep {
		rep[i] = -1
	}
	var m Mesh
	tol2 := float64(tol) * float64(tol)
	for i := range rep {
		if rep[i] >= 0 {
			continue
		}
		c := corner(i)
		k := int32(len(m.Vertices))
		m.Vertices = append(m.Vertices, c)
		rep[i] = k
		keep := kdtree.NewDistKeeper(tol2)
		tree.NearestSet(keep, weldPoint{v: c})
		for _, cd := range keep.Heap {
			if cd.Comparable == nil {
				continue
			}
			wp := cd.Comparable.(weldPoint)
			if rep[wp.idx] < 0 {
				rep[wp.idx] = k
			}
		}
	}
	for t := range tris {
		a, b, c := rep[3*t], rep[3*t+1], rep[3*t+2]
		if a == b || b == c || a == c {
			continue
		}
		m.Faces = append(m.Faces, [3]int32{a, b, c})
	}
	return m
}

type weldPoint struct {
	v   ms3.Vec
	idx int
}

var (
	_ kdtree.Interface  = weldPoints{}
	_ kdtree.Comparable = weldPoint{}
)

func (a weldPoint) Compare(b kdtree.Comparable, d kdtree.Dim) float64 {
	return float64(component(a.v, d) - component(b.(weldPoint).v, d))
}

func (a weldPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between a and b.
func (a weldPoint) Distance(b kdtree.Comparable) float64 {
	d := ms3.Sub(a.v, b.(weldPoint).v)
	return float64(ms3.Dot(d, d))
}

func component(v ms3.Vec, d kdtree.Dim) float32 {
	switch d {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

type weldPoints []weldPoint

func (p weldPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p weldPoints) Len() int                      { return len(p) }
func (p weldPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

// Pivot partitions the list based on the dimension specified.
func (p weldPoints) Pivot(d kdtree.Dim) int {
	pl := weldPlane{dim: d, points: p}
	return kdtree.Partition(pl, kdtree.MedianOfMedians(pl))
}

type weldPlane struct {
	dim    kdtree.Dim
	points weldPoints
}

func (p weldPlane) Less(i, j int) bool {
	return component(p.points[i].v, p.dim) < component(p.points[j].v, p.dim)
}
func (p weldPlane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p weldPlane) Len() int      { return len(p.points) }
func (p weldPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
