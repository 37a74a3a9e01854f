package render

import (
	"errors"

	"github.com/fogleman/fauxgl"
	"github.com/nfnt/resize"
	"github.com/soypat/glgl/math/ms3"
)

// View configures the camera of a preview render. The mesh is fit into
// a bi-unit cube centered at the origin before rendering.
type View struct {
	// what position (point) to look at
	LookAt ms3.Vec
	// which way is up (direction)
	Up ms3.Vec
	// where the camera/eye located at (point)
	Eye       ms3.Vec
	Far, Near float64
	// Width and Height of the output image in pixels.
	Width, Height int
	// Supersample renders at a multiple of the output size and downsamples
	// for antialiasing. Values below 1 are treated as 1.
	Supersample int
}

// DefaultView is an isometric view of a mesh.
var DefaultView = View{
	Up:          ms3.Vec{Z: 1},
	Eye:         ms3.Vec{X: 2.4, Y: 2.4, Z: 2.4},
	Near:        1,
	Far:         10,
	Width:       768,
	Height:      432,
	Supersample: 2,
}

// STLToPNG renders the binary STL file stlName with phong shading and saves
// the image to outputName.
func STLToPNG(stlName, outputName string, view View) error {
	if view.Width <= 0 || view.Height <= 0 {
		return errors.New("invalid preview image size")
	}
	mesh, err := fauxgl.LoadSTL(stlName)
	if err != nil {
		return err
	}
	const fovy = 30 // vertical field of view in degrees
	scale := max(view.Supersample, 1)
	var (
		eye    = fauxgl.V(float64(view.Eye.X), float64(view.Eye.Y), float64(view.Eye.Z))
		center = fauxgl.V(float64(view.LookAt.X), float64(view.LookAt.Y), float64(view.LookAt.Z))
		up     = fauxgl.V(float64(view.Up.X), float64(view.Up.Y), float64(view.Up.Z))
		light  = fauxgl.V(-0.75, 1, 0.25).Normalize()
		color  = fauxgl.HexColor("#468966")
	)
	mesh.BiUnitCube()
	context := fauxgl.NewContext(view.Width*scale, view.Height*scale)
	context.ClearColorBufferWith(fauxgl.HexColor("#FFF8E3"))
	aspect := float64(view.Width) / float64(view.Height)
	matrix := fauxgl.LookAt(eye, center, up).Perspective(fovy, aspect, view.Near, view.Far)
	shader := fauxgl.NewPhongShader(matrix, light, eye)
	shader.ObjectColor = color
	context.Shader = shader
	context.DrawMesh(mesh)
	// downsample image for antialiasing
	image := context.Image()
	image = resize.Resize(uint(view.Width), uint(view.Height), image, resize.Bilinear)
	return fauxgl.SavePNG(outputName, image)
}
