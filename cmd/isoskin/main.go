// Command isoskin demonstrates implicit skinning on a two bone arm. The rest
// pose iso-surface is polygonized, the forearm is bent about the elbow, a
// linear blend skinning guess is computed and then projected back onto the
// posed field.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/isoskin"
	"github.com/soypat/isoskin/field"
	"github.com/soypat/isoskin/fit"
	"github.com/soypat/isoskin/render"
	"github.com/soypat/isoskin/skeleton"
)

const (
	boneLength = 2.0
	boneRadius = 1.0
)

type options struct {
	resolution float64
	angle      float64
	passes     int
	union      string
	selectBone string
	rest       string
	guess      string
	output     string
	png        string
	plot       string
	verbose    bool
	fit        fit.Config
}

func main() {
	cfg := fit.DefaultConfig()
	var opts options
	flag.Float64Var(&opts.resolution, "res", 0.1, "polygonization cube edge length")
	flag.Float64Var(&opts.angle, "angle", 70, "elbow bend in degrees")
	flag.IntVar(&opts.passes, "passes", 4, "fitting passes before the final full pass")
	flag.StringVar(&opts.union, "union", "max", "bone blending: max or sum")
	flag.StringVar(&opts.selectBone, "select", "", "comma separated host bone indices to fit against instead of the whole skeleton")
	flag.StringVar(&opts.rest, "rest", "", "write the rest pose mesh to this STL file")
	flag.StringVar(&opts.guess, "guess", "", "write the linear blend skinning guess to this STL file")
	flag.StringVar(&opts.output, "o", "posed.stl", "output STL file of the fitted mesh")
	flag.StringVar(&opts.png, "png", "", "render a preview of the fitted mesh to this PNG file")
	flag.StringVar(&opts.plot, "plot", "", "plot residuals per pass to this image file (png, svg or pdf)")
	flag.BoolVar(&opts.verbose, "v", false, "log fitting progress")
	flag.IntVar(&cfg.Iterations, "iter", cfg.Iterations, "maximum steps per vertex and pass")
	flag.BoolVar(&cfg.Newton, "newton", cfg.Newton, "use Newton steps instead of fixed length steps")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of fitting goroutines, 0 uses all CPUs")
	flag.Parse()
	opts.fit = cfg
	if opts.verbose {
		isoskin.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

func run(opts options) error {
	skel, err := skeleton.New(
		skeleton.Bone{Head: ms3.Vec{}, Tail: ms3.Vec{X: boneLength}, Radius: boneRadius},
		skeleton.Bone{Head: ms3.Vec{X: boneLength}, Tail: ms3.Vec{X: 2 * boneLength}, Radius: boneRadius},
	)
	if err != nil {
		return err
	}
	switch opts.union {
	case "max":
	case "sum":
		skel.SetUnion(skeleton.SumUnion)
	default:
		return fmt.Errorf("unknown union %q", opts.union)
	}
	full := field.NewFull(skel)

	mesh, err := restMesh(full, skel, float32(opts.resolution))
	if err != nil {
		return err
	}
	log.Printf("rest mesh: %d vertices, %d faces", len(mesh.Vertices), len(mesh.Faces))
	if opts.rest != "" {
		if err := writeSTL(opts.rest, mesh); err != nil {
			return err
		}
	}

	fitter, err := fit.NewFitter(full, mesh.Vertices)
	if err != nil {
		return err
	}

	elbow := ms3.Vec{X: boneLength}
	bend := skeleton.RotateAbout(elbow, ms3.Vec{Z: 1}, float32(opts.angle)*math32.Pi/180)
	err = skel.Pose(skel.BoneID(1), bend)
	if err != nil {
		return err
	}
	guess := blendSkinning(mesh.Vertices, elbow, bend)
	if opts.guess != "" {
		if err := writeSTL(opts.guess, render.Mesh{Vertices: guess, Faces: mesh.Faces}); err != nil {
			return err
		}
	}
	err = fitter.Reset(guess)
	if err != nil {
		return err
	}

	var ev field.Evaluator = full
	if opts.selectBone != "" {
		hostIdx, err := parseIndices(opts.selectBone)
		if err != nil {
			return err
		}
		var sb field.SubsetBuffer
		err = sb.Set(skel, hostIdx)
		if err != nil {
			return err
		}
		ev = sb.Bounded(skel)
		fitter.SetEvaluator(ev)
		log.Printf("fitting against bone subset %v", sb.Load().IDs())
	}

	// The first report is the skinning guess, one follows per pass.
	history := []fit.Report{fit.Summarize(ev, fitter.Vertices())}
	final, err := fitter.Run(opts.passes, opts.fit, func(rep fit.Report) {
		history = append(history, rep)
	})
	if err != nil {
		return err
	}
	log.Printf("fit: %s", final.String())

	posed := render.Mesh{Vertices: fitter.Vertices().Pos, Faces: mesh.Faces}
	if err := writeSTL(opts.output, posed); err != nil {
		return err
	}
	if opts.png != "" {
		if err := render.STLToPNG(opts.output, opts.png, render.DefaultView); err != nil {
			return err
		}
	}
	if opts.plot != "" {
		if err := plotHistory(opts.plot, history); err != nil {
			return err
		}
	}
	return nil
}

// restMesh polygonizes the rest pose iso-surface of the skeleton.
func restMesh(full field.Evaluator, skel *skeleton.Skeleton, res float32) (render.Mesh, error) {
	// Largest gradient norm of a bone falloff, attained where (d/R)^2 = 1/5.
	// Sum blending at most doubles it near the elbow.
	const lipschitz = 1.72 / boneRadius
	iso, err := render.NewIsosurface(full, skeleton.Iso, 2*lipschitz, skel.Bounds())
	if err != nil {
		return render.Mesh{}, err
	}
	oc, err := render.NewOctreeRenderer(iso, res, 1<<14)
	if err != nil {
		return render.Mesh{}, err
	}
	tris, err := render.RenderAll(oc)
	if err != nil {
		return render.Mesh{}, err
	}
	if len(tris) == 0 {
		return render.Mesh{}, errors.New("empty rest pose surface")
	}
	return render.Weld(tris, res*1e-3), nil
}

// blendSkinning returns the linear blend skinning of rest positions where
// the forearm transform is blended in over one bone radius around the elbow.
func blendSkinning(rest []ms3.Vec, elbow ms3.Vec, forearm skeleton.Rigid) []ms3.Vec {
	out := make([]ms3.Vec, len(rest))
	for i, p := range rest {
		w := (p.X - elbow.X + boneRadius/2) / boneRadius
		w = math32.Max(0, math32.Min(1, w))
		out[i] = ms3.Add(ms3.Scale(1-w, p), ms3.Scale(w, forearm.Apply(p)))
	}
	return out
}

func parseIndices(s string) ([]int, error) {
	fields := strings.Split(s, ",")
	idx := make([]int, 0, len(fields))
	for _, f := range fields {
		i, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("bad bone index %q: %w", f, err)
		}
		idx = append(idx, i)
	}
	return idx, nil
}

func writeSTL(path string, m render.Mesh) error {
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	_, err = render.WriteBinarySTL(fp, m.Triangles())
	if err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}
