// Package fit implements the potential-fitting engine of implicit skinning:
// a per-vertex march along the gradient of a potential field that stops once
// the vertex recovers the potential it had in the rest pose.
//
// A fitting pass runs one independent march per active vertex. Vertices
// never communicate and each worker only writes to the slots it owns, so
// passes are lock free.
package fit

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/isoskin"
	"github.com/soypat/isoskin/field"
)

// Pass runs one fitting pass over every slot of active. Settled slots are
// skipped. Vertices that reach a terminal status have their slot set to
// Settled unless cfg.FullFit is set.
//
// Each vertex id may appear in at most one slot of active. An error is only
// returned for invalid arguments, in which case no vertex is modified.
func Pass(ev field.Evaluator, v *Vertices, active ActiveList, cfg Config) error {
	if ev == nil {
		return errors.New("nil evaluator")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return err
	}
	n := int32(v.Len())
	owner := make([]int32, n)
	for i, id := range active {
		if id == Settled {
			continue
		} else if id < 0 || id >= n {
			return fmt.Errorf("active slot %d holds vertex id %d out of range [0,%d)", i, id, n)
		} else if owner[id] != 0 {
			return fmt.Errorf("%w: vertex id %d in slots %d and %d", ErrDuplicateVertex, id, owner[id]-1, i)
		}
		owner[id] = int32(i) + 1
	}
	parallel(len(active), cfg.Workers, func(start, end int) {
		for i := start; i < end; i++ {
			matchVertex(ev, v, active, i, &cfg)
		}
	})
	return nil
}

// BasePotential evaluates the field at every rest pose position in pos,
// storing the potentials in pot and the gradients in grad. It must be run
// again whenever the rest pose changes. grad may be nil.
func BasePotential(ev field.Evaluator, pos []ms3.Vec, pot []float32, grad []ms3.Vec) error {
	if ev == nil {
		return errors.New("nil evaluator")
	}
	if len(pot) != len(pos) || (grad != nil && len(grad) != len(pos)) {
		return fmt.Errorf("%w: %d positions, %d potentials, %d gradients", ErrBufferMismatch, len(pos), len(pot), len(grad))
	}
	parallel(len(pos), 0, func(start, end int) {
		for i := start; i < end; i++ {
			f, g := ev.Evaluate(pos[i])
			pot[i] = f
			if grad != nil {
				grad[i] = g
			}
		}
	})
	isoskin.Logger().Info("base potential captured", "vertices", len(pos))
	return nil
}

// parallel splits [0,n) into contiguous shards processed concurrently by
// at most workers goroutines. Zero workers uses runtime.NumCPU.
func parallel(n, workers int, fn func(start, end int)) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		if n > 0 {
			fn(0, n)
		}
		return
	}
	per, rem := n/workers, n%workers
	var wg sync.WaitGroup
	wg.Add(workers)
	start := 0
	for w := 0; w < workers; w++ {
		// First rem workers take one extra slot.
		count := per
		if w < rem {
			count++
		}
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, start+count)
		start += count
	}
	wg.Wait()
}
