package fit

import "errors"

// Config parametrizes a fitting pass.
type Config struct {
	// FullFit marks the last and most expensive pass of a frame. A full fit
	// never settles vertices so they are all re-evaluated next frame.
	FullFit bool
	// Iterations is the march budget per vertex.
	Iterations int
	// StepLength is the fixed march step, or the Newton step damping when Newton is set.
	StepLength float32
	// GradientThreshold is the cosine between successive gradients below which
	// the march stops with a gradient divergence.
	GradientThreshold float32
	// SmoothStrength is written to the smoothing weights of vertices that stop
	// on a divergence or a pit, and scales the iso based smoothing weight.
	SmoothStrength float32
	// Slope is the integer exponent of [isoskin.Shape].
	Slope int
	// Newton selects Newton-style steps along the raw gradient instead of
	// fixed length steps along the normalized gradient.
	Newton bool
	// DetectPit stops a vertex whose potential moves away from the target.
	DetectPit bool
	// SmoothFromIso enables writing Vertices.IsoSmooth.
	SmoothFromIso bool
	// RetireExhausted settles vertices that ran out of iterations during
	// non-full passes. By default they stay active for the next pass.
	RetireExhausted bool
	// LocateDivergence bisects back to the onset of a gradient divergence
	// instead of keeping the diverging candidate point.
	LocateDivergence bool
	// Workers is the amount of goroutines used by a pass. Zero uses runtime.NumCPU.
	Workers int
}

// DefaultConfig returns the configuration used for intermediate passes.
func DefaultConfig() Config {
	return Config{
		Iterations:        20,
		StepLength:        0.05,
		GradientThreshold: 0.3, // ~72 degrees.
		SmoothStrength:    1,
		Slope:             2,
		DetectPit:         true,
		SmoothFromIso:     true,
	}
}

// Validate reports an error for configurations a pass cannot run.
func (cfg Config) Validate() error {
	switch {
	case cfg.Iterations < 0:
		return errors.New("negative iteration budget")
	case cfg.StepLength <= 0:
		return errors.New("step length must be positive")
	case cfg.Slope < 0:
		return errors.New("negative shaping slope")
	case cfg.Workers < 0:
		return errors.New("negative worker count")
	case cfg.GradientThreshold > 1:
		return errors.New("gradient threshold is a cosine and must not exceed 1")
	}
	return nil
}
