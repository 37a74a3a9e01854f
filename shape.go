package isoskin

// Shape maps a signed potential deviation x to a blend weight in [0,1]
// used to fade in corrective smoothing. It computes 1-(|x|-1)^slope where
// the power is taken by repeated multiplication, so slope 0 always yields 0.
//
// For odd slopes and |x| < 1 the unclamped expression exceeds 1; the result
// is clamped on both sides.
func Shape(x float32, slope int) float32 {
	if x < 0 {
		x = -x
	}
	y := x - 1
	res := float32(1)
	for i := 0; i < slope; i++ {
		res *= y
	}
	if res > 1 {
		return 1
	}
	w := 1 - res
	if w > 1 {
		return 1
	} else if w < 0 {
		return 0
	}
	return w
}
