package elemwise

import (
	"math"

	"github.com/born-ml/edgedl/internal/tensor"
)

// Kernel computes one task descriptor.
type Kernel[T tensor.Integer] func(a *Args[T])

// Mul writes Saturate(Rescale(x*y, OutShift)) over the task's range.
// The product is formed in int64, so no intermediate overflow is possible.
func Mul[T tensor.Integer](a *Args[T]) {
	for i := a.Start; i < a.End; i++ {
		x, y := a.operands(i)
		a.Output[i] = T(clamp(tensor.Rescale(x*y, a.OutShift), a.Min, a.Max))
	}
}

// Add writes Saturate(Rescale(x, Input0Shift) + Rescale(y, Input1Shift)).
func Add[T tensor.Integer](a *Args[T]) {
	for i := a.Start; i < a.End; i++ {
		x, y := a.operands(i)
		sum := alignedSum(x, a.Input0Shift, y, a.Input1Shift)
		a.Output[i] = T(clamp(sum, a.Min, a.Max))
	}
}

// Sub writes Saturate(Rescale(x, Input0Shift) - Rescale(y, Input1Shift)).
func Sub[T tensor.Integer](a *Args[T]) {
	for i := a.Start; i < a.End; i++ {
		x, y := a.operands(i)
		diff := alignedSum(x, a.Input0Shift, -y, a.Input1Shift)
		a.Output[i] = T(clamp(diff, a.Min, a.Max))
	}
}

// operands reads both inputs for flat output index i, widened to int64.
func (a *Args[T]) operands(i int) (x, y int64) {
	i0, i1 := i, i
	if !a.Input0Dense {
		i0 = tensor.FlatIndex(i, a.OutStrides, a.Input0Strides)
	}
	if !a.Input1Dense {
		i1 = tensor.FlatIndex(i, a.OutStrides, a.Input1Strides)
	}
	return int64(a.Input0[i0]), int64(a.Input1[i1])
}

// alignedSum returns Rescale(x, s0) + Rescale(y, s1), saturated to int64.
// When both operands are shifted left, they are added at the smaller shift
// first so that opposite-signed operands cancel before saturation.
func alignedSum(x int64, s0 int, y int64, s1 int) int64 {
	if s0 < 0 && s1 < 0 {
		common := max(s0, s1)
		return tensor.Rescale(addSat(tensor.Rescale(x, s0-common), tensor.Rescale(y, s1-common)), common)
	}
	return addSat(tensor.Rescale(x, s0), tensor.Rescale(y, s1))
}

func addSat(x, y int64) int64 {
	sum := x + y
	switch {
	case x > 0 && y > 0 && sum < 0:
		return math.MaxInt64
	case x < 0 && y < 0 && sum >= 0:
		return math.MinInt64
	default:
		return sum
	}
}

func clamp(x, lo, hi int64) int64 {
	switch {
	case x < lo:
		return lo
	case x > hi:
		return hi
	default:
		return x
	}
}
