// Package elemwise builds and runs the task descriptors of binary
// elementwise operators with NumPy broadcasting.
//
// Build partitions one operator invocation into at most parallel.MaxCores
// descriptors over disjoint, contiguous ranges of the output. Each descriptor
// is self-contained: a kernel such as Mul needs nothing but the descriptor to
// compute its slice, so two descriptors can run on two cores without locking.
package elemwise

import (
	"fmt"

	"github.com/born-ml/edgedl/internal/parallel"
	"github.com/born-ml/edgedl/internal/tensor"
)

// Requant holds the power-of-two shifts that move intermediate results into
// the output's scale. See tensor.Rescale for the shift convention.
type Requant struct {
	OutShift    int // Applied to the widened product (Mul).
	Input0Shift int // Applied to input0 before combining (Add, Sub).
	Input1Shift int // Applied to input1 before combining (Add, Sub).
}

// MulRequant returns the plan for out = in0 * in1. The raw product carries
// exponent in0+in1.
func MulRequant(outExp, in0Exp, in1Exp int) Requant {
	return Requant{OutShift: outExp - (in0Exp + in1Exp)}
}

// AddRequant returns the plan for out = in0 ± in1. Both operands are aligned
// to the output exponent before they are combined.
func AddRequant(outExp, in0Exp, in1Exp int) Requant {
	return Requant{
		Input0Shift: outExp - in0Exp,
		Input1Shift: outExp - in1Exp,
	}
}

// Args describes one task: the flat output range [Start, End) and how to
// read both inputs for every index in it.
type Args[T tensor.Integer] struct {
	Output []T
	Input0 []T
	Input1 []T

	Start, End int

	OutStrides    []int
	Input0Strides []int // Zero on broadcast dimensions.
	Input1Strides []int
	Input0Dense   bool // Input0 has the output's shape; index it directly.
	Input1Dense   bool

	Requant
	Min, Max int64 // Saturation bounds of T.
}

// Len returns the number of output elements the task writes.
func (a *Args[T]) Len() int {
	return a.End - a.Start
}

// Build partitions output = op(input0, input1) into one or two descriptors.
//
// A single descriptor covering the whole output is returned when mode is
// ModeSingleCore, when the output has fewer than cfg.MinChunkSize elements,
// or when no dimension can be split. Otherwise the outermost dimension with
// size >= 2 is cut into cfg.Cores contiguous, nearly equal ranges.
func Build[T tensor.Integer](output, input0, input1 *tensor.Tensor, mode parallel.Mode, cfg parallel.Config, rq Requant) ([]Args[T], error) {
	dt := tensor.DataTypeOf[T]()
	for _, t := range []*tensor.Tensor{output, input0, input1} {
		if t.DType() != dt {
			return nil, fmt.Errorf("elementwise %s task: got %s tensor", dt, t.DType())
		}
	}
	if cfg.Cores > parallel.MaxCores {
		return nil, fmt.Errorf("%w: %d cores configured", parallel.ErrTooManyTasks, cfg.Cores)
	}

	outShape := output.Shape()
	want, err := tensor.BroadcastShapes(input0.Shape(), input1.Shape())
	if err != nil {
		return nil, err
	}
	if !want.Equal(outShape) {
		return nil, fmt.Errorf("output shape %v does not match broadcast shape %v", outShape, want)
	}

	lo, hi := tensor.Range[T]()
	base := Args[T]{
		Output:        tensor.View[T](output),
		Input0:        tensor.View[T](input0),
		Input1:        tensor.View[T](input1),
		OutStrides:    outShape.ComputeStrides(),
		Input0Strides: tensor.BroadcastStrides(input0.Shape(), outShape),
		Input1Strides: tensor.BroadcastStrides(input1.Shape(), outShape),
		Input0Dense:   input0.Shape().Equal(outShape),
		Input1Dense:   input1.Shape().Equal(outShape),
		Requant:       rq,
		Min:           lo,
		Max:           hi,
	}

	ranges := splitOutput(outShape, base.OutStrides, mode, cfg)
	args := make([]Args[T], len(ranges))
	for i, r := range ranges {
		args[i] = base
		args[i].Start, args[i].End = r.Start, r.End
	}
	return args, nil
}

// splitOutput picks the flat output ranges for each task.
func splitOutput(shape tensor.Shape, strides []int, mode parallel.Mode, cfg parallel.Config) []parallel.Range {
	n := shape.NumElements()
	whole := []parallel.Range{{Start: 0, End: n}}
	if mode == parallel.ModeSingleCore || cfg.Cores < 2 || n == 0 || n < cfg.MinChunkSize {
		return whole
	}

	// Leading unit dimensions have stride n, so cutting the first dimension
	// of size >= 2 is the same as cutting the outermost dimension.
	for d, dim := range shape {
		if dim < 2 {
			continue
		}
		parts := parallel.SplitRanges(dim, cfg.Cores)
		ranges := make([]parallel.Range, len(parts))
		for i, p := range parts {
			ranges[i] = parallel.Range{Start: p.Start * strides[d], End: p.End * strides[d]}
		}
		return ranges
	}
	return whole
}
