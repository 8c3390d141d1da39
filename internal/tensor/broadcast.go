package tensor

import (
	"errors"
	"fmt"
)

// ErrIncompatibleShapes is returned when two shapes cannot be broadcast together.
var ErrIncompatibleShapes = errors.New("shapes not compatible for broadcasting")

// BroadcastShapes implements NumPy-style multidirectional broadcasting.
//
// Rules:
// 1. Compare shapes element-wise from right to left
// 2. Dimensions are compatible if:
//   - They are equal, OR
//   - One of them is 1
//
// 3. Missing dimensions are treated as 1
//
// A zero-length dimension therefore only pairs with 0 or 1, and a rank-0
// shape behaves as a scalar.
//
// Examples:
//
//	(3, 1, 5) * (4, 5) → (3, 4, 5)
//	(0, 1)    * (1, 4) → (0, 4)
//	(2, 3)    * (4)    → ErrIncompatibleShapes
func BroadcastShapes(a, b Shape) (Shape, error) {
	maxLen := max(len(a), len(b))
	result := make(Shape, maxLen)

	for i := 0; i < maxLen; i++ {
		aIdx := len(a) - 1 - i
		bIdx := len(b) - 1 - i

		aDim := 1
		if aIdx >= 0 {
			aDim = a[aIdx]
		}

		bDim := 1
		if bIdx >= 0 {
			bDim = b[bIdx]
		}

		switch {
		case aDim == bDim:
			result[maxLen-1-i] = aDim
		case aDim == 1:
			result[maxLen-1-i] = bDim
		case bDim == 1:
			result[maxLen-1-i] = aDim
		default:
			return nil, fmt.Errorf("%w: %v vs %v (dimension %d: %d vs %d)",
				ErrIncompatibleShapes, a, b, maxLen-1-i, aDim, bDim)
		}
	}

	return result, nil
}

// BroadcastStrides computes strides for reading a tensor of shape in as if it
// had shape out. Padded and size-1 dimensions get stride 0, so every output
// coordinate along them maps back to index 0 of the input.
func BroadcastStrides(in, out Shape) []int {
	outDim := len(out)
	strides := make([]int, outDim)

	inDim := len(in)
	offset := outDim - inDim
	origStrides := in.ComputeStrides()

	for i := 0; i < outDim; i++ {
		inIdx := i - offset
		switch {
		case inIdx < 0 || inIdx >= inDim:
			strides[i] = 0
		case in[inIdx] == 1:
			strides[i] = 0
		default:
			strides[i] = origStrides[inIdx]
		}
	}

	return strides
}

// FlatIndex maps a flat output index to the flat index of a broadcast input.
// outStrides are the row-major strides of the output shape, inStrides come
// from BroadcastStrides.
func FlatIndex(outIdx int, outStrides, inStrides []int) int {
	flatIdx := 0
	for i := range outStrides {
		if outStrides[i] == 0 {
			continue
		}
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		flatIdx += coord * inStrides[i]
	}
	return flatIdx
}
