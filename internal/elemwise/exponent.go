package elemwise

import "github.com/born-ml/edgedl/internal/tensor"

// ChooseMulExponent picks an output exponent for a product of two operands
// when the model does not record one.
//
// The raw product of two b-bit values needs up to 2b-1 bits; shifting it by
// b-1 is the smallest shift that keeps every product in range except
// (-2^(b-1))², which saturates by one step.
func ChooseMulExponent(in0Exp, in1Exp int, dt tensor.DataType) int {
	return in0Exp + in1Exp + dt.Bits() - 1
}

// ChooseAddExponent picks an output exponent for a sum or difference: one
// bit coarser than the coarser operand, so the result cannot overflow.
func ChooseAddExponent(in0Exp, in1Exp int) int {
	return max(in0Exp, in1Exp) + 1
}
