package tensor

import (
	"fmt"

	"github.com/x448/float16"
)

// Assign copies src into t, converting across the quantization boundary.
//
//   - float → int quantizes with t's exponent
//   - int → float dequantizes with src's exponent
//   - int → int requantizes from src's exponent to t's exponent
//   - float → float converts precision
//
// Both tensors must hold the same number of elements; shapes may differ.
func (t *Tensor) Assign(src *Tensor) error {
	if t.released || src.released {
		return ErrReleased
	}
	if t.NumElements() != src.NumElements() {
		return fmt.Errorf("assign: %v (%d elements) from %v (%d elements)",
			t.shape, t.NumElements(), src.shape, src.NumElements())
	}

	if t.dtype == src.dtype && (t.dtype.IsFloat() || t.exponent == src.exponent) {
		copy(t.data, src.data)
		return nil
	}

	switch {
	case src.dtype.IsFloat():
		values := src.floats()
		if t.dtype.IsFloat() {
			t.setFloats(values)
			return nil
		}
		switch t.dtype {
		case Int8:
			quantizeInto(t.AsInt8(), values, t.exponent)
		case Int16:
			quantizeInto(t.AsInt16(), values, t.exponent)
		case Int32:
			quantizeInto(t.AsInt32(), values, t.exponent)
		}
	case t.dtype.IsFloat():
		raw := src.ints()
		values := make([]float64, len(raw))
		for i, r := range raw {
			values[i] = Dequantize(r, src.exponent)
		}
		t.setFloats(values)
	default:
		shift := t.exponent - src.exponent
		raw := src.ints()
		switch t.dtype {
		case Int8:
			requantizeInto(t.AsInt8(), raw, shift)
		case Int16:
			requantizeInto(t.AsInt16(), raw, shift)
		case Int32:
			requantizeInto(t.AsInt32(), raw, shift)
		}
	}
	return nil
}

func quantizeInto[T Integer](dst []T, values []float64, exponent int) {
	for i, v := range values {
		dst[i] = Quantize[T](v, exponent)
	}
}

func requantizeInto[T Integer](dst []T, raw []int32, shift int) {
	for i, r := range raw {
		dst[i] = Saturate[T](Rescale(int64(r), shift))
	}
}

// ints widens an integer tensor's raw values.
func (t *Tensor) ints() []int32 {
	out := make([]int32, t.NumElements())
	switch t.dtype {
	case Int8:
		for i, v := range t.AsInt8() {
			out[i] = int32(v)
		}
	case Int16:
		for i, v := range t.AsInt16() {
			out[i] = int32(v)
		}
	case Int32:
		copy(out, t.AsInt32())
	default:
		panic(fmt.Sprintf("tensor dtype is %s, not an integer type", t.dtype))
	}
	return out
}

// floats widens a floating-point tensor's values.
func (t *Tensor) floats() []float64 {
	out := make([]float64, t.NumElements())
	switch t.dtype {
	case Float32:
		for i, v := range t.AsFloat32() {
			out[i] = float64(v)
		}
	case Float16:
		for i, v := range t.AsFloat16() {
			out[i] = float64(v.Float32())
		}
	default:
		panic(fmt.Sprintf("tensor dtype is %s, not a float type", t.dtype))
	}
	return out
}

func (t *Tensor) setFloats(values []float64) {
	switch t.dtype {
	case Float32:
		dst := t.AsFloat32()
		for i, v := range values {
			dst[i] = float32(v)
		}
	case Float16:
		dst := t.AsFloat16()
		for i, v := range values {
			dst[i] = float16.Fromfloat32(float32(v))
		}
	default:
		panic(fmt.Sprintf("tensor dtype is %s, not a float type", t.dtype))
	}
}
