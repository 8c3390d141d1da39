package tensor

import (
	"math"
	"math/bits"
)

// Range returns the smallest and largest raw values representable by T.
func Range[T Integer]() (lo, hi int64) {
	width := DataTypeOf[T]().Bits()
	hi = int64(1)<<(width-1) - 1
	return -hi - 1, hi
}

// Saturate clamps x into the range of T.
func Saturate[T Integer](x int64) T {
	lo, hi := Range[T]()
	switch {
	case x < lo:
		return T(lo)
	case x > hi:
		return T(hi)
	default:
		return T(x)
	}
}

// Rescale moves a raw value from one power-of-two scale to another.
//
// A positive shift divides by 2^shift rounding half up; a non-positive shift
// multiplies by 2^-shift. Callers pass int64 so the widened product of two
// 16-bit operands never overflows before the shift.
func Rescale(x int64, shift int) int64 {
	switch {
	case shift > 62:
		return 0
	case shift > 0:
		return (x + int64(1)<<(shift-1)) >> shift
	case shift < 0:
		if x == 0 {
			return 0
		}
		mag := uint64(x)
		if x < 0 {
			mag = uint64(-x)
		}
		if bits.Len64(mag)-shift >= 63 {
			if x < 0 {
				return math.MinInt64
			}
			return math.MaxInt64
		}
		return x << -shift
	default:
		return x
	}
}

// Quantize converts a real value into the raw representation with the given
// exponent: round(v / 2^exponent), saturated to T.
func Quantize[T Integer](v float64, exponent int) T {
	q := math.Round(math.Ldexp(v, -exponent))
	lo, hi := Range[T]()
	switch {
	case math.IsNaN(q):
		return 0
	case q < float64(lo):
		return T(lo)
	case q > float64(hi):
		return T(hi)
	default:
		return T(q)
	}
}

// Dequantize converts a raw value back to its real value: raw * 2^exponent.
func Dequantize[T Integer](raw T, exponent int) float64 {
	return math.Ldexp(float64(raw), exponent)
}
