package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRange(t *testing.T) {
	lo, hi := Range[int8]()
	assert.Equal(t, int64(-128), lo)
	assert.Equal(t, int64(127), hi)

	lo, hi = Range[int16]()
	assert.Equal(t, int64(-32768), lo)
	assert.Equal(t, int64(32767), hi)
}

func TestSaturate(t *testing.T) {
	assert.Equal(t, int8(127), Saturate[int8](1000))
	assert.Equal(t, int8(-128), Saturate[int8](-1000))
	assert.Equal(t, int8(5), Saturate[int8](5))
	assert.Equal(t, int16(32767), Saturate[int16](1<<20))
}

func TestRescale(t *testing.T) {
	cases := []struct {
		x     int64
		shift int
		want  int64
	}{
		{100, 0, 100},
		{100, 2, 25},
		{5, 1, 3},   // 2.5 rounds up
		{-5, 1, -2}, // -2.5 rounds up
		{7, 2, 2},   // 1.75
		{3, -2, 12},
		{1, 70, 0},
		{1, -70, math.MaxInt64},
		{-1, -70, math.MinInt64},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Rescale(tc.x, tc.shift), "Rescale(%d, %d)", tc.x, tc.shift)
	}
}

func TestQuantizeDequantize(t *testing.T) {
	const exp = -7
	for _, v := range []float64{0, 0.5, -0.5, 0.99, -1, 0.0078125} {
		q := Quantize[int8](v, exp)
		back := Dequantize(q, exp)
		assert.InDelta(t, v, back, math.Ldexp(1, exp)/2+1e-12, "value %v", v)
	}
}

func TestQuantize_Saturates(t *testing.T) {
	assert.Equal(t, int8(127), Quantize[int8](10, -7))
	assert.Equal(t, int8(-128), Quantize[int8](-10, -7))
	assert.Equal(t, int8(0), Quantize[int8](math.NaN(), -7))
}

func TestQuantize_Sin90(t *testing.T) {
	// The demo feeds sin's argument for 90 degrees into an int8 input.
	in := 90 * math.Pi / 180
	q := Quantize[int8](in, -6)
	assert.Equal(t, int8(101), q)
}
