package module

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/edgedl/internal/parallel"
	"github.com/born-ml/edgedl/internal/tensor"
)

func newTestContext(minChunk int) *Context {
	return &Context{Dispatcher: parallel.NewDispatcher(parallel.Config{
		Enabled:      true,
		Cores:        2,
		MinChunkSize: minChunk,
	})}
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()

	for _, op := range []string{"Mul", "Add", "Sub"} {
		_, ok := r.Get(op)
		assert.True(t, ok, "expected %s to be registered", op)
	}
	assert.Equal(t, []string{"Add", "Mul", "Sub"}, r.SupportedOps())
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Get("Conv")
	assert.False(t, ok)
	assert.Nil(t, r.Deserialize("Conv", "conv_0", Attributes{"quant_type": 1}))
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() { r.register("Mul", DeserializeMul) })
}

func TestDeserializeMul(t *testing.T) {
	r := NewRegistry()

	m := r.Deserialize("Mul", "mul_0", Attributes{"quant_type": int64(QuantSymm8Bit)})
	require.NotNil(t, m)
	assert.Equal(t, "mul_0", m.Name())
	assert.Equal(t, "Mul", m.OpType())
	assert.Equal(t, QuantSymm8Bit, m.QuantType())
	assert.Equal(t, NonInplace, m.Inplace())
	assert.Contains(t, m.String(), "SYMM_8BIT")

	m = r.Deserialize("Mul", "mul_1", Attributes{"quant_type": "SYMM_16BIT"})
	require.NotNil(t, m)
	assert.Equal(t, QuantSymm16Bit, m.QuantType())
	assert.Contains(t, m.String(), "SYMM_16BIT")
}

func TestDeserializeUnsupported(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name  string
		attrs Attributes
	}{
		{"missing", Attributes{}},
		{"none", Attributes{"quant_type": int64(QuantNone)}},
		{"unknown code", Attributes{"quant_type": int64(7)}},
		{"unknown name", Attributes{"quant_type": "SYMM_32BIT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, op := range r.SupportedOps() {
				m := r.Deserialize(op, "node", tt.attrs)
				// A typed nil would compare non-nil here.
				assert.True(t, m == nil, "%s: expected nil module", op)
			}
		})
	}
}

func TestQuantType(t *testing.T) {
	assert.Equal(t, "QUANT_TYPE_SYMM_8BIT", QuantSymm8Bit.String())
	assert.Equal(t, "QUANT_TYPE_UNKNOWN(9)", QuantType(9).String())

	qt, ok := ParseQuantType("quant_type_symm_16bit")
	assert.True(t, ok)
	assert.Equal(t, QuantSymm16Bit, qt)

	dt, ok := QuantSymm8Bit.DataType()
	assert.True(t, ok)
	assert.Equal(t, tensor.Int8, dt)
	_, ok = QuantNone.DataType()
	assert.False(t, ok)
}

func TestMulOutputShapes(t *testing.T) {
	m := NewMul("mul", NonInplace, QuantSymm8Bit)

	shapes, err := m.OutputShapes([]tensor.Shape{{2, 1, 4}, {3, 1}})
	require.NoError(t, err)
	assert.Equal(t, []tensor.Shape{{2, 3, 4}}, shapes)

	shapes, err = m.OutputShapes([]tensor.Shape{{1, 1}, {1, 1}})
	require.NoError(t, err)
	assert.Equal(t, []tensor.Shape{{1, 1}}, shapes)

	_, err = m.OutputShapes([]tensor.Shape{{2, 3}})
	assert.ErrorIs(t, err, ErrShape)

	_, err = m.OutputShapes([]tensor.Shape{{2, 3}, {2, 3}, {2, 3}})
	assert.ErrorIs(t, err, ErrShape)

	_, err = m.OutputShapes([]tensor.Shape{{2, 3}, {4, 3}})
	assert.ErrorIs(t, err, ErrShape)
	assert.ErrorIs(t, err, tensor.ErrIncompatibleShapes)
}

func TestOutputExponents(t *testing.T) {
	assert.Equal(t, []int{-5}, NewMul("m", NonInplace, QuantSymm8Bit).OutputExponents([]int{-6, -6}, tensor.Int8))
	assert.Equal(t, []int{-3}, NewAdd("a", NonInplace, QuantSymm8Bit).OutputExponents([]int{-4, -6}, tensor.Int8))
	assert.Nil(t, NewSub("s", NonInplace, QuantSymm8Bit).OutputExponents([]int{-4}, tensor.Int8))
}

func TestMulForward_Scalar(t *testing.T) {
	// pi/2 * 0.5 with all exponents at -6.
	in0, err := tensor.FromSlice([]int{1, 1}, -6, []int8{101})
	require.NoError(t, err)
	in1, err := tensor.FromSlice([]int{1, 1}, -6, []int8{32})
	require.NoError(t, err)
	out, err := tensor.New(tensor.Shape{1, 1}, tensor.Int8, -6)
	require.NoError(t, err)

	m := NewMul("mul", NonInplace, QuantSymm8Bit)
	m.Bind([]int{0, 1}, []int{2})
	err = m.Forward(newTestContext(64), []*tensor.Tensor{in0, in1, out}, parallel.ModeSingleCore)
	require.NoError(t, err)

	assert.Equal(t, []int8{51}, out.AsInt8())
	assert.InDelta(t, 0.785, tensor.Dequantize(out.AsInt8()[0], out.Exponent()), 1.0/64)
}

func TestMulForward_SingleMatchesDual(t *testing.T) {
	shape0, shape1 := tensor.Shape{8, 1, 16}, tensor.Shape{4, 16}
	outShape := tensor.Shape{8, 4, 16}

	v0 := make([]int16, shape0.NumElements())
	for i := range v0 {
		v0[i] = int16((i*37)%2001 - 1000)
	}
	v1 := make([]int16, shape1.NumElements())
	for i := range v1 {
		v1[i] = int16((i*91)%601 - 300)
	}
	in0, err := tensor.FromSlice(shape0, -10, v0)
	require.NoError(t, err)
	in1, err := tensor.FromSlice(shape1, -8, v1)
	require.NoError(t, err)

	run := func(mode parallel.Mode) []int16 {
		out, err := tensor.New(outShape, tensor.Int16, -12)
		require.NoError(t, err)
		m := NewMul("mul", NonInplace, QuantSymm16Bit)
		m.Bind([]int{0, 1}, []int{2})
		require.NoError(t, m.Forward(newTestContext(1), []*tensor.Tensor{in0, in1, out}, mode))
		got := make([]int16, out.NumElements())
		copy(got, out.AsInt16())
		return got
	}

	assert.Equal(t, run(parallel.ModeSingleCore), run(parallel.ModeAuto))
}

func TestAddSubForward(t *testing.T) {
	in0, err := tensor.FromSlice([]int{2, 2}, -4, []int8{16, 32, -8, 100})
	require.NoError(t, err)
	in1, err := tensor.FromSlice([]int{2}, -4, []int8{8, -16})
	require.NoError(t, err)

	tests := []struct {
		module Module
		want   []int8
	}{
		// Output exponent -3 halves every raw value, rounding half up.
		{NewAdd("add", NonInplace, QuantSymm8Bit), []int8{12, 8, 0, 42}},
		{NewSub("sub", NonInplace, QuantSymm8Bit), []int8{4, 24, -8, 58}},
	}
	for _, tt := range tests {
		t.Run(tt.module.OpType(), func(t *testing.T) {
			out, err := tensor.New(tensor.Shape{2, 2}, tensor.Int8, -3)
			require.NoError(t, err)
			tt.module.Bind([]int{0, 1}, []int{2})
			err = tt.module.Forward(nil, []*tensor.Tensor{in0, in1, out}, parallel.ModeAuto)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.AsInt8())
		})
	}
}

func TestForward_UnsupportedQuantType(t *testing.T) {
	in0, err := tensor.FromSlice([]int{1}, 0, []int8{1})
	require.NoError(t, err)
	out, err := tensor.New(tensor.Shape{1}, tensor.Int8, 0)
	require.NoError(t, err)

	m := NewMul("mul", NonInplace, QuantNone)
	m.Bind([]int{0, 0}, []int{1})
	err = m.Forward(nil, []*tensor.Tensor{in0, out}, parallel.ModeAuto)
	assert.ErrorIs(t, err, ErrUnsupportedQuantType)
	assert.Equal(t, []int8{0}, out.AsInt8())
}

func TestForward_NotBound(t *testing.T) {
	m := NewMul("mul", NonInplace, QuantSymm8Bit)
	err := m.Forward(nil, nil, parallel.ModeAuto)
	assert.True(t, errors.Is(err, ErrNotBound))

	m.Bind([]int{0, 5}, []int{1})
	in, err := tensor.FromSlice([]int{1}, 0, []int8{1})
	require.NoError(t, err)
	err = m.Forward(nil, []*tensor.Tensor{in, in}, parallel.ModeAuto)
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestForward_DTypeMismatch(t *testing.T) {
	in0, err := tensor.FromSlice([]int{2}, 0, []int16{1, 2})
	require.NoError(t, err)
	out, err := tensor.New(tensor.Shape{2}, tensor.Int8, 0)
	require.NoError(t, err)

	m := NewMul("mul", NonInplace, QuantSymm8Bit)
	m.Bind([]int{0, 0}, []int{1})
	assert.Error(t, m.Forward(nil, []*tensor.Tensor{in0, out}, parallel.ModeAuto))
}

func TestForwardArgs_UnknownDescriptor(t *testing.T) {
	m := NewMul("mul", NonInplace, QuantSymm8Bit)
	assert.NotPanics(t, func() { m.ForwardArgs("not a descriptor") })
}

func TestBindCopiesSlots(t *testing.T) {
	m := NewAdd("add", NonInplace, QuantSymm8Bit)
	ins := []int{3, 4}
	m.Bind(ins, []int{5})
	ins[0] = 9
	assert.Equal(t, []int{3, 4}, m.Inputs())
	assert.Equal(t, []int{5}, m.Outputs())
	assert.Contains(t, m.String(), "inputs=[3 4]")
}
