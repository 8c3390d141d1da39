package model

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/edgedl/internal/descriptor"
	"github.com/born-ml/edgedl/internal/module"
	"github.com/born-ml/edgedl/internal/parallel"
	"github.com/born-ml/edgedl/internal/tensor"
)

func testOptions() Options {
	return Options{
		Parallel: parallel.Config{Enabled: true, Cores: 2, MinChunkSize: 1},
		Reader:   descriptor.DefaultReaderOptions(),
	}
}

func mulNode(name, a, b, out string, qt module.QuantType) descriptor.Node {
	return binaryNode("Mul", name, a, b, out, qt)
}

func binaryNode(op, name, a, b, out string, qt module.QuantType) descriptor.Node {
	return descriptor.Node{
		Name:       name,
		OpType:     op,
		Inputs:     []string{a, b},
		Outputs:    []string{out},
		Attributes: map[string]descriptor.Attribute{"quant_type": descriptor.IntAttr(int64(qt))},
	}
}

// scalarMul encodes y = x * 0.5 over [1, 1] int8 values at exponent -6.
func scalarMul(t *testing.T) []byte {
	t.Helper()

	w := descriptor.NewWriter("edgedl-test")
	w.AddInput("x", tensor.Int8, tensor.Shape{1, 1}, -6)
	half, err := tensor.FromSlice([]int{1, 1}, -6, []int8{32})
	require.NoError(t, err)
	require.NoError(t, w.AddTensor("w", half))
	w.AddNode(mulNode("mul_0", "x", "w", "y", module.QuantSymm8Bit))
	w.AddOutput("y")
	w.SetExponent("y", -6)

	buf, err := w.Bytes()
	require.NoError(t, err)
	return buf
}

func TestScalarMul(t *testing.T) {
	for _, mode := range []parallel.Mode{parallel.ModeSingleCore, parallel.ModeAuto} {
		t.Run(mode.String(), func(t *testing.T) {
			m, err := LoadBytes(scalarMul(t), testOptions())
			require.NoError(t, err)
			defer m.Close()

			assert.Equal(t, []string{"x"}, m.InputNames())
			assert.Equal(t, []string{"y"}, m.OutputNames())
			require.Len(t, m.Modules(), 1)
			assert.Contains(t, m.Modules()[0].String(), "SYMM_8BIT")

			x, err := tensor.FromFloat32([]int{1, 1}, []float32{math.Pi / 2})
			require.NoError(t, err)
			y, err := tensor.FromFloat32([]int{1, 1}, []float32{0})
			require.NoError(t, err)

			err = m.RunWith(context.Background(), map[string]*tensor.Tensor{"x": x}, mode,
				map[string]*tensor.Tensor{"y": y})
			require.NoError(t, err)

			assert.Equal(t, []int8{101}, m.Inputs()["x"].AsInt8())
			assert.Equal(t, []int8{51}, m.Outputs()["y"].AsInt8())
			assert.InDelta(t, math.Pi/4, y.AsFloat32()[0], 1.0/64)
		})
	}
}

func TestRunDirect(t *testing.T) {
	m, err := LoadBytes(scalarMul(t), testOptions())
	require.NoError(t, err)
	defer m.Close()

	x := m.Inputs()["x"]
	x.AsInt8()[0] = -128
	require.NoError(t, m.Run(context.Background(), parallel.ModeAuto))
	assert.Equal(t, []int8{-64}, m.Outputs()["y"].AsInt8())
}

func TestWeightOwnership(t *testing.T) {
	buf := scalarMul(t)

	m, err := LoadBytes(buf, testOptions())
	require.NoError(t, err)
	w, ok := m.Tensor("w")
	require.True(t, ok)
	assert.Equal(t, tensor.Borrowed, w.Ownership())
	m.Close()

	opts := testOptions()
	opts.CopyWeights = true
	m, err = LoadBytes(buf, opts)
	require.NoError(t, err)
	defer m.Close()
	w, ok = m.Tensor("w")
	require.True(t, ok)
	assert.Equal(t, tensor.Owned, w.Ownership())
	assert.Equal(t, []int8{32}, w.AsInt8())
}

func TestArena(t *testing.T) {
	m, err := LoadBytes(scalarMul(t), testOptions())
	require.NoError(t, err)
	defer m.Close()

	// x and y each take one aligned block.
	assert.Equal(t, 2*ArenaAlignment, m.ArenaSize())
	assert.Equal(t, tensor.Borrowed, m.Inputs()["x"].Ownership())
	assert.Equal(t, tensor.Borrowed, m.Outputs()["y"].Ownership())
	assert.Equal(t, []string{"w", "x", "y"}, m.TensorNames())
}

func TestTopologicalOrder(t *testing.T) {
	// z = (x * w) + w, with nodes stored consumer first.
	w := descriptor.NewWriter("edgedl-test")
	w.AddInput("x", tensor.Int8, tensor.Shape{2, 2}, -4)
	c, err := tensor.FromSlice([]int{2}, -4, []int8{16, -16})
	require.NoError(t, err)
	require.NoError(t, w.AddTensor("w", c))
	w.AddNode(binaryNode("Add", "add_0", "y", "w", "z", module.QuantSymm8Bit))
	w.AddNode(mulNode("mul_0", "x", "w", "y", module.QuantSymm8Bit))
	w.AddOutput("z")
	buf, err := w.Bytes()
	require.NoError(t, err)

	m, err := LoadBytes(buf, testOptions())
	require.NoError(t, err)
	defer m.Close()

	mods := m.Modules()
	require.Len(t, mods, 2)
	assert.Equal(t, "mul_0", mods[0].Name())
	assert.Equal(t, "add_0", mods[1].Name())

	// Exponents were not recorded: Mul proposes -4-4+7 = -1, Add max(-1,-4)+1 = 0.
	y, _ := m.Tensor("y")
	z, _ := m.Tensor("z")
	assert.Equal(t, -1, y.Exponent())
	assert.Equal(t, 0, z.Exponent())
	assert.Equal(t, tensor.Shape{2, 2}, z.Shape())

	copy(m.Inputs()["x"].AsInt8(), []int8{16, 32, -48, 0})
	require.NoError(t, m.Run(context.Background(), parallel.ModeAuto))
	// x*w: 1.0*1.0, 2.0*-1.0, -3.0*1.0, 0 → y = {2, -4, -6, 0} at exponent -1.
	assert.Equal(t, []int8{2, -4, -6, 0}, y.AsInt8())
	// y + w: 1+1, -2-1, -3+1, 0-1 → z rounds half up at exponent 0.
	assert.Equal(t, []int8{2, -3, -2, -1}, z.AsInt8())
}

func TestSingleMatchesDual(t *testing.T) {
	w := descriptor.NewWriter("edgedl-test")
	w.AddInput("x", tensor.Int16, tensor.Shape{6, 1, 33}, -10)
	vals := make([]int16, 4*33)
	for i := range vals {
		vals[i] = int16((i*131)%3001 - 1500)
	}
	c, err := tensor.FromSlice([]int{4, 33}, -9, vals)
	require.NoError(t, err)
	require.NoError(t, w.AddTensor("w", c))
	w.AddNode(mulNode("mul_0", "x", "w", "y", module.QuantSymm16Bit))
	w.AddOutput("y")
	w.SetExponent("y", -14)
	buf, err := w.Bytes()
	require.NoError(t, err)

	run := func(mode parallel.Mode) []int16 {
		m, err := LoadBytes(buf, testOptions())
		require.NoError(t, err)
		defer m.Close()

		x := m.Inputs()["x"].AsInt16()
		for i := range x {
			x[i] = int16((i*97)%2001 - 1000)
		}
		require.NoError(t, m.Run(context.Background(), mode))
		y := m.Outputs()["y"]
		assert.Equal(t, tensor.Shape{6, 4, 33}, y.Shape())
		return append([]int16(nil), y.AsInt16()...)
	}

	assert.Equal(t, run(parallel.ModeSingleCore), run(parallel.ModeAuto))
}

func TestLoadErrors(t *testing.T) {
	weight, err := tensor.FromSlice([]int{4, 3}, 0, make([]int8, 12))
	require.NoError(t, err)

	tests := []struct {
		name      string
		input     tensor.Shape
		inputType tensor.DataType // Zero value is Int8.
		nodes     []descriptor.Node
		want      error
	}{
		{
			name:  "unknown operator",
			input: tensor.Shape{4, 3},
			nodes: []descriptor.Node{{Name: "conv", OpType: "Conv", Inputs: []string{"x", "w"}, Outputs: []string{"y"}}},
			want:  module.ErrUnsupportedOperator,
		},
		{
			name:  "unsupported quant type",
			input: tensor.Shape{4, 3},
			nodes: []descriptor.Node{mulNode("mul", "x", "w", "y", module.QuantNone)},
			want:  module.ErrUnsupportedOperator,
		},
		{
			name:  "incompatible shapes",
			input: tensor.Shape{2, 3},
			nodes: []descriptor.Node{mulNode("mul", "x", "w", "y", module.QuantSymm8Bit)},
			want:  module.ErrShape,
		},
		{
			name:      "input dtype differs from quant type",
			input:     tensor.Shape{4, 3},
			inputType: tensor.Int16,
			nodes:     []descriptor.Node{mulNode("mul", "x", "w", "y", module.QuantSymm8Bit)},
			want:      module.ErrShape,
		},
		{
			name:  "weight dtype differs from quant type",
			input: tensor.Shape{4, 3},
			nodes: []descriptor.Node{mulNode("mul", "x", "w", "y", module.QuantSymm16Bit)},
			want:  module.ErrShape,
		},
		{
			name:  "two nodes produce one value",
			input: tensor.Shape{4, 3},
			nodes: []descriptor.Node{
				mulNode("a", "x", "w", "y", module.QuantSymm8Bit),
				mulNode("b", "x", "w", "y", module.QuantSymm8Bit),
			},
			want:  ErrDuplicateValue,
		},
		{
			name:  "cycle",
			input: tensor.Shape{4, 3},
			nodes: []descriptor.Node{
				mulNode("a", "x", "v", "u", module.QuantSymm8Bit),
				mulNode("b", "u", "w", "v", module.QuantSymm8Bit),
				mulNode("c", "u", "w", "y", module.QuantSymm8Bit),
			},
			want: ErrCycle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := descriptor.NewWriter("edgedl-test")
			w.AddInput("x", tt.inputType, tt.input, 0)
			require.NoError(t, w.AddTensor("w", weight))
			for _, n := range tt.nodes {
				w.AddNode(n)
			}
			w.AddOutput("y")
			buf, err := w.Bytes()
			require.NoError(t, err)

			// Load must reject these without help from descriptor validation.
			opts := testOptions()
			opts.Reader.ValidationLevel = descriptor.ValidationNone
			_, err = LoadBytes(buf, opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadRejectsDuplicateValues(t *testing.T) {
	w := descriptor.NewWriter("edgedl-test")
	w.AddInput("x", tensor.Int8, tensor.Shape{1, 1}, -6)
	c, err := tensor.FromSlice([]int{1, 1}, -6, []int8{32})
	require.NoError(t, err)
	require.NoError(t, w.AddTensor("x", c))
	w.AddNode(mulNode("mul_0", "x", "x", "y", module.QuantSymm8Bit))
	w.AddOutput("y")
	buf, err := w.Bytes()
	require.NoError(t, err)

	_, err = LoadBytes(buf, testOptions())
	assert.Error(t, err)

	opts := testOptions()
	opts.Reader.ValidationLevel = descriptor.ValidationNone
	_, err = LoadBytes(buf, opts)
	assert.ErrorIs(t, err, ErrDuplicateValue)
}

func TestLoadCorruptDescriptor(t *testing.T) {
	buf := scalarMul(t)
	buf[len(buf)-1] ^= 0x01

	_, err := LoadBytes(buf, testOptions())
	assert.ErrorIs(t, err, descriptor.ErrChecksumMismatch)

	opts := testOptions()
	opts.Reader.SkipChecksumValidation = true
	m, err := LoadBytes(buf, opts)
	require.NoError(t, err)
	m.Close()
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mul.edlm")
	desc, err := descriptor.Parse(scalarMul(t), descriptor.DefaultReaderOptions())
	require.NoError(t, err)
	encoded, err := desc.Encode()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, encoded, 0o600))

	m, err := LoadFile(path, testOptions())
	require.NoError(t, err)
	defer m.Close()
	assert.Len(t, m.Modules(), 1)
}

func TestRunAfterClose(t *testing.T) {
	m, err := LoadBytes(scalarMul(t), testOptions())
	require.NoError(t, err)

	x := m.Inputs()["x"]
	m.Close()
	assert.True(t, x.Released())
	assert.ErrorIs(t, m.Run(context.Background(), parallel.ModeAuto), ErrClosed)
	assert.ErrorIs(t, m.RunWith(context.Background(), nil, parallel.ModeAuto, nil), ErrClosed)
}

func TestRunCanceled(t *testing.T) {
	m, err := LoadBytes(scalarMul(t), testOptions())
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Run(ctx, parallel.ModeAuto), context.Canceled)
}

func TestRunWithUnknownNames(t *testing.T) {
	m, err := LoadBytes(scalarMul(t), testOptions())
	require.NoError(t, err)
	defer m.Close()

	v, err := tensor.FromFloat32([]int{1}, []float32{1})
	require.NoError(t, err)

	err = m.RunWith(context.Background(), map[string]*tensor.Tensor{"nope": v}, parallel.ModeAuto, nil)
	assert.ErrorContains(t, err, "unknown input")

	err = m.RunWith(context.Background(), nil, parallel.ModeAuto, map[string]*tensor.Tensor{"nope": v})
	assert.ErrorContains(t, err, "unknown output")

	big, err := tensor.FromFloat32([]int{2}, []float32{1, 2})
	require.NoError(t, err)
	err = m.RunWith(context.Background(), map[string]*tensor.Tensor{"x": big}, parallel.ModeAuto, nil)
	assert.ErrorContains(t, err, "input x")
}
