// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package dl runs quantized neural network graphs on a dual-core target.
//
// Tensors hold signed integers scaled by a power of two: the real value of
// a raw element r with exponent e is r * 2^e. Operators broadcast their
// inputs NumPy-style and split large outputs between the two cores.
//
// # Example Usage
//
//	model, err := dl.Load("sin.edlm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer model.Close()
//
//	x, _ := dl.FromFloat32(dl.Shape{1, 1}, []float32{math.Pi / 2})
//	y, _ := dl.FromFloat32(dl.Shape{1, 1}, []float32{0})
//	err = model.RunWith(ctx, map[string]*dl.Tensor{"x": x}, dl.RuntimeAuto,
//	    map[string]*dl.Tensor{"y": y})
package dl

import (
	"github.com/born-ml/edgedl/internal/config"
	"github.com/born-ml/edgedl/internal/model"
	"github.com/born-ml/edgedl/internal/module"
	"github.com/born-ml/edgedl/internal/parallel"
	"github.com/born-ml/edgedl/internal/tensor"
)

// Tensor is a quantized or floating-point tensor.
type Tensor = tensor.Tensor

// Shape is a tensor shape.
type Shape = tensor.Shape

// DataType is a tensor element type.
type DataType = tensor.DataType

// Integer constrains the raw element types of quantized tensors.
type Integer = tensor.Integer

// Element types.
const (
	Int8    = tensor.Int8
	Int16   = tensor.Int16
	Int32   = tensor.Int32
	Float32 = tensor.Float32
	Float16 = tensor.Float16
)

// RuntimeMode selects whether operators may use both cores.
type RuntimeMode = parallel.Mode

// Runtime modes.
const (
	RuntimeAuto       = parallel.ModeAuto
	RuntimeSingleCore = parallel.ModeSingleCore
)

// Model is a loaded graph.
type Model = model.Model

// LoadOptions configures model loading.
type LoadOptions = model.Options

// DefaultLoadOptions returns options read from the EDGEDL_* environment.
func DefaultLoadOptions() LoadOptions {
	return model.DefaultOptions()
}

// Load loads a model descriptor file.
func Load(path string, opts ...LoadOptions) (*Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	return model.LoadFile(path, opt)
}

// LoadBytes loads a model descriptor held in memory. Unless CopyWeights is
// set, data must stay untouched while the model is in use.
func LoadBytes(data []byte, opts ...LoadOptions) (*Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	return model.LoadBytes(data, opt)
}

// RuntimeModeFromEnv returns the mode selected by EDGEDL_RUNTIME_MODE.
func RuntimeModeFromEnv() RuntimeMode {
	return config.RuntimeMode()
}

// NewTensor creates a zero-filled tensor.
func NewTensor(shape Shape, dt DataType, exponent int) (*Tensor, error) {
	return tensor.New(shape, dt, exponent)
}

// FromFloat32 creates a Float32 tensor holding a copy of values.
func FromFloat32(shape Shape, values []float32) (*Tensor, error) {
	return tensor.FromFloat32(shape, values)
}

// FromSlice creates a quantized tensor holding a copy of raw values.
func FromSlice[T Integer](shape Shape, exponent int, values []T) (*Tensor, error) {
	return tensor.FromSlice(shape, exponent, values)
}

// Quantize converts v to a raw value with the given exponent, rounding to
// nearest and saturating to T's range.
func Quantize[T Integer](v float64, exponent int) T {
	return tensor.Quantize[T](v, exponent)
}

// Dequantize returns raw * 2^exponent.
func Dequantize[T Integer](raw T, exponent int) float64 {
	return tensor.Dequantize(raw, exponent)
}

// BroadcastShapes returns the NumPy broadcast of two shapes.
func BroadcastShapes(a, b Shape) (Shape, error) {
	return tensor.BroadcastShapes(a, b)
}

// SupportedOps lists the operator types models may contain.
func SupportedOps() []string {
	return module.NewRegistry().SupportedOps()
}
