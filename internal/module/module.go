// Package module defines the operator contract of the runtime and the
// registry that rebuilds operators from serialized graph nodes.
//
// A Module is bound to fixed slots of the model's tensor table. Shape
// inference runs once when the graph is built; Forward runs on every
// inference and may split its work across both cores through the
// Context's dispatcher.
package module

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/edgedl/internal/parallel"
	"github.com/born-ml/edgedl/internal/tensor"
)

// Errors reported by modules.
var (
	ErrShape                = errors.New("shape error")
	ErrUnsupportedQuantType = errors.New("unsupported quantization type")
	ErrTaskCount            = errors.New("task count must be 1 or 2")
	ErrNotBound             = errors.New("module slots are not bound")
	ErrUnsupportedOperator  = errors.New("unsupported operator")
)

// QuantType selects the numeric precision a module runs in.
type QuantType int

// Quantization types as stored in the quant_type node attribute.
const (
	QuantNone QuantType = iota
	QuantSymm8Bit
	QuantSymm16Bit
)

// String returns the name used in model descriptors and diagnostics.
func (q QuantType) String() string {
	switch q {
	case QuantNone:
		return "QUANT_TYPE_NONE"
	case QuantSymm8Bit:
		return "QUANT_TYPE_SYMM_8BIT"
	case QuantSymm16Bit:
		return "QUANT_TYPE_SYMM_16BIT"
	default:
		return fmt.Sprintf("QUANT_TYPE_UNKNOWN(%d)", int(q))
	}
}

// ParseQuantType accepts both "QUANT_TYPE_SYMM_8BIT" and "SYMM_8BIT".
func ParseQuantType(s string) (QuantType, bool) {
	switch strings.TrimPrefix(strings.ToUpper(s), "QUANT_TYPE_") {
	case "NONE":
		return QuantNone, true
	case "SYMM_8BIT":
		return QuantSymm8Bit, true
	case "SYMM_16BIT":
		return QuantSymm16Bit, true
	default:
		return 0, false
	}
}

// DataType returns the tensor type that stores values of this precision.
func (q QuantType) DataType() (tensor.DataType, bool) {
	switch q {
	case QuantSymm8Bit:
		return tensor.Int8, true
	case QuantSymm16Bit:
		return tensor.Int16, true
	default:
		return 0, false
	}
}

// Inplace tells the model whether a module may write its output over its
// first input.
type Inplace int

// Inplace modes.
const (
	NonInplace Inplace = iota
	InplaceFirstInput
)

// String returns a human-readable inplace mode.
func (m Inplace) String() string {
	switch m {
	case NonInplace:
		return "MODULE_NON_INPLACE"
	case InplaceFirstInput:
		return "MODULE_INPLACE_CHANGED_BUFFER"
	default:
		return "MODULE_INPLACE_UNKNOWN"
	}
}

// Context provides execution resources to a module's Forward.
type Context struct {
	Dispatcher *parallel.Dispatcher
}

// dispatcher returns the context's dispatcher, or a fresh dual-core one.
func (c *Context) dispatcher() *parallel.Dispatcher {
	if c == nil || c.Dispatcher == nil {
		return parallel.NewDispatcher(parallel.DefaultConfig())
	}
	return c.Dispatcher
}

// Module is one operator instance of a graph.
type Module interface {
	// Name returns the graph node name.
	Name() string
	// OpType returns the registry type tag, e.g. "Mul".
	OpType() string
	QuantType() QuantType
	Inplace() Inplace

	// Bind attaches the module to slots of the tensor table. It is called
	// once when the graph is built.
	Bind(inputs, outputs []int)
	Inputs() []int
	Outputs() []int

	// OutputShapes infers output shapes from input shapes. Errors wrap ErrShape.
	OutputShapes(inputs []tensor.Shape) ([]tensor.Shape, error)

	// OutputExponents proposes output exponents for graphs that do not
	// record them.
	OutputExponents(inputs []int, dt tensor.DataType) []int

	// Forward computes the outputs from the bound slots of tensors.
	Forward(ctx *Context, tensors []*tensor.Tensor, mode parallel.Mode) error

	// ForwardArgs computes exactly one task descriptor produced during
	// Forward. Calls on disjoint descriptors may run concurrently.
	ForwardArgs(args any)

	// String describes the module for diagnostics.
	String() string
}

// Base holds the state shared by every module.
type Base struct {
	name      string
	inplace   Inplace
	quantType QuantType
	inputs    []int
	outputs   []int
}

// NewBase creates the common module state.
func NewBase(name string, inplace Inplace, quantType QuantType) Base {
	return Base{name: name, inplace: inplace, quantType: quantType}
}

// Name returns the graph node name.
func (b *Base) Name() string {
	return b.name
}

// QuantType returns the module's precision.
func (b *Base) QuantType() QuantType {
	return b.quantType
}

// Inplace returns the module's inplace mode.
func (b *Base) Inplace() Inplace {
	return b.inplace
}

// Bind records the tensor table slots of the module.
func (b *Base) Bind(inputs, outputs []int) {
	b.inputs = append([]int(nil), inputs...)
	b.outputs = append([]int(nil), outputs...)
}

// Inputs returns the bound input slots.
func (b *Base) Inputs() []int {
	return b.inputs
}

// Outputs returns the bound output slots.
func (b *Base) Outputs() []int {
	return b.outputs
}

// slots resolves n inputs and m outputs from the tensor table.
func (b *Base) slots(tensors []*tensor.Tensor, n, m int) (ins, outs []*tensor.Tensor, err error) {
	if len(b.inputs) != n || len(b.outputs) != m {
		return nil, nil, fmt.Errorf("%w: %d inputs and %d outputs bound, want %d and %d",
			ErrNotBound, len(b.inputs), len(b.outputs), n, m)
	}
	lookup := func(slot int) (*tensor.Tensor, error) {
		if slot < 0 || slot >= len(tensors) || tensors[slot] == nil {
			return nil, fmt.Errorf("%w: slot %d is empty", ErrNotBound, slot)
		}
		return tensors[slot], nil
	}
	ins = make([]*tensor.Tensor, n)
	for i, slot := range b.inputs {
		if ins[i], err = lookup(slot); err != nil {
			return nil, nil, err
		}
	}
	outs = make([]*tensor.Tensor, m)
	for i, slot := range b.outputs {
		if outs[i], err = lookup(slot); err != nil {
			return nil, nil, err
		}
	}
	return ins, outs, nil
}
