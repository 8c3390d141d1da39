package module

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/born-ml/edgedl/internal/elemwise"
	"github.com/born-ml/edgedl/internal/parallel"
	"github.com/born-ml/edgedl/internal/tensor"
)

// binary is the shared implementation of two-input broadcasting operators.
// Concrete operators differ only in their kernels and requantization plan.
type binary struct {
	Base
	opType   string
	requant  func(outExp, in0Exp, in1Exp int) elemwise.Requant
	exponent func(in0Exp, in1Exp int, dt tensor.DataType) int
	kernel8  elemwise.Kernel[int8]
	kernel16 elemwise.Kernel[int16]
}

// OpType returns the registry type tag.
func (op *binary) OpType() string {
	return op.opType
}

// OutputShapes returns the broadcast shape of both inputs.
func (op *binary) OutputShapes(inputs []tensor.Shape) ([]tensor.Shape, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("%w: %s requires 2 inputs, got %d", ErrShape, op.opType, len(inputs))
	}
	out, err := tensor.BroadcastShapes(inputs[0], inputs[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrShape, op.opType, op.name, err)
	}
	return []tensor.Shape{out}, nil
}

// OutputExponents proposes the output exponent for the given input exponents.
func (op *binary) OutputExponents(inputs []int, dt tensor.DataType) []int {
	if len(inputs) != 2 {
		return nil
	}
	return []int{op.exponent(inputs[0], inputs[1], dt)}
}

// Forward selects the precision-specific path from the module's quant type.
func (op *binary) Forward(ctx *Context, tensors []*tensor.Tensor, mode parallel.Mode) error {
	switch op.quantType {
	case QuantSymm8Bit:
		return forwardBinary[int8](op, ctx, tensors, mode)
	case QuantSymm16Bit:
		return forwardBinary[int16](op, ctx, tensors, mode)
	default:
		err := fmt.Errorf("%w: %s %s has %s", ErrUnsupportedQuantType, op.opType, op.name, op.quantType)
		klog.ErrorS(err, "Forward aborted", "op", op.opType, "name", op.name)
		return err
	}
}

func forwardBinary[T tensor.Integer](op *binary, ctx *Context, tensors []*tensor.Tensor, mode parallel.Mode) error {
	ins, outs, err := op.slots(tensors, 2, 1)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op.opType, op.name, err)
	}
	in0, in1, out := ins[0], ins[1], outs[0]

	d := ctx.dispatcher()
	rq := op.requant(out.Exponent(), in0.Exponent(), in1.Exponent())
	args, err := elemwise.Build[T](out, in0, in1, mode, d.Config(), rq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op.opType, op.name, err)
	}

	switch len(args) {
	case 1:
		op.ForwardArgs(&args[0])
		return nil
	case 2:
		klog.V(2).InfoS("Dual-core forward", "op", op.opType, "name", op.name,
			"split", args[0].End, "total", args[1].End)
		return d.RunPair(
			func() { op.ForwardArgs(&args[0]) },
			func() { op.ForwardArgs(&args[1]) },
		)
	default:
		err := fmt.Errorf("%w: %s %s produced %d", ErrTaskCount, op.opType, op.name, len(args))
		klog.ErrorS(err, "Forward aborted", "op", op.opType, "name", op.name)
		return err
	}
}

// ForwardArgs runs the kernel matching the descriptor's element type.
func (op *binary) ForwardArgs(args any) {
	switch a := args.(type) {
	case *elemwise.Args[int8]:
		op.kernel8(a)
	case *elemwise.Args[int16]:
		op.kernel16(a)
	default:
		klog.ErrorS(nil, "Unexpected task descriptor", "op", op.opType, "name", op.name, "type", fmt.Sprintf("%T", args))
	}
}

// String describes the module.
func (op *binary) String() string {
	return fmt.Sprintf("%s(name=%s, quant_type=%s, inplace=%s, inputs=%v, outputs=%v)",
		op.opType, op.name, op.quantType, op.inplace, op.inputs, op.outputs)
}

// Print logs the module description.
func (op *binary) Print() {
	klog.InfoS(op.opType, "name", op.name, "quant_type", op.quantType, "inplace", op.inplace)
}

// Mul multiplies two broadcast tensors elementwise.
type Mul struct {
	binary
}

// NewMul creates a Mul module.
func NewMul(name string, inplace Inplace, quantType QuantType) *Mul {
	return &Mul{binary{
		Base:     NewBase(name, inplace, quantType),
		opType:   "Mul",
		requant:  elemwise.MulRequant,
		exponent: elemwise.ChooseMulExponent,
		kernel8:  elemwise.Mul[int8],
		kernel16: elemwise.Mul[int16],
	}}
}

// Add adds two broadcast tensors elementwise.
type Add struct {
	binary
}

// NewAdd creates an Add module.
func NewAdd(name string, inplace Inplace, quantType QuantType) *Add {
	return &Add{binary{
		Base:     NewBase(name, inplace, quantType),
		opType:   "Add",
		requant:  elemwise.AddRequant,
		exponent: addExponent,
		kernel8:  elemwise.Add[int8],
		kernel16: elemwise.Add[int16],
	}}
}

// Sub subtracts the second broadcast tensor from the first.
type Sub struct {
	binary
}

// NewSub creates a Sub module.
func NewSub(name string, inplace Inplace, quantType QuantType) *Sub {
	return &Sub{binary{
		Base:     NewBase(name, inplace, quantType),
		opType:   "Sub",
		requant:  elemwise.AddRequant,
		exponent: addExponent,
		kernel8:  elemwise.Sub[int8],
		kernel16: elemwise.Sub[int16],
	}}
}

func addExponent(in0Exp, in1Exp int, _ tensor.DataType) int {
	return elemwise.ChooseAddExponent(in0Exp, in1Exp)
}
