// Package model runs a graph of quantized operators loaded from a model
// descriptor.
//
// Loading resolves every operator, infers every shape and exponent, and
// allocates all activations up front. Run then executes the operators in
// order without allocating tensor memory.
package model

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/born-ml/edgedl/internal/module"
	"github.com/born-ml/edgedl/internal/parallel"
	"github.com/born-ml/edgedl/internal/tensor"
)

// ErrClosed is returned when running a closed model.
var ErrClosed = errors.New("model is closed")

// Model is a loaded graph ready for inference. A Model is not safe for
// concurrent runs.
type Model struct {
	modules     []module.Module
	tensors     []*tensor.Tensor // Slot table shared by all modules.
	slots       map[string]int
	inputNames  []string
	outputNames []string
	metadata    map[string]string
	arena       []byte
	dispatcher  *parallel.Dispatcher
	closed      bool
}

// InputNames returns the names of the graph inputs.
func (m *Model) InputNames() []string {
	return m.inputNames
}

// OutputNames returns the names of the graph outputs.
func (m *Model) OutputNames() []string {
	return m.outputNames
}

// Inputs returns the graph input tensors by name. Writing into them sets
// the inputs of the next Run.
func (m *Model) Inputs() map[string]*tensor.Tensor {
	return m.lookup(m.inputNames)
}

// Outputs returns the graph output tensors by name. They hold the results
// of the last Run.
func (m *Model) Outputs() map[string]*tensor.Tensor {
	return m.lookup(m.outputNames)
}

// Tensor returns any named value of the graph.
func (m *Model) Tensor(name string) (*tensor.Tensor, bool) {
	slot, ok := m.slots[name]
	if !ok {
		return nil, false
	}
	return m.tensors[slot], true
}

// TensorNames returns the names of all graph values in sorted order.
func (m *Model) TensorNames() []string {
	names := make([]string, 0, len(m.slots))
	for name := range m.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Modules returns the operators in execution order.
func (m *Model) Modules() []module.Module {
	return m.modules
}

// Metadata returns the descriptor's free-form metadata.
func (m *Model) Metadata() map[string]string {
	return m.metadata
}

// ArenaSize returns the bytes reserved for inputs and activations.
func (m *Model) ArenaSize() int {
	return len(m.arena)
}

// Run executes every operator in order. It stops at the first failing
// operator and between operators when ctx is done.
func (m *Model) Run(ctx context.Context, mode parallel.Mode) error {
	if m.closed {
		return ErrClosed
	}

	mctx := &module.Context{Dispatcher: m.dispatcher}
	for _, mod := range m.modules {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := mod.Forward(mctx, m.tensors, mode); err != nil {
			return fmt.Errorf("node %s (%s): %w", mod.Name(), mod.OpType(), err)
		}
	}
	return nil
}

// RunWith assigns inputs to the graph inputs of the same name, runs the
// model and assigns the graph outputs into outputs. Inputs and outputs may be
// float tensors; values are quantized and dequantized on the way.
func (m *Model) RunWith(ctx context.Context, inputs map[string]*tensor.Tensor, mode parallel.Mode,
	outputs map[string]*tensor.Tensor) error {
	if m.closed {
		return ErrClosed
	}

	graphIn := m.Inputs()
	for name, src := range inputs {
		dst, ok := graphIn[name]
		if !ok {
			return fmt.Errorf("unknown input: %s", name)
		}
		if err := dst.Assign(src); err != nil {
			return fmt.Errorf("input %s: %w", name, err)
		}
	}

	if err := m.Run(ctx, mode); err != nil {
		return err
	}

	graphOut := m.Outputs()
	for name, dst := range outputs {
		src, ok := graphOut[name]
		if !ok {
			return fmt.Errorf("unknown output: %s", name)
		}
		if err := dst.Assign(src); err != nil {
			return fmt.Errorf("output %s: %w", name, err)
		}
	}
	return nil
}

// Close releases the arena and every tensor of the model. Tensors obtained
// from the model must not be used afterwards.
func (m *Model) Close() {
	for _, t := range m.tensors {
		if t != nil {
			t.Release()
		}
	}
	m.arena = nil
	m.closed = true
}

func (m *Model) lookup(names []string) map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, len(names))
	for _, name := range names {
		if slot, ok := m.slots[name]; ok {
			out[name] = m.tensors[slot]
		}
	}
	return out
}
