package model

import (
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/born-ml/edgedl/internal/config"
	"github.com/born-ml/edgedl/internal/descriptor"
	"github.com/born-ml/edgedl/internal/module"
	"github.com/born-ml/edgedl/internal/parallel"
	"github.com/born-ml/edgedl/internal/tensor"
)

// ArenaAlignment is the alignment of every activation in the arena.
const ArenaAlignment = 16

var (
	// ErrCycle is returned for graphs whose nodes depend on each other.
	ErrCycle = errors.New("graph contains a cycle")
	// ErrDuplicateValue is returned when two graph values share a name.
	ErrDuplicateValue = errors.New("duplicate value name")
)

// Options configures model loading.
type Options struct {
	// CopyWeights copies constant tensors out of the descriptor buffer. By
	// default weights borrow the buffer, which must then outlive the Model.
	CopyWeights bool

	// Parallel configures the dual-core dispatcher used by Run.
	Parallel parallel.Config

	// Reader configures descriptor parsing for LoadFile and LoadBytes.
	Reader descriptor.ReaderOptions

	// Registry resolves operator types. Nil uses module.NewRegistry.
	Registry *module.Registry
}

// DefaultOptions returns options taken from the EDGEDL_* environment.
func DefaultOptions() Options {
	reader := descriptor.DefaultReaderOptions()
	reader.SkipChecksumValidation = !config.VerifyChecksum()
	return Options{
		Parallel: config.Parallel(),
		Reader:   reader,
	}
}

// LoadFile reads a descriptor file and builds a model from it.
func LoadFile(path string, opts Options) (*Model, error) {
	desc, err := descriptor.ReadFile(path, opts.Reader)
	if err != nil {
		return nil, err
	}
	return Load(desc, opts)
}

// LoadBytes parses a descriptor held in memory and builds a model from it.
// Unless opts.CopyWeights is set, data must outlive the model.
func LoadBytes(data []byte, opts Options) (*Model, error) {
	desc, err := descriptor.Parse(data, opts.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse descriptor: %w", err)
	}
	return Load(desc, opts)
}

// value is a planned activation or graph input.
type value struct {
	slot     int
	shape    tensor.Shape
	dtype    tensor.DataType
	exponent int
}

// Load builds a runnable model from a parsed descriptor: operators are
// deserialized in execution order, shapes and exponents are inferred, and
// every graph input and activation is placed in a single arena.
func Load(desc *descriptor.Model, opts Options) (*Model, error) {
	registry := opts.Registry
	if registry == nil {
		registry = module.NewRegistry()
	}

	h := &desc.Header
	m := &Model{
		slots:       make(map[string]int),
		inputNames:  make([]string, 0, len(h.Inputs)),
		outputNames: append([]string(nil), h.Outputs...),
		metadata:    h.Metadata,
		dispatcher:  parallel.NewDispatcher(opts.Parallel),
	}
	addSlot := func(name string) (int, error) {
		if _, ok := m.slots[name]; ok {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateValue, name)
		}
		slot := len(m.tensors)
		m.slots[name] = slot
		m.tensors = append(m.tensors, nil)
		return slot, nil
	}

	// Graph inputs.
	var planned []value
	for _, in := range h.Inputs {
		dt, ok := tensor.ParseDataType(in.DType)
		if !ok {
			return nil, fmt.Errorf("input %s: unsupported dtype %q", in.Name, in.DType)
		}
		slot, err := addSlot(in.Name)
		if err != nil {
			return nil, err
		}
		m.inputNames = append(m.inputNames, in.Name)
		planned = append(planned, value{
			slot:     slot,
			shape:    tensor.Shape(in.Shape).Clone(),
			dtype:    dt,
			exponent: in.Exponent,
		})
	}

	// Constant tensors.
	for _, meta := range h.Tensors {
		t, err := loadWeight(desc, meta.Name, opts.CopyWeights)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to load tensor %s: %w", meta.Name, err)
		}
		slot, err := addSlot(meta.Name)
		if err != nil {
			t.Release()
			m.Close()
			return nil, err
		}
		m.tensors[slot] = t
	}

	// Operators, in dependency order.
	sorted, err := topologicalSort(h.Nodes)
	if err != nil {
		m.Close()
		return nil, err
	}
	for _, node := range sorted {
		mod, outs, err := m.buildNode(registry, desc, node, planned, addSlot)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		m.modules = append(m.modules, mod)
		planned = append(planned, outs...)
	}

	for _, name := range m.outputNames {
		if _, ok := m.slots[name]; !ok {
			m.Close()
			return nil, fmt.Errorf("missing output: %s", name)
		}
	}

	if err := m.allocate(planned); err != nil {
		m.Close()
		return nil, err
	}

	klog.V(1).InfoS("Model loaded", "modules", len(m.modules), "inputs", len(m.inputNames),
		"outputs", len(m.outputNames), "weights", len(h.Tensors), "arenaBytes", len(m.arena))
	return m, nil
}

// buildNode deserializes a node, binds it to slots and infers its outputs.
func (m *Model) buildNode(registry *module.Registry, desc *descriptor.Model, node *descriptor.Node,
	planned []value, addSlot func(string) (int, error)) (module.Module, []value, error) {
	mod := registry.Deserialize(node.OpType, node.Name, node)
	if mod == nil {
		return nil, nil, module.ErrUnsupportedOperator
	}
	dt, ok := mod.QuantType().DataType()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", module.ErrUnsupportedQuantType, mod.QuantType())
	}

	inSlots := make([]int, len(node.Inputs))
	inShapes := make([]tensor.Shape, len(node.Inputs))
	inExps := make([]int, len(node.Inputs))
	for i, name := range node.Inputs {
		slot, ok := m.slots[name]
		if !ok {
			return nil, nil, fmt.Errorf("missing input %s", name)
		}
		inSlots[i] = slot
		var inType tensor.DataType
		if t := m.tensors[slot]; t != nil {
			inShapes[i], inExps[i], inType = t.Shape(), t.Exponent(), t.DType()
		} else {
			v := findValue(planned, slot)
			inShapes[i], inExps[i], inType = v.shape, v.exponent, v.dtype
		}
		if inType != dt {
			return nil, nil, fmt.Errorf("%w: input %s is %s, %s expects %s",
				module.ErrShape, name, inType, mod.QuantType(), dt)
		}
	}

	shapes, err := mod.OutputShapes(inShapes)
	if err != nil {
		return nil, nil, err
	}
	if len(shapes) != len(node.Outputs) {
		return nil, nil, fmt.Errorf("%w: %d outputs declared, operator produces %d",
			module.ErrShape, len(node.Outputs), len(shapes))
	}
	proposed := mod.OutputExponents(inExps, dt)

	outSlots := make([]int, len(node.Outputs))
	outs := make([]value, len(node.Outputs))
	for i, name := range node.Outputs {
		exp, ok := desc.Exponent(name)
		if !ok {
			if i >= len(proposed) {
				return nil, nil, fmt.Errorf("no exponent recorded for %s", name)
			}
			exp = proposed[i]
		}
		slot, err := addSlot(name)
		if err != nil {
			return nil, nil, err
		}
		outSlots[i] = slot
		outs[i] = value{slot: outSlots[i], shape: shapes[i], dtype: dt, exponent: exp}
	}

	mod.Bind(inSlots, outSlots)
	klog.V(2).InfoS("Module bound", "module", mod.String())
	return mod, outs, nil
}

// allocate places every planned value in one arena and creates borrowed
// tensors over it.
func (m *Model) allocate(planned []value) error {
	offsets := make([]int, len(planned))
	size := 0
	for i, v := range planned {
		offsets[i] = size
		size += alignArena(v.shape.NumElements() * v.dtype.Size())
	}
	m.arena = make([]byte, size)

	for i, v := range planned {
		n := v.shape.NumElements() * v.dtype.Size()
		t, err := tensor.FromBytes(v.shape, v.dtype, v.exponent, m.arena[offsets[i]:offsets[i]+n])
		if err != nil {
			return fmt.Errorf("failed to place value in arena: %w", err)
		}
		m.tensors[v.slot] = t
	}
	return nil
}

// loadWeight creates a constant tensor. Borrowed weights fall back to a copy
// when the descriptor buffer is not aligned for the tensor's dtype.
func loadWeight(desc *descriptor.Model, name string, copyWeights bool) (*tensor.Tensor, error) {
	if !copyWeights {
		t, err := desc.LoadTensor(name)
		if !errors.Is(err, tensor.ErrMisaligned) {
			return t, err
		}
		klog.V(1).InfoS("Copying misaligned weight", "tensor", name)
	}

	meta, _ := desc.TensorInfo(name)
	dt, ok := tensor.ParseDataType(meta.DType)
	if !ok {
		return nil, fmt.Errorf("unsupported dtype %q", meta.DType)
	}
	data, err := desc.TensorData(name)
	if err != nil {
		return nil, err
	}
	t, err := tensor.New(meta.Shape, dt, meta.Exponent)
	if err != nil {
		return nil, err
	}
	if len(data) != t.ByteSize() {
		return nil, fmt.Errorf("%w: %d bytes stored, %d expected", tensor.ErrSizeMismatch, len(data), t.ByteSize())
	}
	copy(t.Data(), data)
	return t, nil
}

func findValue(planned []value, slot int) value {
	for _, v := range planned {
		if v.slot == slot {
			return v
		}
	}
	return value{}
}

func alignArena(n int) int {
	return (n + ArenaAlignment - 1) / ArenaAlignment * ArenaAlignment
}

// topologicalSort orders nodes so that every node runs after the nodes
// producing its inputs. Ties keep descriptor order.
func topologicalSort(nodes []descriptor.Node) ([]*descriptor.Node, error) {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(nodes))
	result := make([]*descriptor.Node, 0, len(nodes))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: at node %s", ErrCycle, nodes[i].Name)
		}
		state[i] = visiting

		for _, input := range nodes[i].Inputs {
			if dep, ok := outputToNode[input]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		state[i] = done
		result = append(result, &nodes[i])
		return nil
	}

	for i := range nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return result, nil
}
