package descriptor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/edgedl/internal/tensor"
)

// Validation limits for resource protection.
const (
	MaxHeaderSize  = 16 * 1024 * 1024
	MaxTensorCount = 100_000
	MaxNodeCount   = 100_000
	MaxNameLen     = 4096
)

// ValidationLevel controls the strictness of validation.
type ValidationLevel int

const (
	// ValidationStrict performs all checks, including data section layout.
	ValidationStrict ValidationLevel = iota
	// ValidationNormal checks names, types and graph references only.
	ValidationNormal
	// ValidationNone skips validation. Use only with trusted descriptors.
	ValidationNone
)

// ValidateTensorOffsets checks that constant tensors are aligned, inside the
// data section and do not overlap.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	sorted := make([]TensorMeta, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, t := range sorted {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Name:    t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size),
			}
		}
		if t.Offset%HeaderAlignment != 0 {
			return &ValidationError{
				Type:    "misaligned",
				Name:    t.Name,
				Details: fmt.Sprintf("offset %d is not a multiple of %d", t.Offset, HeaderAlignment),
			}
		}
		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Name:    t.Name,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", t.Offset, t.Size, dataSize),
			}
		}
		if i < len(sorted)-1 {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Name:    t.Name,
					Other:   next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}

	return nil
}

// ValidateName checks a tensor, value or node name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &ValidationError{Type: "invalid_name", Details: "empty name"}
	case len(name) > MaxNameLen:
		return &ValidationError{
			Type:    "name_too_long",
			Name:    name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxNameLen),
		}
	case strings.Contains(name, "\x00"):
		return &ValidationError{Type: "invalid_name", Name: name, Details: "contains null byte"}
	}
	return nil
}

// validateTensorType checks a declared dtype and, when size >= 0, that size
// matches the shape.
func validateTensorType(name, dtype string, shape []int, size int64) error {
	dt, ok := tensor.ParseDataType(dtype)
	if !ok {
		return &ValidationError{Type: "unknown_dtype", Name: name, Details: dtype}
	}
	s := tensor.Shape(shape)
	if err := s.Validate(); err != nil {
		return &ValidationError{Type: "invalid_shape", Name: name, Details: err.Error()}
	}
	if size >= 0 && int64(s.NumElements()*dt.Size()) != size {
		return &ValidationError{
			Type:    "size_mismatch",
			Name:    name,
			Details: fmt.Sprintf("shape %v %s needs %d bytes, size is %d", s, dt, s.NumElements()*dt.Size(), size),
		}
	}
	return nil
}

// validateGraph checks that every value a node reads is defined exactly once
// and that every graph output is produced.
func validateGraph(h *Header) error {
	defined := make(map[string]string, len(h.Inputs)+len(h.Tensors))
	define := func(name, by string) error {
		if err := ValidateName(name); err != nil {
			return err
		}
		if prev, dup := defined[name]; dup {
			return &ValidationError{
				Type:    "duplicate_value",
				Name:    name,
				Details: fmt.Sprintf("defined by %s and %s", prev, by),
			}
		}
		defined[name] = by
		return nil
	}

	for _, in := range h.Inputs {
		if err := define(in.Name, "graph input"); err != nil {
			return err
		}
		if err := validateTensorType(in.Name, in.DType, in.Shape, -1); err != nil {
			return err
		}
	}
	for _, t := range h.Tensors {
		if err := define(t.Name, "constant"); err != nil {
			return err
		}
		if err := validateTensorType(t.Name, t.DType, t.Shape, t.Size); err != nil {
			return err
		}
	}
	nodeNames := make(map[string]bool, len(h.Nodes))
	for _, n := range h.Nodes {
		if err := ValidateName(n.Name); err != nil {
			return err
		}
		if nodeNames[n.Name] {
			return &ValidationError{Type: "duplicate_node", Name: n.Name, Details: "node name reused"}
		}
		nodeNames[n.Name] = true
		if n.OpType == "" {
			return &ValidationError{Type: "invalid_node", Name: n.Name, Details: "empty op_type"}
		}
		for _, out := range n.Outputs {
			if err := define(out, "node "+n.Name); err != nil {
				return err
			}
		}
	}

	for _, n := range h.Nodes {
		for _, in := range n.Inputs {
			if _, ok := defined[in]; !ok {
				return &ValidationError{
					Type:    "unknown_value",
					Name:    n.Name,
					Details: fmt.Sprintf("input %q is never defined", in),
				}
			}
		}
	}
	for _, out := range h.Outputs {
		if _, ok := defined[out]; !ok {
			return &ValidationError{
				Type:    "unknown_value",
				Name:    out,
				Details: "graph output is never defined",
			}
		}
	}
	return nil
}

// ValidateHeader performs header validation at the given level.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}

	if h.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: header declares %d", ErrUnsupportedVersion, h.FormatVersion)
	}
	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount),
		}
	}
	if len(h.Nodes) > MaxNodeCount {
		return &ValidationError{
			Type:    "too_many_nodes",
			Details: fmt.Sprintf("got %d, max %d", len(h.Nodes), MaxNodeCount),
		}
	}

	if err := validateGraph(h); err != nil {
		return err
	}

	// Layout checks sort every tensor; only strict mode pays for them.
	if level == ValidationStrict {
		if err := ValidateTensorOffsets(h.Tensors, dataSize); err != nil {
			return err
		}
	}

	return nil
}
