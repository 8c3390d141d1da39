package module

import (
	"fmt"
	"sort"

	"k8s.io/klog/v2"
)

// AttributeReader gives typed access to a serialized node's attributes.
type AttributeReader interface {
	Int(key string) (int64, bool)
	Ints(key string) ([]int64, bool)
	Float(key string) (float32, bool)
	String(key string) (string, bool)
}

// Deserializer rebuilds a module from a graph node. It returns nil when the
// node's configuration is not supported.
type Deserializer func(name string, attrs AttributeReader) Module

// Registry maps operator type tags to deserializers.
type Registry struct {
	deserializers map[string]Deserializer
}

// NewRegistry creates a registry holding every built-in operator.
func NewRegistry() *Registry {
	r := &Registry{
		deserializers: make(map[string]Deserializer),
	}

	r.register("Mul", DeserializeMul)
	r.register("Add", DeserializeAdd)
	r.register("Sub", DeserializeSub)

	return r
}

func (r *Registry) register(opType string, d Deserializer) {
	if _, exists := r.deserializers[opType]; exists {
		panic(fmt.Sprintf("operator %q already registered", opType))
	}
	r.deserializers[opType] = d
}

// Get returns the deserializer for opType.
func (r *Registry) Get(opType string) (Deserializer, bool) {
	d, ok := r.deserializers[opType]
	return d, ok
}

// Deserialize builds a module for a node. It returns nil when the operator
// type is unknown or its attributes select an unsupported configuration.
func (r *Registry) Deserialize(opType, name string, attrs AttributeReader) Module {
	d, ok := r.deserializers[opType]
	if !ok {
		klog.V(1).InfoS("Unknown operator", "op", opType, "name", name)
		return nil
	}
	return d(name, attrs)
}

// SupportedOps returns the registered type tags in sorted order.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.deserializers))
	for op := range r.deserializers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// DeserializeMul builds a Mul from a node's quant_type attribute.
func DeserializeMul(name string, attrs AttributeReader) Module {
	qt, ok := supportedQuantType("Mul", name, attrs)
	if !ok {
		return nil
	}
	return NewMul(name, NonInplace, qt)
}

// DeserializeAdd builds an Add from a node's quant_type attribute.
func DeserializeAdd(name string, attrs AttributeReader) Module {
	qt, ok := supportedQuantType("Add", name, attrs)
	if !ok {
		return nil
	}
	return NewAdd(name, NonInplace, qt)
}

// DeserializeSub builds a Sub from a node's quant_type attribute.
func DeserializeSub(name string, attrs AttributeReader) Module {
	qt, ok := supportedQuantType("Sub", name, attrs)
	if !ok {
		return nil
	}
	return NewSub(name, NonInplace, qt)
}

// supportedQuantType reads quant_type as an integer code or a name and
// accepts only the 8 and 16 bit symmetric types.
func supportedQuantType(opType, name string, attrs AttributeReader) (QuantType, bool) {
	qt := QuantNone
	if v, ok := attrs.Int("quant_type"); ok {
		qt = QuantType(v)
	} else if s, ok := attrs.String("quant_type"); ok {
		parsed, known := ParseQuantType(s)
		if !known {
			klog.V(1).InfoS("Unknown quant_type", "op", opType, "name", name, "value", s)
			return 0, false
		}
		qt = parsed
	}

	switch qt {
	case QuantSymm8Bit, QuantSymm16Bit:
		return qt, true
	default:
		klog.V(1).InfoS("Unsupported quant_type", "op", opType, "name", name, "quant_type", qt)
		return 0, false
	}
}

// Attributes is an in-memory AttributeReader.
type Attributes map[string]any

// Int returns an integer attribute.
func (a Attributes) Int(key string) (int64, bool) {
	switch v := a[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case QuantType:
		return int64(v), true
	default:
		return 0, false
	}
}

// Ints returns an integer list attribute.
func (a Attributes) Ints(key string) ([]int64, bool) {
	v, ok := a[key].([]int64)
	return v, ok
}

// Float returns a float attribute.
func (a Attributes) Float(key string) (float32, bool) {
	v, ok := a[key].(float32)
	return v, ok
}

// String returns a string attribute.
func (a Attributes) String(key string) (string, bool) {
	v, ok := a[key].(string)
	return v, ok
}
