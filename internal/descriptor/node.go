package descriptor

// Node is one operator of the serialized graph. Inputs and outputs name
// graph inputs, constant tensors or values produced by other nodes.
type Node struct {
	Name       string               `json:"name"`
	OpType     string               `json:"op_type"`
	Inputs     []string             `json:"inputs"`
	Outputs    []string             `json:"outputs"`
	Attributes map[string]Attribute `json:"attributes,omitempty"`
}

// Attribute holds exactly one typed value.
type Attribute struct {
	I    *int64   `json:"i,omitempty"`
	F    *float32 `json:"f,omitempty"`
	S    *string  `json:"s,omitempty"`
	Ints []int64  `json:"ints,omitempty"`
}

// IntAttr returns an integer attribute.
func IntAttr(v int64) Attribute {
	return Attribute{I: &v}
}

// FloatAttr returns a float attribute.
func FloatAttr(v float32) Attribute {
	return Attribute{F: &v}
}

// StringAttr returns a string attribute.
func StringAttr(v string) Attribute {
	return Attribute{S: &v}
}

// IntsAttr returns an integer list attribute.
func IntsAttr(v ...int64) Attribute {
	return Attribute{Ints: v}
}

// Int returns an integer attribute by key.
func (n *Node) Int(key string) (int64, bool) {
	if a, ok := n.Attributes[key]; ok && a.I != nil {
		return *a.I, true
	}
	return 0, false
}

// Ints returns an integer list attribute by key.
func (n *Node) Ints(key string) ([]int64, bool) {
	if a, ok := n.Attributes[key]; ok && a.Ints != nil {
		return a.Ints, true
	}
	return nil, false
}

// Float returns a float attribute by key.
func (n *Node) Float(key string) (float32, bool) {
	if a, ok := n.Attributes[key]; ok && a.F != nil {
		return *a.F, true
	}
	return 0, false
}

// String returns a string attribute by key.
func (n *Node) String(key string) (string, bool) {
	if a, ok := n.Attributes[key]; ok && a.S != nil {
		return *a.S, true
	}
	return "", false
}
