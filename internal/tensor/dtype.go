// Package tensor provides the quantized tensor type shared by every operator.
package tensor

// Integer is a constraint for the raw storage types of quantized tensors.
type Integer interface {
	int8 | int16 | int32
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors.
//
// Float32 and Float16 only appear on the caller side of the quantization
// boundary; operators run on the integer types.
const (
	Int8 DataType = iota
	Int16
	Int32
	Float32
	Float16
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Int8:
		return 1
	case Int16, Float16:
		return 2
	case Int32, Float32:
		return 4
	default:
		panic("unknown data type")
	}
}

// Bits returns the width of the data type in bits.
func (dt DataType) Bits() int {
	return dt.Size() * 8
}

// IsFloat reports whether values of this type are stored as real numbers
// rather than quantized integers.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float16
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	default:
		return "unknown"
	}
}

// ParseDataType converts the string form produced by String back to a DataType.
func ParseDataType(s string) (DataType, bool) {
	switch s {
	case "int8":
		return Int8, true
	case "int16":
		return Int16, true
	case "int32":
		return Int32, true
	case "float32":
		return Float32, true
	case "float16":
		return Float16, true
	default:
		return 0, false
	}
}

// DataTypeOf returns the DataType that stores values of T.
func DataTypeOf[T Integer]() DataType {
	var dummy T
	switch any(dummy).(type) {
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	default:
		panic("unsupported type")
	}
}
