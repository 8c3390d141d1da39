package tensor

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/x448/float16"
)

// Ownership records who is responsible for a tensor's buffer.
type Ownership int

const (
	// Owned tensors allocated their buffer and drop it on Release.
	Owned Ownership = iota
	// Borrowed tensors view memory owned by someone else (the model arena,
	// a descriptor image, a caller slice). Release only forgets the view.
	Borrowed
)

// String returns a human-readable ownership name.
func (o Ownership) String() string {
	switch o {
	case Owned:
		return "owned"
	case Borrowed:
		return "borrowed"
	default:
		return "unknown"
	}
}

// Errors returned by tensor constructors.
var (
	ErrSizeMismatch = errors.New("buffer size does not match shape and dtype")
	ErrMisaligned   = errors.New("buffer is not aligned for dtype")
	ErrReleased     = errors.New("tensor has been released")
)

// Tensor is a contiguous row-major buffer of quantized (or, at the API
// boundary, floating-point) values.
//
// Real values are recovered as raw * 2^exponent. The exponent is fixed when
// the tensor is created.
type Tensor struct {
	data      []byte
	shape     Shape
	dtype     DataType
	exponent  int
	ownership Ownership
	released  bool
}

// New creates an owned, zero-filled tensor.
func New(shape Shape, dtype DataType, exponent int) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &Tensor{
		data:      make([]byte, shape.NumElements()*dtype.Size()),
		shape:     shape.Clone(),
		dtype:     dtype,
		exponent:  exponent,
		ownership: Owned,
	}, nil
}

// FromBytes creates a borrowed tensor over buf without copying it.
// buf must be exactly shape.NumElements()*dtype.Size() bytes and aligned for dtype.
func FromBytes(shape Shape, dtype DataType, exponent int, buf []byte) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	want := shape.NumElements() * dtype.Size()
	if len(buf) != want {
		return nil, fmt.Errorf("%w: shape %v %s needs %d bytes, got %d", ErrSizeMismatch, shape, dtype, want, len(buf))
	}
	if len(buf) > 0 && uintptr(unsafe.Pointer(&buf[0]))%uintptr(dtype.Size()) != 0 {
		return nil, fmt.Errorf("%w: %s", ErrMisaligned, dtype)
	}

	return &Tensor{
		data:      buf[:want:want],
		shape:     shape.Clone(),
		dtype:     dtype,
		exponent:  exponent,
		ownership: Borrowed,
	}, nil
}

// FromSlice creates an owned tensor holding a copy of values.
func FromSlice[T Integer](shape Shape, exponent int, values []T) (*Tensor, error) {
	if shape.NumElements() != len(values) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(values))
	}
	t, err := New(shape, DataTypeOf[T](), exponent)
	if err != nil {
		return nil, err
	}
	copy(View[T](t), values)
	return t, nil
}

// FromFloat32 creates an owned Float32 tensor holding a copy of values.
func FromFloat32(shape Shape, values []float32) (*Tensor, error) {
	if shape.NumElements() != len(values) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(values))
	}
	t, err := New(shape, Float32, 0)
	if err != nil {
		return nil, err
	}
	copy(t.AsFloat32(), values)
	return t, nil
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// Exponent returns the power-of-two scale of the raw values.
func (t *Tensor) Exponent() int {
	return t.exponent
}

// Ownership reports whether the tensor owns its buffer.
func (t *Tensor) Ownership() Ownership {
	return t.ownership
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return t.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (t *Tensor) ByteSize() int {
	return t.NumElements() * t.dtype.Size()
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (t *Tensor) Data() []byte {
	return t.data
}

// Released reports whether Release has been called.
func (t *Tensor) Released() bool {
	return t.released
}

// Release drops the tensor's buffer. Owned memory becomes garbage; borrowed
// memory is left untouched for its owner. Calling Release twice is a no-op.
func (t *Tensor) Release() {
	if t.released {
		return
	}
	t.released = true
	t.data = nil
}

// View interprets the tensor's buffer as []T without copying.
// Panics if T does not match the tensor's dtype.
func View[T Integer](t *Tensor) []T {
	if dt := DataTypeOf[T](); t.dtype != dt {
		panic(fmt.Sprintf("tensor dtype is %s, not %s", t.dtype, dt))
	}
	if len(t.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*T)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// AsInt8 interprets the data as []int8.
// Panics if the tensor's dtype is not Int8.
func (t *Tensor) AsInt8() []int8 {
	return View[int8](t)
}

// AsInt16 interprets the data as []int16.
// Panics if the tensor's dtype is not Int16.
func (t *Tensor) AsInt16() []int16 {
	return View[int16](t)
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (t *Tensor) AsInt32() []int32 {
	return View[int32](t)
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (t *Tensor) AsFloat32() []float32 {
	if t.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// AsFloat16 interprets the data as []float16.Float16.
// Panics if the tensor's dtype is not Float16.
func (t *Tensor) AsFloat16() []float16.Float16 {
	if t.dtype != Float16 {
		panic(fmt.Sprintf("tensor dtype is %s, not float16", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float16.Float16)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// String summarizes the tensor without its contents.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, exponent=%d, %s)", t.shape, t.dtype, t.exponent, t.ownership)
}
