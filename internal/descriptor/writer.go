package descriptor

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/born-ml/edgedl/internal/tensor"
)

// Writer assembles a descriptor in memory.
type Writer struct {
	header Header
	data   []byte
}

// NewWriter creates an empty descriptor produced by producer.
func NewWriter(producer string) *Writer {
	return &Writer{
		header: Header{
			FormatVersion: FormatVersion,
			Producer:      producer,
			CreatedAt:     time.Now().UTC(),
		},
	}
}

// AddInput declares a graph input.
func (w *Writer) AddInput(name string, dt tensor.DataType, shape tensor.Shape, exponent int) {
	w.header.Inputs = append(w.header.Inputs, ValueInfo{
		Name:     name,
		DType:    dt.String(),
		Shape:    shape.Clone(),
		Exponent: exponent,
	})
}

// AddOutput declares graph outputs.
func (w *Writer) AddOutput(names ...string) {
	w.header.Outputs = append(w.header.Outputs, names...)
}

// AddTensor stores a copy of t's payload as a constant.
func (w *Writer) AddTensor(name string, t *tensor.Tensor) error {
	if t.Released() {
		return fmt.Errorf("tensor %s: %w", name, tensor.ErrReleased)
	}
	offset := alignUp(int64(len(w.data)))
	if pad := offset - int64(len(w.data)); pad > 0 {
		w.data = append(w.data, make([]byte, pad)...)
	}
	w.data = append(w.data, t.Data()...)

	w.header.Tensors = append(w.header.Tensors, TensorMeta{
		Name:     name,
		DType:    t.DType().String(),
		Shape:    t.Shape().Clone(),
		Exponent: t.Exponent(),
		Offset:   offset,
		Size:     int64(t.ByteSize()),
	})
	return nil
}

// AddNode appends an operator. Nodes may be added in any order.
func (w *Writer) AddNode(n Node) {
	w.header.Nodes = append(w.header.Nodes, n)
}

// SetExponent records the exponent of an activation value.
func (w *Writer) SetExponent(value string, exponent int) {
	if w.header.Exponents == nil {
		w.header.Exponents = make(map[string]int)
	}
	w.header.Exponents[value] = exponent
}

// SetMetadata records a free-form key/value pair.
func (w *Writer) SetMetadata(key, value string) {
	if w.header.Metadata == nil {
		w.header.Metadata = make(map[string]string)
	}
	w.header.Metadata[key] = value
}

// Bytes encodes the descriptor.
func (w *Writer) Bytes() ([]byte, error) {
	return encode(&w.header, w.data)
}

// WriteTo writes the encoded descriptor to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	buf, err := w.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := out.Write(buf)
	return int64(n), err
}

// WriteFile writes the encoded descriptor to path.
func (w *Writer) WriteFile(path string) error {
	buf, err := w.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}
	return nil
}

// Encode re-encodes a parsed model.
func (m *Model) Encode() ([]byte, error) {
	return encode(&m.Header, m.data)
}

func encode(h *Header, data []byte) ([]byte, error) {
	headerJSON, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}

	var flags uint32
	if len(h.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if len(h.Exponents) > 0 {
		flags |= FlagHasExponents
	}

	dataOffset := alignUp(int64(FixedHeaderSize + len(headerJSON)))
	buf := make([]byte, dataOffset+int64(len(data)))

	copy(buf[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], flags)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(len(data)))
	sum := dataChecksum(data)
	copy(buf[ChecksumOffset:ChecksumOffset+ChecksumSize], sum[:])

	copy(buf[FixedHeaderSize:], headerJSON)
	copy(buf[dataOffset:], data)
	return buf, nil
}
