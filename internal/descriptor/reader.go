package descriptor

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/born-ml/edgedl/internal/tensor"
)

// Model is a parsed descriptor. Tensor payloads alias the buffer that was
// passed to Parse; the buffer must outlive the Model and anything built
// from it.
type Model struct {
	Header   Header
	Flags    uint32
	Checksum [32]byte

	data  []byte
	index map[string]int
}

// ReaderOptions configures Parse.
type ReaderOptions struct {
	SkipChecksumValidation bool
	ValidationLevel        ValidationLevel
}

// DefaultReaderOptions verifies the checksum and validates strictly.
func DefaultReaderOptions() ReaderOptions {
	return ReaderOptions{ValidationLevel: ValidationStrict}
}

// ReadFile reads and parses a descriptor file.
func ReadFile(path string, opts ReaderOptions) (*Model, error) {
	//nolint:gosec // G304: model path comes from the caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}
	return Parse(data, opts)
}

// Parse decodes a descriptor held in memory without copying tensor data.
func Parse(data []byte, opts ReaderOptions) (*Model, error) {
	if len(data) < FixedHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, fixed header needs %d", ErrTruncated, len(data), FixedHeaderSize)
	}
	if string(data[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}

	// 0x04-0x07: version
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, version, FormatVersion)
	}

	m := &Model{
		// 0x08-0x0B: flags; 0x0C-0x0F reserved
		Flags: binary.LittleEndian.Uint32(data[8:12]),
	}

	// 0x10-0x17: header size; 0x18-0x1F: data size
	headerSize := binary.LittleEndian.Uint64(data[16:24])
	dataSize := binary.LittleEndian.Uint64(data[24:32])
	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}

	// 0x20-0x3F: SHA-256 of the data section
	copy(m.Checksum[:], data[ChecksumOffset:ChecksumOffset+ChecksumSize])

	headerEnd := int64(FixedHeaderSize) + int64(headerSize)
	if headerEnd > int64(len(data)) {
		return nil, fmt.Errorf("%w: header ends at %d, descriptor has %d bytes", ErrTruncated, headerEnd, len(data))
	}
	if err := json.Unmarshal(data[FixedHeaderSize:headerEnd], &m.Header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	dataOffset := alignUp(headerEnd)
	if dataSize > uint64(len(data)) || dataOffset+int64(dataSize) > int64(len(data)) {
		return nil, fmt.Errorf("%w: data section [%d, +%d) exceeds %d bytes", ErrTruncated, dataOffset, dataSize, len(data))
	}
	m.data = data[dataOffset : dataOffset+int64(dataSize) : dataOffset+int64(dataSize)]

	if !opts.SkipChecksumValidation {
		if err := m.VerifyChecksum(); err != nil {
			return nil, err
		}
	}

	if err := ValidateHeader(&m.Header, int64(len(m.data)), opts.ValidationLevel); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	m.index = make(map[string]int, len(m.Header.Tensors))
	for i, t := range m.Header.Tensors {
		m.index[t.Name] = i
	}

	klog.V(1).InfoS("Parsed model descriptor", "producer", m.Header.Producer,
		"nodes", len(m.Header.Nodes), "tensors", len(m.Header.Tensors), "dataBytes", len(m.data))
	return m, nil
}

// TensorNames returns the names of all constant tensors in file order.
func (m *Model) TensorNames() []string {
	names := make([]string, len(m.Header.Tensors))
	for i, meta := range m.Header.Tensors {
		names[i] = meta.Name
	}
	return names
}

// TensorInfo returns the metadata of a constant tensor.
func (m *Model) TensorInfo(name string) (TensorMeta, bool) {
	i, ok := m.index[name]
	if !ok {
		return TensorMeta{}, false
	}
	return m.Header.Tensors[i], true
}

// TensorData returns the payload of a constant tensor. The slice aliases
// the descriptor buffer.
func (m *Model) TensorData(name string) ([]byte, error) {
	meta, ok := m.TensorInfo(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	if meta.Offset < 0 || meta.Size < 0 || meta.Offset+meta.Size > int64(len(m.data)) {
		return nil, &ValidationError{
			Type:    "out_of_bounds",
			Name:    name,
			Details: fmt.Sprintf("offset %d + size %d > data_size %d", meta.Offset, meta.Size, len(m.data)),
		}
	}
	end := meta.Offset + meta.Size
	return m.data[meta.Offset:end:end], nil
}

// LoadTensor creates a borrowed tensor over a constant's payload.
func (m *Model) LoadTensor(name string) (*tensor.Tensor, error) {
	meta, ok := m.TensorInfo(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	dt, ok := tensor.ParseDataType(meta.DType)
	if !ok {
		return nil, fmt.Errorf("unsupported dtype %q for tensor %s", meta.DType, name)
	}
	data, err := m.TensorData(name)
	if err != nil {
		return nil, err
	}
	t, err := tensor.FromBytes(meta.Shape, dt, meta.Exponent, data)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return t, nil
}

// DataSize returns the size of the data section in bytes.
func (m *Model) DataSize() int {
	return len(m.data)
}

// Exponent returns the recorded exponent of an activation value.
func (m *Model) Exponent(name string) (int, bool) {
	e, ok := m.Header.Exponents[name]
	return e, ok
}
