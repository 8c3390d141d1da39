// Package descriptor reads and writes serialized model descriptors.
//
// A descriptor is a single binary blob laid out as:
//
//	0x00  magic "EDLM"
//	0x04  format version (uint32, little endian)
//	0x08  flags (uint32)
//	0x0C  reserved (uint32)
//	0x10  JSON header size (uint64)
//	0x18  data section size (uint64)
//	0x20  SHA-256 of the data section (32 bytes)
//	0x40  JSON header, zero padded to a 64-byte boundary
//	....  data section
//
// Every tensor in the data section starts on a 64-byte boundary, so a
// descriptor that is itself loaded at an aligned address can back weight
// tensors directly without copying.
package descriptor

import (
	"time"
)

// Format constants.
const (
	MagicBytes      = "EDLM"
	FormatVersion   = 1
	HeaderAlignment = 64   // Alignment of the data section and every tensor in it.
	FixedHeaderSize = 64   // 0x40 bytes
	ChecksumSize    = 32   // SHA-256
	ChecksumOffset  = 0x20 // Checksum offset in the fixed header.
)

// Flags stored in the fixed header.
const (
	FlagHasMetadata  uint32 = 1 << 0 // Header carries producer metadata.
	FlagHasExponents uint32 = 1 << 1 // Header records activation exponents.
)

// Header is the JSON header of a descriptor.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Producer      string            `json:"producer"`
	CreatedAt     time.Time         `json:"created_at"`
	Inputs        []ValueInfo       `json:"inputs"`
	Outputs       []string          `json:"outputs"`
	Tensors       []TensorMeta      `json:"tensors"`
	Nodes         []Node            `json:"nodes"`
	Exponents     map[string]int    `json:"exponents,omitempty"` // Activation exponents by value name.
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ValueInfo describes a graph input.
type ValueInfo struct {
	Name     string `json:"name"`
	DType    string `json:"dtype"`
	Shape    []int  `json:"shape"`
	Exponent int    `json:"exponent"`
}

// TensorMeta describes a constant tensor stored in the data section.
type TensorMeta struct {
	Name     string `json:"name"`
	DType    string `json:"dtype"`
	Shape    []int  `json:"shape"`
	Exponent int    `json:"exponent"`
	Offset   int64  `json:"offset"` // Bytes from the start of the data section.
	Size     int64  `json:"size"`
}

func alignUp(n int64) int64 {
	return (n + HeaderAlignment - 1) / HeaderAlignment * HeaderAlignment
}
