package descriptor

import (
	"errors"
	"fmt"
)

var (
	ErrChecksumMismatch   = errors.New("weight data does not match header checksum")
	ErrInvalidMagic       = errors.New("not an EDLM descriptor")
	ErrUnsupportedVersion = errors.New("unsupported descriptor version")
	ErrHeaderTooLarge     = errors.New("JSON header too large")
	ErrTruncated          = errors.New("descriptor is truncated")
	ErrTensorNotFound     = errors.New("no such constant tensor")
)

// ValidationError reports a header entry that cannot be loaded. Type is a
// short code such as "offset_overlap" or "unknown_value"; Name is the tensor,
// value or node at fault and Other the second party of a conflict.
type ValidationError struct {
	Type    string
	Name    string
	Other   string
	Details string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Other != "":
		return fmt.Sprintf("%s: %q and %q: %s", e.Type, e.Name, e.Other, e.Details)
	case e.Name != "":
		return fmt.Sprintf("%s: %q: %s", e.Type, e.Name, e.Details)
	default:
		return fmt.Sprintf("%s: %s", e.Type, e.Details)
	}
}
