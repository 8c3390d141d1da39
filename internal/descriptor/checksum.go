package descriptor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// dataChecksum digests the data section, the bytes weights borrow from.
func dataChecksum(data []byte) [ChecksumSize]byte {
	return sha256.Sum256(data)
}

// VerifyChecksum recomputes the data section digest and compares it with the
// one stored in the fixed header.
func (m *Model) VerifyChecksum() error {
	if sum := dataChecksum(m.data); sum != m.Checksum {
		return fmt.Errorf("%w: stored %s, data hashes to %s", ErrChecksumMismatch,
			hex.EncodeToString(m.Checksum[:8]), hex.EncodeToString(sum[:8]))
	}
	return nil
}
