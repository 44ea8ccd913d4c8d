package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

const hashBlockSize = 64 * 1024

// HashFile streams r through SHA-256 in fixed-size blocks and returns the hex digest.
func HashFile(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashBlockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashChunk returns the hex SHA-256 digest of data.
func HashChunk(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
