// Package sha256 fingerprints archived evidence pages.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements enrichment.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data prefixed with the algorithm name, as
// stored in EnrichedEvent.ContentHash.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
