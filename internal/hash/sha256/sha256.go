// Package sha256 content-addresses artifacts.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Algorithm prefixes digests in artifact references.
const Algorithm = "sha256"

// Hasher implements crawler.Hasher.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Labeled prefixes a hex digest with the algorithm name, e.g. "sha256:ab12...".
func Labeled(digest string) string {
	return Algorithm + ":" + digest
}
