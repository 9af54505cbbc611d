// Package sha256 provides the SHA-256 Hasher used for item fingerprints.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256. A salted hasher mixes its
// salt in front of every input, so two crawls that share items but not salts
// produce disjoint fingerprints.
type Hasher struct {
	salt []byte
}

// New returns an unsalted SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// NewSalted returns a hasher that prefixes salt to every input.
func NewSalted(salt string) *Hasher {
	return &Hasher{salt: []byte(salt)}
}

// Hash returns the hex digest of the salt followed by data.
func (h *Hasher) Hash(data []byte) (string, error) {
	d := sha256.New()
	d.Write(h.salt)
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil)), nil
}
