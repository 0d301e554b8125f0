package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns a short stable hash of the given parts. Parts are
// separated by a NUL byte so ("ab", "c") and ("a", "bc") differ.
func Fingerprint(parts ...string) string {
	hasher := sha256.New()
	for i, p := range parts {
		if i > 0 {
			hasher.Write([]byte{0})
		}
		hasher.Write([]byte(p))
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16] // Use first 16 chars of the hash
}
