package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives a non-reversible lookup key from a raw token. The
// session ledger stores fingerprints only, so a leak of its storage never
// exposes usable bearer values.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
