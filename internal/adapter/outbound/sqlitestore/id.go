package sqlitestore

import (
	"crypto/rand"
	"encoding/hex"
)

// newShortID returns an 8-hex-char opaque id, per spec's run/call id
// convention. Collisions are handled by the caller retrying generation
// against a uniqueness check.
func newShortID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
