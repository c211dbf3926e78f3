package tokens

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Fingerprint is the lookup key stored instead of a raw token.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func NewJTI() string {
	return uuid.NewString()
}
