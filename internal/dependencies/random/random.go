package random

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// Random issues identifiers and secrets that can be mocked for testing
type Random interface {
	// ID returns a new unique identifier
	ID() string

	// Token returns a hex-encoded secret built from n random bytes
	Token(n int) string
}

// CryptoRandom implements Random using uuid v4 and crypto/rand
type CryptoRandom struct{}

// New creates a new CryptoRandom
func New() *CryptoRandom {
	return &CryptoRandom{}
}

// ID returns a random UUID
func (r *CryptoRandom) ID() string {
	return uuid.NewString()
}

// Token returns n cryptographically random bytes as hex
func (r *CryptoRandom) Token(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read does not fail on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b)
}
