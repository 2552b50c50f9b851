package user

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashPassword hashes a password with a random 16-byte salt using
// SHA-256. The stored format is "salt$hash", both hex-encoded.
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)

	digest := sha256.Sum256([]byte(saltHex + password))
	return saltHex + "$" + hex.EncodeToString(digest[:]), nil
}

// VerifyPassword checks a plaintext password against a stored
// "salt$hash" value using a constant-time comparison.
func VerifyPassword(password, stored string) bool {
	salt, digest, ok := strings.Cut(stored, "$")
	if !ok {
		// Malformed stored hash fails immediately.
		return false
	}

	check := sha256.Sum256([]byte(salt + password))
	return hmac.Equal([]byte(hex.EncodeToString(check[:])), []byte(digest))
}
