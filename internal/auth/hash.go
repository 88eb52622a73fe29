package auth

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var keyPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// PeekLength is the number of trailing key characters stored in plaintext.
const PeekLength = 4

// GenerateToken returns 32 lowercase hex characters, used for both keys and secrets.
func GenerateToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidKeyFormat reports whether s looks like a token issued by GenerateToken.
func ValidKeyFormat(s string) bool {
	return keyPattern.MatchString(s)
}

// Peek returns the lookup suffix of a key.
func Peek(key string) string {
	if len(key) <= PeekLength {
		return key
	}
	return key[len(key)-PeekLength:]
}

// HashSecret hashes a key or secret with bcrypt.
func HashSecret(plaintext string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CompareSecret reports whether plaintext matches a bcrypt hash.
// Malformed hashes are treated as a mismatch.
func CompareSecret(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
