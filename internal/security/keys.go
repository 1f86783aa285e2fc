package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefix marks live gateway keys so they are recognizable in logs and leaks.
const APIKeyPrefix = "pl_live_"

// GenerateAPIKey creates a new key and its hash.
// Only the hash is stored; the key is shown to the owner once.
func GenerateAPIKey() (key string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	key = APIKeyPrefix + hex.EncodeToString(buf)
	return key, HashSecret(key), nil
}

// HashSecret returns the hex sha256 of s. Used for API keys.
func HashSecret(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SecretMatches compares s against a stored HashSecret value in constant time.
func SecretMatches(s, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashSecret(s)), []byte(storedHash)) == 1
}

// GenerateToken returns a 256-bit URL-safe random token for payment requests.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashPassword bcrypt-hashes a password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// PasswordMatches reports whether password matches the bcrypt hash.
func PasswordMatches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
