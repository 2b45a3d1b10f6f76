// Package auth provides the authentication primitives of the access service: session JWTs,
// API keys for machine clients (sync workers, the FieldSight web tier) and verification of
// identity-provider ID tokens. Request-time wiring lives in internal/middleware/auth.go.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix starts every key so the middleware can tell keys from JWTs.
	APIKeyPrefix = "fsa"

	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of characters stored for lookup and display
	DisplayPrefixLength = 10

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// GeneratedKey is a freshly minted API key. Key is shown to the user once;
// only Hash and DisplayPrefix are stored.
type GeneratedKey struct {
	Key           string
	Hash          string
	DisplayPrefix string
}

// GenerateAPIKey creates a new random API key.
func GenerateAPIKey() (*GeneratedKey, error) {
	return generateAPIKey(BcryptCost)
}

func generateAPIKey(cost int) (*GeneratedKey, error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := APIKeyPrefix + "_" + base64.RawURLEncoding.EncodeToString(randomBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(fullKey), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash API key: %w", err)
	}

	return &GeneratedKey{
		Key:           fullKey,
		Hash:          string(hash),
		DisplayPrefix: DisplayPrefix(fullKey),
	}, nil
}

// DisplayPrefix returns the lookup prefix of a key.
func DisplayPrefix(key string) string {
	if len(key) > DisplayPrefixLength {
		return key[:DisplayPrefixLength]
	}
	return key
}

// IsAPIKey reports whether a bearer token has the API key shape.
func IsAPIKey(token string) bool {
	return strings.HasPrefix(token, APIKeyPrefix+"_")
}

// ValidateAPIKey checks if a provided key matches the stored hash
func ValidateAPIKey(providedKey, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey)) == nil
}

// BearerToken extracts the token from an Authorization header.
// Expected format: "Bearer <token>"
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	const scheme = "Bearer "
	if len(header) < len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	token := strings.TrimSpace(header[len(scheme):])
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}
	return token, nil
}
