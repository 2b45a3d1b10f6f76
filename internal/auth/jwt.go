// Package auth - jwt.go issues and verifies the service's own HS256 session tokens.
// The signing secret comes from configuration (FSA_AUTH_JWT_SECRET); in development
// mode a random secret is generated when none is configured.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuerName is the iss claim of tokens issued by this service.
const TokenIssuerName = "fieldsight-access"

// MinSecretLength is the recommended minimum secret length.
const MinSecretLength = 32

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT claims structure
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer validates secret and returns an issuer. An empty secret is
// an error unless devMode is set, in which case a random one is generated.
func NewTokenIssuer(secret string, ttl time.Duration, devMode bool) (*TokenIssuer, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if secret == "" {
		if !devMode {
			return nil, errors.New("auth.jwt_secret is required outside development mode; " +
				"generate one with: openssl rand -hex 32")
		}
		generated, err := randomSecret()
		if err != nil {
			return nil, err
		}
		slog.Warn("auth.jwt_secret not set, using a generated secret; tokens will not survive restarts")
		secret = generated
	}
	if len(secret) < MinSecretLength {
		slog.Warn("auth.jwt_secret is shorter than recommended", "min_length", MinSecretLength)
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issue creates a signed token for userID.
func (i *TokenIssuer) Issue(userID, email string) (string, error) {
	return i.IssueWithTTL(userID, email, i.ttl)
}

// IssueWithTTL creates a signed token with an explicit lifetime.
func (i *TokenIssuer) IssueWithTTL(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    TokenIssuerName,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses and validates a token issued by this service.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithIssuer(TokenIssuerName), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
