// Package auth - oidc.go verifies ID tokens issued by the organisation's identity provider.
// The FieldSight web tier performs the login flow and forwards the ID token; this service
// only checks signature, issuer, audience and expiry, then maps the claims to an Identity.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Identity is the subset of ID token claims the service uses.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// OIDCVerifier verifies ID tokens for one issuer and client.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer's keys and returns a verifier.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	if issuerURL == "" {
		return nil, errors.New("OIDC issuer URL is required")
	}
	if clientID == "" {
		return nil, errors.New("OIDC client ID is required")
	}
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewOIDCVerifierWithKeySet builds a verifier without discovery.
func NewOIDCVerifierWithKeySet(issuerURL, clientID string, keys oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{verifier: oidc.NewVerifier(issuerURL, keys, &oidc.Config{ClientID: clientID})}
}

// Verify checks rawIDToken and extracts the caller's identity.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: ID token missing 'email' claim", ErrInvalidToken)
	}
	if claims.Name == "" {
		claims.Name = claims.Email
	}
	return &Identity{Subject: idToken.Subject, Email: claims.Email, Name: claims.Name}, nil
}
