// Package middleware provides Gin HTTP middleware for authentication, access
// evaluation, rate limiting, security headers and audit logging.
//
// Middleware ordering is enforced in api/router.go:
//
//	Security → RateLimit → Auth → RequireCapability → Audit → Handler
//
// Auth resolves the caller to an access.Principal carrying the caller's active
// roles; RequireCapability evaluates that principal against the hierarchy node
// named in the route. Audit runs last so it sees the final status and decision.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/auth"
	"github.com/fieldsight/fieldsight-access/internal/db/models"
	"github.com/fieldsight/fieldsight-access/internal/safego"
)

// gin.Context keys populated by the auth middleware.
const (
	ContextUserID     = "user_id"
	ContextUser       = "user"
	ContextAuthMethod = "auth_method"
	ContextAPIKeyID   = "api_key_id"
	ContextPrincipal  = "principal"
)

// Authentication methods recorded under ContextAuthMethod.
const (
	AuthMethodAPIKey = "api_key"
	AuthMethodJWT    = "jwt"
	AuthMethodOIDC   = "oidc"
)

const lastUsedTimeout = 5 * time.Second

var errUnauthenticated = errors.New("invalid credentials")

// UserStore loads users; implemented by repositories.UserRepository.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetOrCreateUserFromOIDC(ctx context.Context, oidcSub, email, name string) (*models.User, error)
}

// APIKeyStore looks up API keys; implemented by repositories.APIKeyRepository.
type APIKeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, keyID string) error
}

// PrincipalResolver turns an authenticated user into an access principal.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, userID string, superuser bool) (access.Principal, error)
}

// Authenticator verifies bearer tokens. A token with the API key prefix is
// checked against stored keys; anything else is tried as a session JWT and
// then, if OIDC is configured, as an identity-provider ID token.
// APIKeys and OIDC may be nil to disable those methods.
type Authenticator struct {
	Tokens     *auth.TokenIssuer
	OIDC       *auth.OIDCVerifier
	Users      UserStore
	APIKeys    APIKeyStore
	Principals PrincipalResolver
}

type identity struct {
	user     *models.User
	method   string
	apiKeyID string
}

// AuthMiddleware rejects requests without valid credentials and stores the
// caller's principal in the context.
func AuthMiddleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		id, err := a.authenticate(ctx, token)
		if err != nil {
			if errors.Is(err, errUnauthenticated) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
				return
			}
			slog.ErrorContext(ctx, "authentication failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
			return
		}

		principal, err := a.Principals.ResolvePrincipal(ctx, id.user.ID, id.user.IsSuperuser)
		if err != nil {
			slog.ErrorContext(ctx, "failed to resolve principal", "user_id", id.user.ID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load roles"})
			return
		}

		setIdentity(c, id, principal)
		c.Next()
	}
}

// OptionalAuthMiddleware behaves like AuthMiddleware but lets requests
// without usable credentials through as the anonymous principal.
func OptionalAuthMiddleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextPrincipal, access.AnonymousPrincipal())

		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		id, err := a.authenticate(ctx, token)
		if err != nil {
			if !errors.Is(err, errUnauthenticated) {
				slog.WarnContext(ctx, "optional authentication failed", "error", err)
			}
			c.Next()
			return
		}

		principal, err := a.Principals.ResolvePrincipal(ctx, id.user.ID, id.user.IsSuperuser)
		if err != nil {
			slog.WarnContext(ctx, "failed to resolve principal", "user_id", id.user.ID, "error", err)
			c.Next()
			return
		}

		setIdentity(c, id, principal)
		c.Next()
	}
}

func setIdentity(c *gin.Context, id *identity, principal access.Principal) {
	c.Set(ContextUser, id.user)
	c.Set(ContextUserID, id.user.ID)
	c.Set(ContextAuthMethod, id.method)
	if id.apiKeyID != "" {
		c.Set(ContextAPIKeyID, id.apiKeyID)
	}
	c.Set(ContextPrincipal, principal)
}

// PrincipalFrom returns the principal stored by the auth middleware, or the
// anonymous principal when there is none.
func PrincipalFrom(c *gin.Context) access.Principal {
	if v, ok := c.Get(ContextPrincipal); ok {
		if p, ok := v.(access.Principal); ok {
			return p
		}
	}
	return access.AnonymousPrincipal()
}

func (a *Authenticator) authenticate(ctx context.Context, token string) (*identity, error) {
	if auth.IsAPIKey(token) {
		return a.authenticateAPIKey(ctx, token)
	}

	if a.Tokens != nil {
		if claims, err := a.Tokens.Verify(token); err == nil {
			user, err := a.Users.GetUserByID(ctx, claims.UserID)
			if err != nil {
				return nil, fmt.Errorf("failed to load user: %w", err)
			}
			if user == nil {
				return nil, errUnauthenticated
			}
			return &identity{user: user, method: AuthMethodJWT}, nil
		}
	}

	if a.OIDC != nil {
		if claims, err := a.OIDC.Verify(ctx, token); err == nil {
			user, err := a.Users.GetOrCreateUserFromOIDC(ctx, claims.Subject, claims.Email, claims.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to provision OIDC user: %w", err)
			}
			return &identity{user: user, method: AuthMethodOIDC}, nil
		}
	}

	return nil, errUnauthenticated
}

// authenticateAPIKey narrows candidates by the stored plaintext prefix and
// runs bcrypt only on those rows.
func (a *Authenticator) authenticateAPIKey(ctx context.Context, token string) (*identity, error) {
	if a.APIKeys == nil {
		return nil, errUnauthenticated
	}

	candidates, err := a.APIKeys.GetAPIKeysByPrefix(ctx, auth.DisplayPrefix(token))
	if err != nil {
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	var key *models.APIKey
	for _, k := range candidates {
		if auth.ValidateAPIKey(token, k.KeyHash) {
			key = k
			break
		}
	}
	if key == nil {
		return nil, errUnauthenticated
	}
	if key.IsExpired(time.Now()) {
		return nil, fmt.Errorf("API key %s expired: %w", key.KeyPrefix, errUnauthenticated)
	}

	// Last-used tracking is best effort and must not delay the request.
	keyID := key.ID
	safego.Go("api-key-last-used", func() {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lastUsedTimeout)
		defer cancel()
		if err := a.APIKeys.UpdateLastUsed(uctx, keyID); err != nil {
			slog.Warn("failed to record API key use", "api_key_id", keyID, "error", err)
		}
	})

	user, err := a.Users.GetUserByID(ctx, key.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load API key owner: %w", err)
	}
	if user == nil {
		return nil, errUnauthenticated
	}
	return &identity{user: user, method: AuthMethodAPIKey, apiKeyID: key.ID}, nil
}
