// Package admin implements the authenticated HTTP handlers of the access service:
// role grants and revocations, hierarchy reads, access checks, API keys and the
// audit trail. Handlers read the caller's principal placed by the auth middleware;
// hierarchy routes are additionally guarded by middleware.RequireCapability.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fieldsight/fieldsight-access/internal/access"
)

// parseID reads a positive integer path parameter, answering 400 when it is malformed.
func parseID(c *gin.Context, param, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + what + " id"})
		return 0, false
	}
	return id, true
}

// respondError maps errors from the access core onto HTTP responses. Denials
// never carry detail. what completes the "Failed to ..." message of a 500.
func respondError(c *gin.Context, err error, what string) {
	var scopeErr *access.MissingScopeError
	var conflictErr *access.ScopeConflictError
	switch {
	case errors.As(err, &scopeErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid role",
			"fields": gin.H{scopeErr.Field.String(): scopeErr.Error()},
		})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid role",
			"fields": gin.H{conflictErr.Field.String(): conflictErr.Error()},
		})
	case errors.Is(err, access.ErrInvalidKind):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid role",
			"fields": gin.H{"kind": "unknown role kind"},
		})
	case errors.Is(err, access.ErrDuplicateRole):
		c.JSON(http.StatusConflict, gin.H{"error": "User role already exists"})
	case errors.Is(err, access.ErrRoleEnded):
		c.JSON(http.StatusConflict, gin.H{"error": "Role already ended"})
	case errors.Is(err, access.ErrDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, access.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	default:
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + what})
	}
}

func nonNil(roles []access.Role) []access.Role {
	if roles == nil {
		return []access.Role{}
	}
	return roles
}
