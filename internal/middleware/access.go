// access.go guards routes that address a single hierarchy node. The decision
// comes from the access evaluator; the handler only runs when it permits the
// requested capability.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/audit"
)

// gin.Context keys populated by RequireCapability.
const (
	ContextResource    = "access_resource"
	ContextDecision    = "access_decision"
	ContextReadOnly    = "read_only"
	ContextAuditAction = "audit_action"
)

// Evaluator decides access; implemented by access.Evaluator.
type Evaluator interface {
	Evaluate(ctx context.Context, p access.Principal, res access.Resource, capability access.Capability) (access.Decision, error)
}

// RequireCapability evaluates the caller against the node of kind whose id is
// the route parameter param. Denials answer 403 without detail, unknown nodes
// 404. Evaluation errors other than not-found deny.
func RequireCapability(ev Evaluator, kind access.ResourceKind, param string, capability access.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param(param), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid " + kind.String() + " id"})
			return
		}

		res := access.Resource{Kind: kind, ID: id}
		c.Set(ContextResource, res)

		ctx := c.Request.Context()
		decision, err := ev.Evaluate(ctx, PrincipalFrom(c), res, capability)
		c.Set(ContextDecision, decision)

		switch {
		case errors.Is(err, access.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		case err != nil:
			slog.ErrorContext(ctx, "access evaluation failed", "resource", res.String(), "error", err)
			c.Set(ContextAuditAction, audit.ActionAccessDenied)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		case !decision.Permits(capability):
			c.Set(ContextAuditAction, audit.ActionAccessDenied)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}

		c.Set(ContextReadOnly, decision == access.GrantedReadOnly)
		c.Next()
	}
}

// RequireAuthenticated rejects the anonymous principal with 401.
func RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p := PrincipalFrom(c); p.Anonymous || p.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Next()
	}
}
