// audit.go provides Gin middleware that records HTTP-level audit entries for
// mutations and access denials and hands them to the configured shippers.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/audit"
	"github.com/fieldsight/fieldsight-access/internal/config"
	"github.com/fieldsight/fieldsight-access/internal/safego"
)

const auditShipTimeout = 5 * time.Second

// AuditMiddleware ships an entry per request after the handler ran. Successful
// writes are always recorded; reads and failed requests follow cfg. Requests
// marked with ContextAuditAction (access denials) are recorded regardless.
// A nil cfg records successful writes only.
func AuditMiddleware(shipper audit.Shipper, cfg *config.AuditConfig, tasks *safego.Group) gin.HandlerFunc {
	if tasks == nil {
		tasks = &safego.Group{}
	}
	return func(c *gin.Context) {
		c.Next()

		if shipper == nil || c.Request.Method == http.MethodOptions {
			return
		}

		status := c.Writer.Status()
		action := c.GetString(ContextAuditAction)
		if action == "" {
			isRead := c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead
			isFailed := status >= 400
			logReads := cfg != nil && cfg.LogReadOperations
			logFailed := cfg != nil && cfg.LogFailedRequests
			if isRead && !logReads {
				return
			}
			if isFailed && !logFailed {
				return
			}
			route := c.FullPath()
			if route == "" {
				route = c.Request.URL.Path
			}
			action = c.Request.Method + " " + route
		}

		entry := &audit.LogEntry{
			Timestamp:  time.Now().UTC(),
			Action:     action,
			ActorID:    c.GetString(ContextUserID),
			IPAddress:  c.ClientIP(),
			AuthMethod: c.GetString(ContextAuthMethod),
			StatusCode: status,
		}
		if v, ok := c.Get(ContextResource); ok {
			if res, ok := v.(access.Resource); ok {
				entry.ResourceType = res.Kind.String()
				entry.ResourceID = audit.FormatID(res.ID)
			}
		}
		if v, ok := c.Get(ContextDecision); ok {
			if d, ok := v.(access.Decision); ok {
				entry.Decision = d.String()
			}
		}
		if rid := c.GetString(RequestIDKey); rid != "" {
			entry.Metadata = map[string]interface{}{"request_id": rid}
		}

		tasks.Detached(c.Request.Context(), "http-audit", auditShipTimeout, func(ctx context.Context) {
			if err := shipper.Ship(ctx, entry); err != nil {
				slog.WarnContext(ctx, "failed to ship audit entry", "action", entry.Action, "error", err)
			}
		})
	}
}
