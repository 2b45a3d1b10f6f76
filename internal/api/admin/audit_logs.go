// audit_logs.go implements the audit trail listing for platform operators.
package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldsight/fieldsight-access/internal/db/models"
	"github.com/fieldsight/fieldsight-access/internal/db/repositories"
	"github.com/fieldsight/fieldsight-access/internal/middleware"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// AuditLogLister reads the persisted audit trail.
type AuditLogLister interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

// AuditLogHandlers handles audit log endpoints
type AuditLogHandlers struct {
	logs AuditLogLister
}

// NewAuditLogHandlers creates a new AuditLogHandlers instance
func NewAuditLogHandlers(logs AuditLogLister) *AuditLogHandlers {
	return &AuditLogHandlers{logs: logs}
}

// @Summary      List audit logs
// @Description  Pages through the audit trail, newest first. Super admin only.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        user_id          query  string  false  "Actor user ID"
// @Param        organization_id  query  int     false  "Organization ID"
// @Param        action           query  string  false  "Action, e.g. role.grant"
// @Param        resource_type    query  string  false  "Resource type, e.g. site"
// @Param        since            query  string  false  "RFC3339 lower bound"
// @Param        limit            query  int     false  "Page size (default 50, max 500)"
// @Param        offset           query  int     false  "Offset"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /api/v1/audit-logs [get]
// ListAuditLogsHandler lists audit entries
// GET /api/v1/audit-logs
func (h *AuditLogHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !middleware.PrincipalFrom(c).IsSuperAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}

		var filters repositories.AuditFilters
		if v := c.Query("user_id"); v != "" {
			filters.UserID = &v
		}
		if v := c.Query("action"); v != "" {
			filters.Action = &v
		}
		if v := c.Query("resource_type"); v != "" {
			filters.ResourceType = &v
		}
		if v := c.Query("organization_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid organization_id"})
				return
			}
			filters.OrganizationID = &id
		}
		if v := c.Query("since"); v != "" {
			since, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since format. Use RFC3339"})
				return
			}
			filters.Since = &since
		}

		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultAuditPageSize)))
		if err != nil || limit <= 0 {
			limit = defaultAuditPageSize
		}
		if limit > maxAuditPageSize {
			limit = maxAuditPageSize
		}
		offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if err != nil || offset < 0 {
			offset = 0
		}

		logs, total, err := h.logs.ListAuditLogs(c.Request.Context(), filters, limit, offset)
		if err != nil {
			respondError(c, err, "list audit logs")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"logs":   logs,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}
