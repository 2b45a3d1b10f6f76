// roles.go implements handlers for granting, ending and listing user roles.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/middleware"
)

// RoleManager is the role lifecycle used by the handlers; services.RoleService implements it.
type RoleManager interface {
	Grant(ctx context.Context, actor access.Principal, draft access.RoleDraft) (*access.Role, error)
	End(ctx context.Context, actor access.Principal, roleID int64) (*access.Role, error)
	UserRoles(ctx context.Context, actor access.Principal, targetID string) ([]access.Role, error)
}

// SiteRoleLister lists the active roles attached to a site.
type SiteRoleLister interface {
	ListSiteRoles(ctx context.Context, siteID int64) ([]access.Role, error)
}

// RoleHandlers handles role management endpoints
type RoleHandlers struct {
	roles     RoleManager
	siteRoles SiteRoleLister
}

// NewRoleHandlers creates a new RoleHandlers instance
func NewRoleHandlers(roles RoleManager, siteRoles SiteRoleLister) *RoleHandlers {
	return &RoleHandlers{roles: roles, siteRoles: siteRoles}
}

// GrantRoleRequest is the body of POST /api/v1/roles. Organization and project
// references are derived from the narrowest scope supplied.
type GrantRoleRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	Kind           string `json:"kind" binding:"required"`
	OrganizationID *int64 `json:"organization_id"`
	ProjectID      *int64 `json:"project_id"`
	RegionID       *int64 `json:"region_id"`
	SiteID         *int64 `json:"site_id"`
	StaffProjectID *int64 `json:"staff_project_id"`
}

// @Summary      Grant role
// @Description  Assigns a role to a user. The caller must administer the role's scope. Any Unassigned role of the user is ended.
// @Tags         Roles
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  GrantRoleRequest  true  "Role to grant"
// @Success      201  {object}  access.Role
// @Failure      400  {object}  map[string]interface{}  "Invalid request or missing scope"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      404  {object}  map[string]interface{}  "Referenced node not found"
// @Failure      409  {object}  map[string]interface{}  "User role already exists"
// @Router       /api/v1/roles [post]
// GrantRoleHandler grants a role
// POST /api/v1/roles
func (h *RoleHandlers) GrantRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GrantRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		kind, err := access.ParseRoleKind(req.Kind)
		if err != nil {
			respondError(c, err, "grant role")
			return
		}

		role, err := h.roles.Grant(c.Request.Context(), middleware.PrincipalFrom(c), access.RoleDraft{
			UserID:         req.UserID,
			Kind:           kind,
			OrganizationID: req.OrganizationID,
			ProjectID:      req.ProjectID,
			RegionID:       req.RegionID,
			SiteID:         req.SiteID,
			StaffProjectID: req.StaffProjectID,
		})
		if err != nil {
			respondError(c, err, "grant role")
			return
		}

		c.JSON(http.StatusCreated, role)
	}
}

// @Summary      End role
// @Description  Soft-revokes a role by stamping its end time. The row is kept for history.
// @Tags         Roles
// @Security     Bearer
// @Produce      json
// @Param        id  path  int  true  "Role ID"
// @Success      200  {object}  access.Role
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      404  {object}  map[string]interface{}  "Role not found"
// @Failure      409  {object}  map[string]interface{}  "Role already ended"
// @Router       /api/v1/roles/{id}/end [post]
// EndRoleHandler ends a role
// POST /api/v1/roles/:id/end
func (h *RoleHandlers) EndRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		roleID, ok := parseID(c, "id", "role")
		if !ok {
			return
		}

		role, err := h.roles.End(c.Request.Context(), middleware.PrincipalFrom(c), roleID)
		if err != nil {
			respondError(c, err, "end role")
			return
		}

		c.JSON(http.StatusOK, role)
	}
}

// MyRolesHandler returns the caller's active roles as loaded at authentication.
// GET /api/v1/me/roles
func (h *RoleHandlers) MyRolesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.PrincipalFrom(c)
		c.JSON(http.StatusOK, gin.H{
			"user_id":     p.UserID,
			"super_admin": p.IsSuperAdmin(),
			"roles":       nonNil(p.Roles),
		})
	}
}

// @Summary      List user roles
// @Description  Returns a user's active roles. Visible to the user, super admins and organization admins of an organization the user holds a role in.
// @Tags         Roles
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "User ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /api/v1/users/{id}/roles [get]
// UserRolesHandler lists a user's active roles
// GET /api/v1/users/:id/roles
func (h *RoleHandlers) UserRolesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		targetID := c.Param("id")
		roles, err := h.roles.UserRoles(c.Request.Context(), middleware.PrincipalFrom(c), targetID)
		if err != nil {
			respondError(c, err, "list roles")
			return
		}

		c.JSON(http.StatusOK, gin.H{"user_id": targetID, "roles": nonNil(roles)})
	}
}

// SiteRolesHandler lists the active roles attached to a site. The route must
// be guarded by RequireCapability(site, read).
// GET /api/v1/sites/:id/roles
func (h *RoleHandlers) SiteRolesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		siteID, ok := parseID(c, "id", "site")
		if !ok {
			return
		}

		roles, err := h.siteRoles.ListSiteRoles(c.Request.Context(), siteID)
		if err != nil {
			respondError(c, err, "list site roles")
			return
		}

		c.JSON(http.StatusOK, gin.H{"site_id": siteID, "roles": nonNil(roles)})
	}
}
