// hierarchy.go implements read handlers for organizations, projects, regions and
// sites, the ancestry view and site deactivation. Every route is expected to sit
// behind middleware.RequireCapability so the handlers only load and render.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/audit"
	"github.com/fieldsight/fieldsight-access/internal/middleware"
)

// HierarchyStore reads hierarchy nodes.
type HierarchyStore interface {
	access.HierarchyStore
}

// SiteDeactivator deactivates a site and ends its roles; *services.RoleService implements it.
type SiteDeactivator interface {
	DeactivateSite(ctx context.Context, actor access.Principal, siteID int64) ([]access.Role, error)
}

// AncestryResolver resolves a site's ancestor chain; *access.RoleGraph implements it.
type AncestryResolver interface {
	AncestorsOf(ctx context.Context, siteID int64) (*access.Ancestry, error)
}

// HierarchyHandlers handles hierarchy endpoints
type HierarchyHandlers struct {
	store HierarchyStore
	graph AncestryResolver
	sites SiteDeactivator
}

// NewHierarchyHandlers creates a new HierarchyHandlers instance
func NewHierarchyHandlers(store HierarchyStore, graph AncestryResolver, sites SiteDeactivator) *HierarchyHandlers {
	return &HierarchyHandlers{store: store, graph: graph, sites: sites}
}

type nodeLoader func(ctx context.Context, id int64) (interface{}, error)

// node renders one hierarchy node with the read_only flag left by RequireCapability.
func (h *HierarchyHandlers) node(what string, load nodeLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id", what)
		if !ok {
			return
		}

		n, err := load(c.Request.Context(), id)
		if err != nil {
			respondError(c, err, "load "+what)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			what:        n,
			"read_only": c.GetBool(middleware.ContextReadOnly),
		})
	}
}

// @Summary      Get organization
// @Tags         Hierarchy
// @Security     Bearer
// @Produce      json
// @Param        id  path  int  true  "Organization ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /api/v1/organizations/{id} [get]
// GetOrganizationHandler returns an organization
// GET /api/v1/organizations/:id
func (h *HierarchyHandlers) GetOrganizationHandler() gin.HandlerFunc {
	return h.node("organization", func(ctx context.Context, id int64) (interface{}, error) {
		return h.store.GetOrganization(ctx, id)
	})
}

// GetProjectHandler returns a project
// GET /api/v1/projects/:id
func (h *HierarchyHandlers) GetProjectHandler() gin.HandlerFunc {
	return h.node("project", func(ctx context.Context, id int64) (interface{}, error) {
		return h.store.GetProject(ctx, id)
	})
}

// GetRegionHandler returns a region
// GET /api/v1/regions/:id
func (h *HierarchyHandlers) GetRegionHandler() gin.HandlerFunc {
	return h.node("region", func(ctx context.Context, id int64) (interface{}, error) {
		return h.store.GetRegion(ctx, id)
	})
}

// GetSiteHandler returns a site
// GET /api/v1/sites/:id
func (h *HierarchyHandlers) GetSiteHandler() gin.HandlerFunc {
	return h.node("site", func(ctx context.Context, id int64) (interface{}, error) {
		return h.store.GetSite(ctx, id)
	})
}

// @Summary      Site ancestry
// @Description  Returns the site's ancestor chain: enclosing sites, regions, project and organization, nearest first.
// @Tags         Hierarchy
// @Security     Bearer
// @Produce      json
// @Param        id  path  int  true  "Site ID"
// @Success      200  {object}  access.Ancestry
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /api/v1/sites/{id}/ancestry [get]
// SiteAncestryHandler returns a site's ancestry
// GET /api/v1/sites/:id/ancestry
func (h *HierarchyHandlers) SiteAncestryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		siteID, ok := parseID(c, "id", "site")
		if !ok {
			return
		}

		anc, err := h.graph.AncestorsOf(c.Request.Context(), siteID)
		if err != nil {
			respondError(c, err, "resolve ancestry")
			return
		}

		c.JSON(http.StatusOK, anc)
	}
}

// @Summary      Deactivate site
// @Description  Marks a site inactive and ends every role scoped to it. Sites are never deleted. Requires organization admin or project manager reach.
// @Tags         Hierarchy
// @Security     Bearer
// @Produce      json
// @Param        id  path  int  true  "Site ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /api/v1/sites/{id} [delete]
// DeactivateSiteHandler deactivates a site
// DELETE /api/v1/sites/:id
func (h *HierarchyHandlers) DeactivateSiteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		siteID, ok := parseID(c, "id", "site")
		if !ok {
			return
		}

		ended, err := h.sites.DeactivateSite(c.Request.Context(), middleware.PrincipalFrom(c), siteID)
		if err != nil {
			respondError(c, err, "deactivate site")
			return
		}

		c.Set(middleware.ContextAuditAction, audit.ActionSiteDeactivate)
		c.JSON(http.StatusOK, gin.H{"message": "Site deactivated", "site_id": siteID, "ended_roles": len(ended)})
	}
}
