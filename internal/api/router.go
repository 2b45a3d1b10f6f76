// Package api wires together all HTTP routes for the FieldSight access service.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated probes.
//   - Role management, access evaluation, API keys and the audit trail require
//     an authenticated caller; the handlers or RoleService enforce who may act.
//   - Hierarchy reads accept anonymous callers so that the evaluator, not the
//     auth layer, produces the denial; every hierarchy route is guarded by
//     RequireCapability.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/api/admin"
	"github.com/fieldsight/fieldsight-access/internal/audit"
	"github.com/fieldsight/fieldsight-access/internal/config"
	"github.com/fieldsight/fieldsight-access/internal/middleware"
	"github.com/fieldsight/fieldsight-access/internal/safego"
)

// Version is reported by /version; release builds override it with -ldflags.
var Version = "0.1.0"

const probeTimeout = 2 * time.Second

// Dependencies are the collaborators mounted by NewRouter. Redis, Limiter and
// Shipper may be nil.
type Dependencies struct {
	Config        *config.Config
	DB            *sql.DB
	Redis         redis.UniversalClient
	Logger        *slog.Logger
	Authenticator *middleware.Authenticator
	Evaluator     middleware.Evaluator
	Graph         admin.AncestryResolver
	Hierarchy     admin.HierarchyStore
	Roles         admin.RoleManager
	Sites         admin.SiteDeactivator
	SiteRoles     admin.SiteRoleLister
	APIKeys       admin.APIKeyStore
	AuditLogs     admin.AuditLogLister
	Limiter       middleware.Limiter
	Shipper       audit.Shipper
	Tasks         *safego.Group
}

// NewRouter creates and configures the Gin router
func NewRouter(d Dependencies) *gin.Engine {
	cfg := d.Config
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware(d.Logger))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS.AllowedOrigins, cfg.Security.CORS.AllowedMethods))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	if cfg.Audit.Enabled && d.Shipper != nil {
		router.Use(middleware.AuditMiddleware(d.Shipper, &cfg.Audit, d.Tasks))
	}

	router.GET("/health", healthCheckHandler(d.DB))
	router.GET("/ready", readinessHandler(d.DB, d.Redis))
	router.GET("/version", versionHandler())

	roleHandlers := admin.NewRoleHandlers(d.Roles, d.SiteRoles)
	hierarchyHandlers := admin.NewHierarchyHandlers(d.Hierarchy, d.Graph, d.Sites)
	evaluateHandlers := admin.NewEvaluateHandlers(d.Evaluator)
	apiKeyHandlers := admin.NewAPIKeyHandlers(d.APIKeys)
	auditLogHandlers := admin.NewAuditLogHandlers(d.AuditLogs)

	var rateLimit []gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled && d.Limiter != nil {
		rateLimit = append(rateLimit, middleware.RateLimitMiddleware(d.Limiter))
	}

	// Authenticated routes
	authenticated := router.Group("/api/v1")
	authenticated.Use(middleware.AuthMiddleware(d.Authenticator))
	authenticated.Use(rateLimit...)
	{
		authenticated.POST("/access/evaluate", evaluateHandlers.EvaluateHandler())

		authenticated.GET("/me/roles", roleHandlers.MyRolesHandler())
		authenticated.GET("/users/:id/roles", roleHandlers.UserRolesHandler())
		authenticated.POST("/roles", roleHandlers.GrantRoleHandler())
		authenticated.POST("/roles/:id/end", roleHandlers.EndRoleHandler())

		authenticated.GET("/apikeys", apiKeyHandlers.ListAPIKeysHandler())
		authenticated.POST("/apikeys", apiKeyHandlers.CreateAPIKeyHandler())
		authenticated.DELETE("/apikeys/:id", apiKeyHandlers.RevokeAPIKeyHandler())

		authenticated.GET("/audit-logs", auditLogHandlers.ListAuditLogsHandler())
	}

	// Hierarchy routes; the evaluator decides, including for anonymous callers
	hierarchy := router.Group("/api/v1")
	hierarchy.Use(middleware.OptionalAuthMiddleware(d.Authenticator))
	hierarchy.Use(rateLimit...)
	{
		ev := d.Evaluator
		hierarchy.GET("/organizations/:id",
			middleware.RequireCapability(ev, access.ResourceOrganization, "id", access.CapabilityRead),
			hierarchyHandlers.GetOrganizationHandler())
		hierarchy.GET("/projects/:id",
			middleware.RequireCapability(ev, access.ResourceProject, "id", access.CapabilityRead),
			hierarchyHandlers.GetProjectHandler())
		hierarchy.GET("/regions/:id",
			middleware.RequireCapability(ev, access.ResourceRegion, "id", access.CapabilityRead),
			hierarchyHandlers.GetRegionHandler())

		siteRead := middleware.RequireCapability(ev, access.ResourceSite, "id", access.CapabilityRead)
		hierarchy.GET("/sites/:id", siteRead, hierarchyHandlers.GetSiteHandler())
		hierarchy.GET("/sites/:id/ancestry", siteRead, hierarchyHandlers.SiteAncestryHandler())
		hierarchy.GET("/sites/:id/roles", siteRead, roleHandlers.SiteRolesHandler())
		hierarchy.DELETE("/sites/:id",
			middleware.RequireCapability(ev, access.ResourceSite, "id", access.CapabilityDelete),
			hierarchyHandlers.DeactivateSiteHandler())
	}

	return router
}

// @Summary      Health check
// @Description  Returns the health status of the service. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when configured, Redis.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: dependency not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. Unlike /health
// it also probes Redis, which backs the role cache and the rate limiter.
func readinessHandler(db *sql.DB, rdb redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
		defer cancel()
		checks := gin.H{}

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the service version and the API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
