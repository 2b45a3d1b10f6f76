// @title           FieldSight Access API
// @version         1.0.0
// @description     Hierarchical role-based access control for FieldSight organizations, projects, regions and sites
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Session JWT, identity-provider ID token or API key: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated port (default: 9090), separate from the API listener. Configure it with FSA_TELEMETRY_METRICS_PROMETHEUS_PORT.

// Package main is the entry point for the FieldSight access service binary.
// It dispatches four subcommands (serve, migrate, create-superuser, version)
// via a switch on os.Args. The serve command runs auto-migration on startup.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/api"
	"github.com/fieldsight/fieldsight-access/internal/audit"
	"github.com/fieldsight/fieldsight-access/internal/auth"
	"github.com/fieldsight/fieldsight-access/internal/cache"
	"github.com/fieldsight/fieldsight-access/internal/config"
	"github.com/fieldsight/fieldsight-access/internal/db"
	"github.com/fieldsight/fieldsight-access/internal/db/models"
	"github.com/fieldsight/fieldsight-access/internal/db/repositories"
	"github.com/fieldsight/fieldsight-access/internal/events"
	"github.com/fieldsight/fieldsight-access/internal/jobs"
	"github.com/fieldsight/fieldsight-access/internal/middleware"
	"github.com/fieldsight/fieldsight-access/internal/safego"
	"github.com/fieldsight/fieldsight-access/internal/services"
	"github.com/fieldsight/fieldsight-access/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("FieldSight Access v%s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "create-superuser":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: %s create-superuser <email> <name>", os.Args[0])
		}
		return createSuperuser(cfg, os.Args[2], os.Args[3])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, create-superuser, version", command)
	}
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL, cfg.Server.DevMode)
	if err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(ctx, database)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	sqlxDB := sqlx.NewDb(database, "postgres")
	hierarchyRepo := repositories.NewHierarchyRepository(sqlxDB)
	roleRepo := repositories.NewRoleRepository(sqlxDB)
	userRepo := repositories.NewUserRepository(database)
	apiKeyRepo := repositories.NewAPIKeyRepository(database)
	auditRepo := repositories.NewAuditRepository(database)

	// Roles are read through Redis when it is configured; writes invalidate.
	var roles access.RoleStore = roleRepo
	var rdb redis.UniversalClient
	limitCfg := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		limitCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		limitCfg.BurstSize = cfg.Security.RateLimiting.Burst
	}
	var limiter middleware.Limiter
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		rdb = client
		roles = cache.NewRoleStore(roleRepo, client, cfg.Access.RoleCacheTTL)
		limiter = middleware.NewRedisRateLimiter(client, limitCfg)
		slog.Info("redis enabled", "addr", cfg.Redis.Addr)
	} else {
		memLimiter := middleware.NewRateLimiter(limitCfg)
		defer memLimiter.Stop()
		limiter = memLimiter
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.Kafka.Enabled {
		publisher = events.NewKafkaPublisher(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic, cfg.Events.Kafka.WriteTimeout)
		slog.Info("publishing role events to kafka", "topic", cfg.Events.Kafka.Topic, "brokers", cfg.Events.Kafka.Brokers)
	}
	defer publisher.Close()

	var shipper audit.Shipper
	if cfg.Audit.Enabled {
		ms, err := audit.NewMultiShipper(cfg.Audit.Shippers, audit.NewDatabaseShipper(auditRepo))
		if err != nil {
			return fmt.Errorf("failed to configure audit shippers: %w", err)
		}
		defer ms.Close()
		shipper = ms
		slog.Info("audit logging enabled", "shippers", ms.Len())
	}

	authority, err := access.NewAuthority()
	if err != nil {
		return fmt.Errorf("failed to load grant authority: %w", err)
	}
	graph := access.NewRoleGraph(hierarchyRepo, roles, cfg.Access.MaxHierarchyDepth)
	evaluator := access.NewEvaluator(graph)

	tasks := &safego.Group{}
	roleService := services.NewRoleService(services.RoleServiceDeps{
		Hierarchy: hierarchyRepo,
		Roles:     roles,
		Authority: authority,
		Publisher: publisher,
		Shipper:   shipper,
		Tasks:     tasks,
	})

	authenticator := &middleware.Authenticator{
		Tokens:     tokens,
		Users:      userRepo,
		Principals: roleService,
	}
	if cfg.Auth.APIKeys.Enabled {
		authenticator.APIKeys = apiKeyRepo
	}
	if cfg.Auth.OIDC.Enabled {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDC.IssuerURL, cfg.Auth.OIDC.ClientID)
		if err != nil {
			return fmt.Errorf("failed to initialise OIDC verifier: %w", err)
		}
		authenticator.OIDC = verifier
	}

	var auditPurger jobs.AuditPurger
	if cfg.Audit.Enabled {
		auditPurger = auditRepo
	}
	cleanup := jobs.NewCleanupJob(apiKeyRepo, auditPurger, cfg.Jobs)
	safego.Go("cleanup-job", func() { cleanup.Start(ctx) })
	defer cleanup.Stop()

	if cfg.Telemetry.Metrics.Enabled {
		startMetricsServer(cfg.Telemetry.Metrics.PrometheusPort)
	}

	router := api.NewRouter(api.Dependencies{
		Config:        cfg,
		DB:            database,
		Redis:         rdb,
		Logger:        slog.Default(),
		Authenticator: authenticator,
		Evaluator:     evaluator,
		Graph:         graph,
		Hierarchy:     hierarchyRepo,
		Roles:         roleService,
		Sites:         roleService,
		SiteRoles:     roleRepo,
		APIKeys:       apiKeyRepo,
		AuditLogs:     auditRepo,
		Limiter:       limiter,
		Shipper:       shipper,
		Tasks:         tasks,
	})

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "tls", cfg.Security.TLS.Enabled)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	// Audit writes and role events still in flight
	if err := tasks.Wait(shutdownCtx); err != nil {
		slog.Warn("background tasks did not finish before shutdown", "error", err)
	}
	if err := roleService.Wait(shutdownCtx); err != nil {
		slog.Warn("role side effects did not finish before shutdown", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// startMetricsServer serves /metrics on its own port so the scrape path stays
// off the public listener and outside the rate limiter.
func startMetricsServer(port int) {
	addr := fmt.Sprintf(":%d", port)
	safego.Go("metrics-server", func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("starting Prometheus metrics server", "addr", addr)
		srv := &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	})
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(context.Background(), cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}

// createSuperuser marks the user with email as a platform operator, creating
// the account first if needed, and prints a session token for first login.
func createSuperuser(cfg *config.Config, email, name string) error {
	ctx := context.Background()
	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	users := repositories.NewUserRepository(database)
	user, err := users.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		user = &models.User{Email: email, Name: name, IsSuperuser: true}
		if err := users.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
	} else if err := users.SetSuperuser(ctx, user.ID, true); err != nil {
		return fmt.Errorf("failed to promote user: %w", err)
	}

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL, cfg.Server.DevMode)
	if err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	token, err := tokens.Issue(user.ID, user.Email)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("superuser ready", "user_id", user.ID, "email", user.Email)
	fmt.Printf("user_id: %s\ntoken:   %s\n", user.ID, token)
	return nil
}
