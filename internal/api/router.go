// Package api provides HTTP handlers for the gateway's data and management planes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/middleware"
	"github.com/clawbridge/clawbridge/internal/ratelimit"
	"github.com/clawbridge/clawbridge/internal/security"
	"github.com/clawbridge/clawbridge/internal/ws"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Log             *logrus.Logger
	Gateway         Gateway
	Policy          PolicyAdmin
	Pending         PendingAdmin
	Audit           AuditRepository
	Backend         BackendStatus
	Hub             *ws.Hub
	Limiter         *ratelimit.Limiter
	Guard           *security.BruteForceGuard
	ManagementToken string
	CORSOrigins     []string
	Version         string
}

// Router-level limits.
const (
	maxBodySize     = 1 << 20 // 1 MB
	adminRateLimit  = 120     // management requests per minute per address
	adminRateScope  = "admin"
	healthRateLimit = 600
	healthRateScope = "health"
)

// setupMiddleware configures all middleware on the Gin engine.
func setupMiddleware(r *gin.Engine, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(ginLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MaxBodySize(maxBodySize))
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     deps.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			MaxAge:           1 * time.Hour,
			AllowCredentials: false,
		}))
	}
	r.Use(middleware.Prometheus())

	// Metrics endpoint (unauthenticated, like health).
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// registerRoutes sets up every route on the engine.
func registerRoutes(ctx context.Context, r *gin.Engine, deps *RouterDeps) {
	log := deps.Log

	health := NewHealthHandler(deps.Backend, deps.Policy, deps.Hub, log, deps.Version)
	states := NewStateHandler(deps.Gateway, log)
	services := NewServiceHandler(deps.Gateway, log)
	history := NewHistoryHandler(deps.Gateway, log)

	// Health and readiness are unauthenticated.
	ops := r.Group("", middleware.RateLimit(deps.Limiter, healthRateScope, healthRateLimit, log))
	ops.GET("/health", health.Liveness)
	ops.GET("/ready", health.Readiness)

	// The websocket authenticates in-protocol so it sits outside the gateway check.
	r.GET("/api/websocket", wsHandler(ctx, log, deps.Hub, deps.CORSOrigins))

	api := r.Group("/api", middleware.Gateway(deps.Gateway, log))
	api.GET("/states", states.List)
	api.GET("/states/:entity_id", states.Get)
	api.GET("/context", states.Context)
	api.GET("/services", services.List)
	api.POST("/services/:domain/:service", services.Call)
	api.GET("/confirm/:action_id", services.ConfirmStatus)
	api.GET("/history/period/:start", history.Period)

	registerAdminRoutes(r, deps)
}

// registerAdminRoutes sets up the management plane.
func registerAdminRoutes(r *gin.Engine, deps *RouterDeps) {
	log := deps.Log

	entities := NewEntityHandler(deps.Policy, log)
	keys := NewKeyHandler(deps.Policy, log)
	schedules := NewScheduleHandler(deps.Policy, log)
	groups := NewGroupHandler(deps.Policy, log)
	presets := NewPresetHandler(deps.Policy, log)
	pending := NewPendingHandler(deps.Pending, log)
	audit := NewAuditHandler(deps.Audit, log)
	backup := NewExportImportHandler(deps.Policy, log)

	admin := r.Group("/admin",
		middleware.RateLimit(deps.Limiter, adminRateScope, adminRateLimit, log),
		middleware.ManagementAuth(deps.ManagementToken, deps.Guard, log),
	)

	// Entities and per-entity policy.
	admin.GET("/entities", entities.List)
	admin.PUT("/entities", entities.Replace)
	admin.PUT("/entities/:entity_id", entities.SetAccess)
	admin.DELETE("/entities/:entity_id", entities.Remove)
	admin.GET("/annotations", entities.Annotations)
	admin.PUT("/annotations/:entity_id", entities.SetAnnotation)
	admin.GET("/constraints", entities.Constraints)
	admin.PUT("/constraints/:entity_id", entities.SetConstraints)
	admin.GET("/settings", entities.Settings)
	admin.PUT("/settings", entities.UpdateSettings)

	// API keys.
	admin.GET("/keys", keys.List)
	admin.POST("/keys", keys.Create)
	admin.DELETE("/keys/:id", keys.Delete)

	// Schedules.
	admin.GET("/schedules", schedules.List)
	admin.POST("/schedules", schedules.Create)
	admin.PUT("/schedules/:id", schedules.Update)
	admin.DELETE("/schedules/:id", schedules.Delete)
	admin.GET("/entity-schedules", schedules.Assignments)
	admin.PUT("/entity-schedules/:entity_id", schedules.Assign)

	// Groups.
	admin.GET("/groups", groups.List)
	admin.POST("/groups", groups.Create)
	admin.PUT("/groups/:id", groups.Update)
	admin.DELETE("/groups/:id", groups.Delete)
	admin.POST("/groups/:id/access", groups.SetAccess)

	// Presets.
	admin.GET("/presets", presets.List)
	admin.POST("/presets", presets.Save)
	admin.GET("/presets/:name", presets.Get)
	admin.POST("/presets/:name/apply", presets.Apply)
	admin.DELETE("/presets/:name", presets.Delete)

	// Pending confirmations.
	admin.GET("/pending", pending.List)
	admin.POST("/pending/:action_id/approve", pending.Approve)
	admin.POST("/pending/:action_id/deny", pending.Deny)

	// Audit.
	admin.GET("/audit", audit.Query)
	admin.GET("/audit/stats", audit.Stats)
	admin.DELETE("/audit", audit.Clear)
	admin.POST("/audit/retain", audit.Retain)

	// Backup and restore.
	admin.GET("/config/export", backup.Export)
	admin.POST("/config/import", backup.Import)
	admin.POST("/config/import/validate", backup.Validate)
}

// NewRouter creates and configures the Gin engine with all middleware and routes.
func NewRouter(ctx context.Context, deps *RouterDeps) http.Handler {
	r := gin.New()
	setupMiddleware(r, deps)
	registerRoutes(ctx, r, deps)

	return r
}
