package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/kanshi-backend/internal/config"
	"github.com/stemsi/kanshi-backend/internal/handler"
	"github.com/stemsi/kanshi-backend/internal/middleware"
	"github.com/stemsi/kanshi-backend/internal/response"
	"github.com/stemsi/kanshi-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Result  *handler.ResultHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	auth middleware.TokenValidator,
	limiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 1. Candidate Group (JWT) ──────────────────────────────────────
	attemptAPI := router.Group("/api/v1/attempts")
	attemptAPI.Use(
		middleware.RequireJWT(auth),
		middleware.RequireRole(service.RoleCandidate, service.RoleAdmin),
		middleware.NoStore(),
	)
	{
		attemptAPI.POST("/start", limiter.Middleware(), handlers.Attempt.StartAttempt)
		attemptAPI.POST("/submit", limiter.Middleware(), handlers.Attempt.SubmitAttempt)
		attemptAPI.GET("/state", handlers.Attempt.GetAttemptState)
	}

	driveAPI := router.Group("/api/v1/drives")
	driveAPI.Use(
		middleware.RequireJWT(auth),
		middleware.RequireRole(service.RoleCandidate, service.RoleAdmin),
		middleware.NoStore(),
	)
	{
		driveAPI.GET("/:drive_id/attempts/me", handlers.Attempt.ListMyAttempts)
	}

	// ─── 2. WebSocket Group (WS Auth) ──────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireWSAuth(auth),
		middleware.RequireRole(service.RoleCandidate, service.RoleAdmin),
	)
	{
		ws.GET("/attempts/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Staff Group (JWT + role) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireJWT(auth),
		middleware.RequireRole(service.RoleAdmin, service.RoleHR),
		middleware.NoStore(),
	)
	{
		adminAPI.GET("/drives/:drive_id/candidates/:user_id/attempts", handlers.Result.ListCandidateAttempts)
		adminAPI.GET("/drives/:drive_id/summary", handlers.Result.DriveSummary)
		adminAPI.GET("/drives/:drive_id/monitor", handlers.Monitor.MonitorDriveSSE)

		adminAPI.GET("/system/metrics",
			middleware.RequireRole(service.RoleAdmin),
			handlers.System.Metrics,
		)
	}

	return router
}
