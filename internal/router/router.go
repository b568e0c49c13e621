package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	registry *service.SessionRegistry,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.GinMode != gin.ReleaseMode {
		router.Use(gin.Logger())
	}

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	apiLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(apiLimiter.Middleware(), middleware.RequireStudentJWT(authService), middleware.NoStore())
	{
		studentAPI.GET("/packages/:package_id/session", middleware.RequireLiveSession(registry), handlers.Session.GetSession)
		studentAPI.GET("/attempts/:attempt_id/events", handlers.Session.ListEvents)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	// Reconnect storms are throttled per IP before the token is checked.
	wsLimiter := middleware.NewRateLimiter(cfg.WSConnectPerMinute, time.Minute)
	ws := router.Group("/ws/v1")
	ws.Use(wsLimiter.Middleware(), middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/packages/:package_id/session", handlers.WS.SessionStream)
	}

	return router
}
