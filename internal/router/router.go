package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/vidassess/internal/config"
	"github.com/stemsi/vidassess/internal/handler"
	"github.com/stemsi/vidassess/internal/middleware"
	"github.com/stemsi/vidassess/internal/response"
	"github.com/stemsi/vidassess/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Health    *handler.HealthHandler
	VideoTest *handler.VideoTestHandler
	Stream    *handler.StreamHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// The returned limiter must be stopped on shutdown.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) (*gin.Engine, *middleware.RateLimiter) {
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

	// ─── Health ────────────────────────────────────────────────────────
	router.GET("/health", handlers.Health.Live)
	router.GET("/ready", handlers.Health.Ready)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.NoStore(),
		middleware.Brotli(),
	)
	{
		studentAPI.GET("/video-tests/:course_id/questions", handlers.VideoTest.GetQuestions)
		studentAPI.GET("/video-tests/:course_id/submissions", handlers.VideoTest.ListSubmissions)
	}

	// ─── 2. WebSocket Group (Student WS Auth, Rate Limited) ────────────
	// Opening a visit fetches questions and takes a Redis lock; a burst of
	// 10 opens per student, refilled every 6s, is plenty for page reloads.
	openLimiter := middleware.NewRateLimiter(10, 6*time.Second)

	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService), openLimiter.Middleware())
	{
		ws.GET("/student/video-tests/:course_id/stream", handlers.Stream.VideoTestStream)
	}

	return router, openLimiter
}
