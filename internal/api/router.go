package api

import (
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"videovoice/internal/config"
	"videovoice/pkg/logger"
	"videovoice/pkg/middleware"
)

// SetupRoutes wires the control plane's verbs behind the shared
// middleware chain: recovery, request logging, compression, CORS, rate
// limiting, and (when enabled) API-key auth.
func SetupRoutes(handler *Handler, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	logger.SetGinOutput()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinLogger())
	router.Use(middleware.Compression())
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	limiter := NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	router.Use(limiter.Middleware())

	router.GET("/health", handler.HealthCheck)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiGroup := router.Group("/api")
	if cfg.APIKeyAuth {
		apiGroup.Use(middleware.APIKeyAuth(cfg.JWTSecret))
	}
	{
		apiGroup.POST("/jobs", handler.CreateJob)
		apiGroup.GET("/jobs/:id", handler.GetJob)
		apiGroup.POST("/jobs/:id/cancel", handler.CancelJob)
		apiGroup.GET("/jobs/:id/download", handler.DownloadArtifact)
		apiGroup.GET("/jobs/:id/srt", handler.DownloadCaptions)
		apiGroup.GET("/system/status", handler.SystemStatus)
	}

	return router
}

// corsMiddleware echoes the request origin when it is allow-listed (or
// when no allow-list is configured, for local development).
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (len(allowed) == 0 || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-API-Key")
		c.Header("Access-Control-Max-Age", (12 * time.Hour).String())

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
