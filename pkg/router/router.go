// Package router assembles the gin engine and registers every route.
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"clinical-copilot/backend/internal/api"
	"clinical-copilot/backend/internal/ws"
	"clinical-copilot/backend/pkg/config"
	"clinical-copilot/backend/pkg/di"
	"clinical-copilot/backend/pkg/errors"
	"clinical-copilot/backend/pkg/logger"
	"clinical-copilot/backend/pkg/middleware"
)

// Router is the main router for the engine
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
}

// New creates a router around the given container and starts the audit
// feed hub.
func New(container *di.Container) *Router {
	cfg := container.Config

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(corsMiddleware(cfg))

	rateLimiterOpts := middleware.DefaultRateLimiterOptions()
	rateLimiterOpts.Limit = rate.Limit(cfg.Security.RateLimit)
	rateLimiterOpts.Burst = cfg.Security.RateLimitBurst
	rateLimiter := middleware.NewRateLimiter(container.Logger, rateLimiterOpts)
	engine.Use(rateLimiter.Middleware())

	go container.Hub.Run()

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
	}
}

// SetupRoutes registers all engine routes
func (r *Router) SetupRoutes() {
	// Health endpoints stay public: orchestrators probe them unauthenticated
	r.Engine.GET("/health", gin.WrapF(r.Container.Health.HTTPHandler()))
	r.Engine.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)})
	})
	r.Engine.GET("/health/ready", func(c *gin.Context) {
		if !r.Container.Health.IsSystemHealthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	jwtAuth := api.AuthMiddleware(r.Container.JWTService)

	turnController := api.NewTurnController(r.Container.Manager)
	sessionController := api.NewSessionController(r.Container.Manager)

	v1 := r.Engine.Group("/api/v1")
	v1.Use(jwtAuth)
	{
		turnController.RegisterRoutes(v1)
		sessionController.RegisterRoutes(v1)
	}

	// audit feed for monitoring clients
	r.Engine.GET("/ws/audit", jwtAuth, func(c *gin.Context) {
		ws.ServeWs(r.Container.Hub, c)
	})
}

func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Security.AllowedOrigins))
	allowAll := false
	for _, origin := range cfg.Security.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Authorization, Origin, Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
