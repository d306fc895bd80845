// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/peakself/attribution-go/internal/application/container"
	"github.com/peakself/attribution-go/internal/presentation/http/handlers"
	"github.com/peakself/attribution-go/internal/presentation/http/middleware"
)

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	Cookies        handlers.CookieOptions
}

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container, opts Options) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware(opts.AllowedOrigins))

	// Initialize handlers
	trackHandlers := handlers.NewTrackHandlers(container.TrackingService, opts.Cookies, container.Logger, container.PerfTracker)
	adminHandlers := handlers.NewAdminHandlers(container.AuthService, container.ReportingService, container.Logger, container.PerfTracker)
	liveHandlers := handlers.NewLiveHandlers(container.LiveHub, container.AuthService, container.Logger)
	healthHandlers := handlers.NewHealthHandlers(container.DB)

	r.POST("/track", trackHandlers.PostTrack)

	api := r.Group("/api")
	{
		api.POST("/track", trackHandlers.PostTrack)
		api.GET("/health", healthHandlers.Health)
		api.GET("/ready", healthHandlers.Ready)
	}

	admin := api.Group("/admin")
	{
		admin.GET("/auth", adminHandlers.AuthCheck)
		admin.POST("/login", adminHandlers.Login)

		// the websocket checks its own query token
		admin.GET("/live", liveHandlers.ServeLive)

		// Authenticated endpoints
		protected := admin.Group("")
		protected.Use(adminHandlers.AdminAuthMiddleware())
		{
			protected.GET("/sessions", adminHandlers.ListSessions)
			protected.GET("/sessions/:id", adminHandlers.GetSession)
			protected.GET("/sessions/:id/events", adminHandlers.GetSessionEvents)
			protected.GET("/visitors/:id", adminHandlers.GetVisitor)
			protected.GET("/accounts/:id/sessions", adminHandlers.GetAccountSessions)
			protected.GET("/dashboard", adminHandlers.Dashboard)
			protected.GET("/live/stats", liveHandlers.GetLiveStats)
			protected.GET("/performance", adminHandlers.GetPerformance)
			protected.GET("/logs/levels", adminHandlers.GetLogLevels)
			protected.POST("/logs/levels", adminHandlers.SetLogLevel)
		}
	}

	return r
}
