package api

import (
	"songshare/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	// Rate limiter on upload endpoint only
	limiter := newUploadLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	e.GET("/", handler.HandleRoot)
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Songs
	e.POST("/api/songs/upload", handler.HandleUpload, limiter.Middleware())
	e.GET("/api/songs", handler.HandleListSongs)
	e.GET("/api/songs/:slug", handler.HandleGetSong)
	e.GET("/api/songs/:slug/download", handler.HandleDownload)

	// Analytics
	e.GET("/api/analytics/overview", handler.HandleAnalyticsOverview)

	return e
}
