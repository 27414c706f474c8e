package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// registerRoutes sets up all routes for the server.
// All routes are defined in this single file for easy navigation.
func (s *Server) registerRoutes() {
	// Health check routes (public)
	s.echo.GET("/health", s.handleHealthCheck)
	s.echo.GET("/health/live", s.handleLivenessCheck)
	s.echo.GET("/health/ready", s.handleReadinessCheck)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	// Objects of the local disk store
	if s.uploadsHandler != nil {
		h := echo.WrapHandler(http.StripPrefix("/uploads", s.uploadsHandler))
		s.echo.GET("/uploads/*", h)
		s.echo.HEAD("/uploads/*", h)
	}

	api := s.echo.Group("/api")

	// Owner images (units, sub-units, offers)
	api.POST("/:kind/:ownerId/images", s.handleUploadImages, s.uploadMiddleware()...)
	api.GET("/:kind/:ownerId/images", s.handleListImages)
	api.PUT("/:kind/:ownerId/images/order", s.handleReorderImages)
	api.DELETE("/:kind/:ownerId/images", s.handleDeleteImages)
	api.POST("/:kind/:ownerId/images/sweep", s.handleSweepImages)

	// Registration staging and approval
	api.POST("/registrations/:token/images", s.handleUploadStagingImages, s.uploadMiddleware()...)
	api.POST("/registrations/:token/promote", s.handlePromoteRegistration)

	// URLs
	api.GET("/media/url", s.handleSignedURL)
}
