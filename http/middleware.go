package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/hearth"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	// DefaultTimeout bounds reads and metadata updates.
	DefaultTimeout = 5 * time.Second

	// UploadTimeout bounds uploads and promotions, which move image bytes
	// and derive renditions.
	UploadTimeout = 2 * time.Minute

	// DefaultSignedURLMinutes is used when the server is not configured.
	DefaultSignedURLMinutes = 60

	// multipartOverhead is the slack allowed above the per-file caps for
	// multipart boundaries and headers.
	multipartOverhead = 1 << 20
)

// registerMiddleware sets up all middleware for the server.
func (s *Server) registerMiddleware() {
	// Recovery middleware
	s.echo.Use(middleware.Recover())

	// Request ID middleware
	s.echo.Use(middleware.RequestID())

	// Logger middleware with request ID
	s.echo.Use(s.requestLoggerMiddleware())

	// Prometheus instrumentation
	if s.metrics != nil {
		s.echo.Use(s.metrics.Middleware())
	}

	// CORS middleware (configure as needed)
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	// Custom error handler
	s.echo.HTTPErrorHandler = s.httpErrorHandler
}

// requestLoggerMiddleware creates a middleware that logs requests with context.
// The request-scoped logger is also attached to the request context so the
// media pipeline logs with the same attributes.
func (s *Server) requestLoggerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)

			// Create request-scoped logger
			logger := s.logger.With(
				slog.String("request_id", requestID),
				slog.String("method", c.Request().Method),
				slog.String("path", c.Path()),
			)
			c.Set("logger", logger)

			ctx := hearth.NewContextWithRequestID(c.Request().Context(), requestID)
			ctx = hearth.NewContextWithLogger(ctx, logger)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			// Log request completion
			duration := time.Since(start)
			status := c.Response().Status

			logAttrs := []any{
				slog.Int("status", status),
				slog.Duration("duration", duration),
			}

			if err != nil {
				logAttrs = append(logAttrs, slog.String("error", err.Error()))
				logger.Error("request failed", logAttrs...)
			} else if status >= 500 {
				logger.Error("request completed with server error", logAttrs...)
			} else if status >= 400 {
				logger.Warn("request completed with client error", logAttrs...)
			} else {
				logger.Info("request completed", logAttrs...)
			}

			return err
		}
	}
}

// httpErrorHandler handles errors and returns appropriate responses.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	// Check if it's an Echo HTTP error
	if he, ok := err.(*echo.HTTPError); ok {
		msg := he.Message
		if m, ok := msg.(string); ok {
			_ = c.JSON(he.Code, ErrorResponse{Error: httpErrorCode(he.Code), Message: m})
		} else {
			_ = c.JSON(he.Code, map[string]any{"error": msg})
		}
		return
	}

	// Handle domain errors
	_ = HandleError(c, s.getRequestLogger(c), err)
}

// uploadBodyLimit caps a multipart request at the per-file cap times the
// largest batch any policy accepts.
func (s *Server) uploadBodyLimit() echo.MiddlewareFunc {
	maxCount := 1
	for _, kind := range hearth.OwnerKinds {
		if policy, err := s.pipeline.Policy(kind); err == nil && policy.MaxCount > maxCount {
			maxCount = policy.MaxCount
		}
	}
	limit := s.MaxUploadBytes*int64(maxCount) + multipartOverhead

	return middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
		Limit: fmt.Sprintf("%dK", (limit+1023)/1024),
	})
}

// uploadMiddleware returns the middleware chain for upload routes.
func (s *Server) uploadMiddleware() []echo.MiddlewareFunc {
	mw := []echo.MiddlewareFunc{s.uploadBodyLimit()}
	if s.uploadLimiter != nil {
		mw = append(mw, s.uploadLimiter.Middleware())
	}
	return mw
}

// getRequestLogger retrieves the request-scoped logger from context.
func (s *Server) getRequestLogger(c echo.Context) *slog.Logger {
	if logger, ok := c.Get("logger").(*slog.Logger); ok {
		return logger
	}
	return s.logger
}
