package http

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/dukerupert/hearth"
	"github.com/labstack/echo/v4"
)

// idPattern restricts owner ids and registration tokens to one safe key
// segment.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// withTimeout creates a context with a timeout for handler operations.
func withTimeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), DefaultTimeout)
}

// withUploadTimeout creates a context for operations that move image bytes.
func withUploadTimeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), UploadTimeout)
}

// requireParam extracts a required route parameter, returning error if empty.
func requireParam(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	if value == "" {
		return "", hearth.Invalid("%s is required", name)
	}
	return value, nil
}

// requireID extracts a route parameter that becomes a key segment.
func requireID(c echo.Context, name string) (string, error) {
	value, err := requireParam(c, name)
	if err != nil {
		return "", err
	}
	if !idPattern.MatchString(value) {
		return "", hearth.Invalid("%s must be 1-100 letters, digits, '-' or '_'", name)
	}
	return value, nil
}

// requireOwner extracts the owner addressed by the :kind and :ownerId
// route parameters.
func requireOwner(c echo.Context) (hearth.Owner, error) {
	kind, err := hearth.ParseOwnerKind(c.Param("kind"))
	if err != nil {
		return hearth.Owner{}, err
	}
	id, err := requireID(c, "ownerId")
	if err != nil {
		return hearth.Owner{}, err
	}
	return hearth.Owner{Kind: kind, ID: id}, nil
}

// bind binds the request body to a struct and validates it.
func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return hearth.Invalid("Invalid request body")
	}
	if err := c.Validate(v); err != nil {
		return err
	}
	return nil
}

// log returns the request-scoped logger.
func (s *Server) log(c echo.Context) *slog.Logger {
	return s.getRequestLogger(c)
}

// observe records a pipeline operation when metrics are enabled.
func (s *Server) observe(op string, start time.Time, errp *error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, start, errp)
	}
}

// Health handlers
func (s *Server) handleHealthCheck(c echo.Context) error {
	return RespondOK(c, map[string]string{"status": "ok"})
}

func (s *Server) handleLivenessCheck(c echo.Context) error {
	return RespondOK(c, map[string]string{"status": "alive"})
}

func (s *Server) handleReadinessCheck(c echo.Context) error {
	if s.ready != nil {
		ctx, cancel := withTimeout(c)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.log(c).Warn("readiness check failed", slog.String("error", err.Error()))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return RespondOK(c, map[string]string{"status": "ready"})
}
