package http

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/hearth"
	"github.com/labstack/echo/v4"
)

// errorStatusCode maps domain error codes to HTTP status codes.
func errorStatusCode(code string) int {
	switch code {
	case hearth.ENOTFOUND:
		return http.StatusNotFound
	case hearth.EINVALID:
		return http.StatusBadRequest
	case hearth.ECONFLICT:
		return http.StatusConflict
	case hearth.EUNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// httpErrorCode maps statuses raised by echo itself (routing, body limit,
// rate limit) to an error code for the response body.
func httpErrorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return hearth.ENOTFOUND
	case http.StatusMethodNotAllowed, http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return hearth.EINVALID
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return hearth.EUNAVAILABLE
	default:
		if status < 500 {
			return hearth.EINVALID
		}
		return hearth.EINTERNAL
	}
}

// ErrorResponse represents the JSON error response format.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// HandleError converts domain errors to appropriate HTTP responses.
// It logs internal errors and returns user-safe messages.
func HandleError(c echo.Context, logger *slog.Logger, err error) error {
	code := hearth.ErrorCode(err)
	message := hearth.ErrorMessage(err)
	fields := hearth.ErrorFields(err)
	status := errorStatusCode(code)

	switch code {
	case hearth.EINTERNAL:
		logger.Error("internal error",
			slog.String("error", err.Error()),
			slog.String("path", c.Path()),
			slog.String("method", c.Request().Method),
		)
		// Don't expose internal error details to clients
		message = "An internal error occurred."
	case hearth.EUNAVAILABLE:
		logger.Warn("storage unavailable",
			slog.String("error", err.Error()),
			slog.String("path", c.Path()),
		)
		c.Response().Header().Set("Retry-After", "1")
	}

	return c.JSON(status, ErrorResponse{
		Error:   code,
		Message: message,
		Fields:  fields,
	})
}
