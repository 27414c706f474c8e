package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Respond sends a JSON response with the given status code and data.
func Respond(c echo.Context, status int, data any) error {
	return c.JSON(status, data)
}

// RespondOK sends a 200 OK response with the given data.
func RespondOK(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// RespondCreated sends a 201 Created response with the given data.
func RespondCreated(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}

// RespondNoContent sends a 204 No Content response.
func RespondNoContent(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// ListResponse represents a list response.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// RespondList sends a list response.
func RespondList[T any](c echo.Context, data []T) error {
	return c.JSON(http.StatusOK, ListResponse[T]{
		Data:  data,
		Total: len(data),
	})
}
